package intent

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/karmayogi/saarthi/internal/inference"
)

const classifyTimeout = 3 * time.Second

// Chatter is the interface for chat completion against the inference
// collaborator.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []inference.Message, schema *inference.Schema) (string, error)
}

// Classifier maps canonical text to a taxonomy label with a confidence score.
type Classifier struct {
	client    Chatter
	model     string
	threshold float64
	logger    *slog.Logger
}

// NewClassifier creates a Classifier. Confidence below threshold coerces the
// result to GENERAL_SUPPORT.
func NewClassifier(client Chatter, model string, threshold float64) *Classifier {
	if threshold <= 0 || threshold >= 1 {
		threshold = 0.55
	}
	return &Classifier{
		client:    client,
		model:     model,
		threshold: threshold,
		logger:    slog.Default(),
	}
}

type modelOutput struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Classify returns a label from the fixed taxonomy. It never fails: primary
// inference errors, timeouts, malformed output, and unknown labels all fall
// back to the keyword matcher, and low confidence coerces to GENERAL_SUPPORT.
// When degraded is true (translation fell through, text may not be canonical)
// the model is skipped and the keyword matcher runs directly.
func (c *Classifier) Classify(ctx context.Context, text string, history []inference.Message, degraded bool) Result {
	if text == "" {
		return Result{Label: GeneralSupport, Confidence: 0, Source: "coerced"}
	}

	var res Result
	if degraded {
		res = Match(text)
	} else {
		res = c.classifyWithModel(ctx, text, history)
	}

	if res.Confidence < c.threshold && res.Label != GeneralSupport {
		c.logger.Debug("coercing low-confidence classification",
			"label", res.Label, "confidence", res.Confidence)
		return Result{Label: GeneralSupport, Confidence: res.Confidence, Source: "coerced"}
	}
	return res
}

func (c *Classifier) classifyWithModel(ctx context.Context, text string, history []inference.Message) Result {
	ctx, cancel := context.WithTimeout(ctx, classifyTimeout)
	defer cancel()

	raw, err := c.client.Chat(ctx, c.model, buildPrompt(text, history), classificationSchema())
	if err != nil {
		c.logger.Warn("intent classification chat failed, using keyword fallback", "error", err)
		return Match(text)
	}

	var out modelOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		c.logger.Warn("failed to unmarshal intent from model response, using keyword fallback",
			"error", err, "response", raw)
		return Match(text)
	}

	label := Label(out.Label)
	if !Valid(label) {
		c.logger.Warn("model returned unknown intent label, using keyword fallback", "label", out.Label)
		return Match(text)
	}

	return Result{Label: label, Confidence: out.Confidence, Source: "model"}
}
