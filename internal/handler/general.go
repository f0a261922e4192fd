package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/karmayogi/saarthi/internal/intent"
	"github.com/karmayogi/saarthi/internal/kb"
)

// GeneralSupport answers anything not claimed by a specialist handler.
// It searches the knowledge base and composes an answer from the top
// passages; when the KB is unreachable it still replies with a safe
// default rather than failing the turn.
type GeneralSupport struct {
	kb   KBSearcher
	topK int
}

// NewGeneralSupport creates the fallback handler.
func NewGeneralSupport(searcher KBSearcher, topK int) *GeneralSupport {
	if topK <= 0 {
		topK = 5
	}
	return &GeneralSupport{kb: searcher, topK: topK}
}

func (h *GeneralSupport) Name() string { return "general_support" }

func (h *GeneralSupport) Supports(label intent.Label) bool {
	return label == intent.GeneralSupport
}

func (h *GeneralSupport) Budget() time.Duration { return 6 * time.Second }

func (h *GeneralSupport) Dependencies() []string { return []string{"kb"} }

const defaultReply = "I can help with your profile, certificates, course progress, and support tickets. Could you tell me a bit more about what you need?"

func (h *GeneralSupport) Handle(ctx context.Context, hctx *Context, input string) (Result, error) {
	passages, err := h.kb.Search(ctx, input, h.topK)
	if err != nil {
		if errors.Is(err, kb.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
			return Result{Reply: defaultReply}, nil
		}
		return Result{}, err
	}
	if len(passages) == 0 {
		return Result{Reply: defaultReply}, nil
	}

	var b strings.Builder
	b.WriteString("Here is what I found:\n")
	for i, p := range passages {
		if i >= 3 {
			break
		}
		fmt.Fprintf(&b, "\n%s\n%s\n", p.Title, strings.TrimSpace(p.Text))
	}
	b.WriteString("\nIf this does not answer your question, I can raise a support ticket for you.")
	return Result{
		Reply: b.String(),
		Data:  map[string]any{"passages": passages},
	}, nil
}
