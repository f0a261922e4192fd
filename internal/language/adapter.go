// Package language normalizes user input to the canonical working language
// and renders replies back in the user's language. When the translation
// collaborator is down the adapter returns text unchanged and reports the
// turn as degraded; downstream stages must tolerate non-canonical text.
package language

import (
	"context"
	"log/slog"
	"strings"
	"unicode"
)

// Translator is the slice of the translation client the adapter needs.
type Translator interface {
	Translate(ctx context.Context, text, source, target string) (string, error)
}

// Adapter detects input language and translates to and from the canonical
// working language.
type Adapter struct {
	translator Translator
	canonical  string
	logger     *slog.Logger
}

// New creates an Adapter with the given canonical language tag (e.g. "en").
func New(translator Translator, canonical string) *Adapter {
	if canonical == "" {
		canonical = "en"
	}
	return &Adapter{
		translator: translator,
		canonical:  canonical,
		logger:     slog.Default(),
	}
}

// Canonical returns the canonical language tag.
func (a *Adapter) Canonical() string {
	return a.canonical
}

// Detect returns a language tag for the text using script heuristics.
// Very short or ambiguous input defaults to the canonical language.
func (a *Adapter) Detect(text string) string {
	trimmed := strings.TrimSpace(text)
	if len([]rune(trimmed)) < 3 {
		return a.canonical
	}

	var devanagari, letters int
	for _, r := range trimmed {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.Is(unicode.Devanagari, r) {
			devanagari++
		}
	}
	if letters > 0 && devanagari*2 > letters {
		return "hi"
	}
	return a.canonical
}

// ToCanonical translates text from lang to the canonical language. The
// returned bool reports degradation: when true, the translator failed and the
// text came back unchanged.
func (a *Adapter) ToCanonical(ctx context.Context, text, lang string) (string, bool) {
	if lang == a.canonical || strings.TrimSpace(text) == "" {
		return text, false
	}
	out, err := a.translator.Translate(ctx, text, lang, a.canonical)
	if err != nil {
		a.logger.Warn("translation to canonical failed, passing text through", "lang", lang, "error", err)
		return text, true
	}
	return out, false
}

// FromCanonical translates a canonical-language reply into the target
// language. Degradation works the same way as ToCanonical.
func (a *Adapter) FromCanonical(ctx context.Context, text, target string) (string, bool) {
	if target == a.canonical || strings.TrimSpace(text) == "" {
		return text, false
	}
	out, err := a.translator.Translate(ctx, text, a.canonical, target)
	if err != nil {
		a.logger.Warn("translation from canonical failed, passing text through", "lang", target, "error", err)
		return text, true
	}
	return out, false
}
