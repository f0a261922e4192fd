package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/karmayogi/saarthi/internal/intent"
)

// Certificate handles missing-certificate and name-correction queries.
// It checks the caller's enrollments for completed courses without a
// certificate and points at KB guidance for the rest.
type Certificate struct {
	profiles ProfileService
	kb       KBSearcher
}

// NewCertificate creates the certificate issues handler.
func NewCertificate(profiles ProfileService, searcher KBSearcher) *Certificate {
	return &Certificate{profiles: profiles, kb: searcher}
}

func (h *Certificate) Name() string { return "certificate" }

func (h *Certificate) Supports(label intent.Label) bool {
	return label == intent.CertificateIssues
}

func (h *Certificate) Budget() time.Duration { return 6 * time.Second }

func (h *Certificate) Dependencies() []string { return []string{"profile", "kb"} }

func (h *Certificate) Handle(ctx context.Context, hctx *Context, input string) (Result, error) {
	if hctx.Anonymous {
		return h.adviseFromKB(ctx, input, "Certificate details are tied to your account, so please sign in for specifics.")
	}

	enrollments, err := h.profiles.GetEnrollments(ctx, hctx.UserID)
	if err != nil {
		return Result{}, err
	}

	var missing []string
	for _, e := range enrollments {
		if e.Completed && !e.HasCertificate {
			missing = append(missing, e.CourseName)
		}
	}

	if len(missing) == 0 {
		return Result{Reply: "All your completed courses already have certificates issued. Certificates are generated within 24-48 hours of completion; if one is still missing after that, I can raise a ticket for you."}, nil
	}

	var b strings.Builder
	b.WriteString("These completed courses do not have a certificate yet:\n")
	for _, name := range missing {
		fmt.Fprintf(&b, "- %s\n", name)
	}
	b.WriteString("\nCertificates are usually issued within 24-48 hours of completion. If it has been longer than that, say \"raise a ticket\" and I will open one for you.")
	return Result{
		Reply: b.String(),
		Data:  map[string]any{"missing_certificates": missing},
	}, nil
}

func (h *Certificate) adviseFromKB(ctx context.Context, input, suffix string) (Result, error) {
	passages, err := h.kb.Search(ctx, input, 3)
	if err != nil || len(passages) == 0 {
		return Result{Reply: "Certificates are issued automatically within 24-48 hours of course completion. " + suffix}, nil
	}
	var b strings.Builder
	b.WriteString(strings.TrimSpace(passages[0].Text))
	b.WriteString("\n\n")
	b.WriteString(suffix)
	return Result{Reply: b.String()}, nil
}
