package handler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/karmayogi/saarthi/internal/intent"
)

// Progress reports course completion status for the caller.
type Progress struct {
	profiles ProfileService
}

// NewProgress creates the course progress handler.
func NewProgress(profiles ProfileService) *Progress {
	return &Progress{profiles: profiles}
}

func (h *Progress) Name() string { return "progress" }

func (h *Progress) Supports(label intent.Label) bool {
	return label == intent.CourseProgressIssues
}

func (h *Progress) Budget() time.Duration { return 5 * time.Second }

func (h *Progress) Dependencies() []string { return []string{"profile"} }

func (h *Progress) Handle(ctx context.Context, hctx *Context, input string) (Result, error) {
	if hctx.Anonymous {
		return Result{Reply: "Course progress is tied to your account. Please sign in and ask me again."}, nil
	}

	enrollments, err := h.profiles.GetEnrollments(ctx, hctx.UserID)
	if err != nil {
		return Result{}, err
	}
	if len(enrollments) == 0 {
		return Result{Reply: "You are not enrolled in any courses yet. Once you enroll, I can track your progress here."}, nil
	}

	// In-progress first, least complete at the top.
	sort.Slice(enrollments, func(i, j int) bool {
		if enrollments[i].Completed != enrollments[j].Completed {
			return !enrollments[i].Completed
		}
		return enrollments[i].CompletionPct < enrollments[j].CompletionPct
	})

	var b strings.Builder
	b.WriteString("Here is your course progress:\n")
	for _, e := range enrollments {
		if e.Completed {
			fmt.Fprintf(&b, "- %s: completed\n", e.CourseName)
		} else {
			fmt.Fprintf(&b, "- %s: %.0f%%\n", e.CourseName, e.CompletionPct)
		}
	}
	b.WriteString("\nIf a course shows less progress than you expect, progress can take a few hours to sync. Tell me which course looks wrong and I can raise a ticket.")
	return Result{
		Reply: b.String(),
		Data:  map[string]any{"enrollments": enrollments},
	}, nil
}
