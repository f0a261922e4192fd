package intent

import (
	"fmt"
	"strings"

	"github.com/karmayogi/saarthi/internal/inference"
)

const systemPromptTemplate = `You are an intent classifier for a learning platform's support assistant. Your output must be ONLY a single valid JSON object that conforms to the provided schema. Do not include any other text, prose, or markdown.

Intent labels:
- "USER_PROFILE_INFO": questions about the user's own data — courses, progress, karma points, email, mobile number, organisation, certificates held
- "USER_PROFILE_UPDATE": requests to modify profile data (name, email, mobile number) including OTP requests
- "CERTIFICATE_ISSUES": problems with certificates — not received, wrong name, QR code missing, download failures. Problems only, not information requests
- "COURSE_PROGRESS_ISSUES": course progress stuck, completion not reflected, enrolment problems
- "TICKET_CREATION": explicit requests to raise a ticket, file a complaint, escalate, or reach a human
- "GENERAL_SUPPORT": everything else — platform questions, how-to, unresolvable or ambiguous queries

Rules:
- Pick exactly one label.
- Report confidence between 0 and 1; use low confidence when the query is ambiguous.
- Contextual follow-ups ("how many do I have?") belong to the label of the recent topic when history makes it clear.`

// buildPrompt constructs the chat messages for intent classification.
func buildPrompt(query string, history []inference.Message) []inference.Message {
	messages := []inference.Message{
		{Role: "system", Content: systemPromptTemplate},
	}

	if len(history) > 0 {
		var sb strings.Builder
		sb.WriteString("Recent conversation:\n")
		for _, m := range history {
			content := m.Content
			if len(content) > 200 {
				content = content[:200] + "..."
			}
			fmt.Fprintf(&sb, "%s: %s\n", m.Role, content)
		}
		messages = append(messages, inference.Message{Role: "system", Content: sb.String()})
	}

	messages = append(messages, inference.Message{
		Role:    "user",
		Content: query,
	})

	return messages
}

// classificationSchema returns the JSON schema for structured classifier output.
func classificationSchema() *inference.Schema {
	return &inference.Schema{
		Type: "object",
		Properties: map[string]inference.SchemaProperty{
			"label":      {Type: "string", Description: "One of: USER_PROFILE_INFO, USER_PROFILE_UPDATE, CERTIFICATE_ISSUES, COURSE_PROGRESS_ISSUES, TICKET_CREATION, GENERAL_SUPPORT"},
			"confidence": {Type: "number", Description: "Classifier confidence between 0 and 1"},
		},
		Required: []string{"label", "confidence"},
	}
}
