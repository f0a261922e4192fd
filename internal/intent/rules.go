package intent

import "strings"

// ruleSet maps keyword groups to labels, checked in order. The first group
// with a hit wins; more specific categories come before broader ones so
// "update my mobile number" lands on profile update, not profile info.
var ruleSet = []struct {
	label    Label
	keywords []string
}{
	{
		label: UserProfileUpdate,
		keywords: []string{
			"update my", "change my", "modify my", "edit my",
			"new mobile", "new email", "new phone",
			"send otp", "verify otp", "generate otp", "resend otp",
		},
	},
	{
		label: CertificateIssues,
		keywords: []string{
			"certificate not", "didn't get my certificate", "didnt get my certificate",
			"haven't received certificate", "havent received certificate",
			"where is my certificate", "wrong name on certificate",
			"certificate has incorrect", "name is misspelled", "qr code",
			"certificate download", "certificate format", "certificate issue",
			"certificate problem", "reissue", "re-issue",
		},
	},
	{
		label: CourseProgressIssues,
		keywords: []string{
			"progress not", "progress stuck", "course progress", "completion status",
			"not showing complete", "still shows incomplete", "progress issue",
			"enrolment", "enrollment", "course not completed",
		},
	},
	{
		label: TicketCreation,
		keywords: []string{
			"create a ticket", "raise a ticket", "open a ticket", "file a complaint",
			"support request", "raise a support", "escalate", "human agent",
			"speak to someone", "contact support", "support team", "not working",
		},
	},
	{
		label: UserProfileInfo,
		keywords: []string{
			"my courses", "my progress", "my karma points", "my email",
			"my mobile", "my phone", "my name", "my organisation", "my organization",
			"my grade", "my department", "my designation", "my certificates",
			"my profile", "my details", "how many certificates",
		},
	},
}

// ruleConfidence is the fixed confidence assigned to keyword matches. It sits
// above the default coercion threshold so a clear keyword hit is honored.
const ruleConfidence = 0.7

// Match classifies text with the keyword ruleset. Unmatched text falls
// through to GENERAL_SUPPORT with low confidence.
func Match(text string) Result {
	lower := strings.ToLower(text)
	for _, rule := range ruleSet {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return Result{Label: rule.label, Confidence: ruleConfidence, Source: "rules"}
			}
		}
	}
	return Result{Label: GeneralSupport, Confidence: 0.3, Source: "rules"}
}
