// Package intent classifies each incoming turn into one label from the fixed
// support taxonomy. The primary path uses the inference collaborator; a local
// keyword matcher covers failures, and ambiguous results coerce to general
// support so classification can never fail a turn.
package intent

// Label is one support category from the fixed taxonomy.
type Label string

const (
	UserProfileInfo      Label = "USER_PROFILE_INFO"
	UserProfileUpdate    Label = "USER_PROFILE_UPDATE"
	CertificateIssues    Label = "CERTIFICATE_ISSUES"
	CourseProgressIssues Label = "COURSE_PROGRESS_ISSUES"
	TicketCreation       Label = "TICKET_CREATION"
	GeneralSupport       Label = "GENERAL_SUPPORT"
)

// All lists every label in the taxonomy.
var All = []Label{
	UserProfileInfo,
	UserProfileUpdate,
	CertificateIssues,
	CourseProgressIssues,
	TicketCreation,
	GeneralSupport,
}

// Valid reports whether l is a member of the taxonomy.
func Valid(l Label) bool {
	for _, known := range All {
		if l == known {
			return true
		}
	}
	return false
}

// Result is the classification outcome for one turn.
type Result struct {
	Label      Label
	Confidence float64
	// Source records which path produced the label: "model", "rules", or
	// "coerced" when low confidence forced the general-support default.
	Source string
}
