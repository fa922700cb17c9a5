// Package schemas defines the shared contract types exchanged between the
// analysis core, the LLM client, and the presentation layer.
package schemas

import "time"

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Sentiment labels the model may use for user_sentiment. The field is
// free-form in practice; these values are advisory, not an enum the
// decoder enforces.
const (
	SentimentFrustrated = "frustrated"
	SentimentConfused   = "confused"
	SentimentCurious    = "curious"
	SentimentNeutral    = "neutral"
)

// BugReport is the structured output contract the model must honor. All
// five fields are required; a reply missing any of them is rejected by the
// decoder rather than surfaced as a partial report.
type BugReport struct {
	BugSummary    string `json:"bug_summary"`    // Short description of the observed bug.
	UserSentiment string `json:"user_sentiment"` // Free-text sentiment label.
	FileToEdit    string `json:"file_to_edit"`   // Path-like identifier of the file the fix targets.
	Explanation   string `json:"explanation"`    // Prose description of the fix, or a response to feedback.
	CodePatch     string `json:"code_patch"`     // The corrected code.
}

// Complete reports whether every required field decoded as a non-empty
// string. Field contents are not validated semantically; that is the
// model's responsibility.
func (r *BugReport) Complete() bool {
	return r.BugSummary != "" &&
		r.UserSentiment != "" &&
		r.FileToEdit != "" &&
		r.Explanation != "" &&
		r.CodePatch != ""
}

// ChatEntry is one turn in a session's conversation. Entries are append
// only: they are never mutated or removed once recorded, and they are
// owned exclusively by the session that created them.
type ChatEntry struct {
	ID        string     `json:"id"`
	Role      Role       `json:"role"`
	Text      string     `json:"text,omitempty"`   // User turns: feedback or a synthetic action description.
	Report    *BugReport `json:"report,omitempty"` // Model turns: the structured report.
	Timestamp time.Time  `json:"timestamp"`        // Advisory ordering only, monotonically non-decreasing.
}
