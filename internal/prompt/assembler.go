// Package prompt builds the textual instruction block sent alongside the
// recording. The model has no memory between calls, so every call must be
// self-contained: prior turns are always replayed in full as text rather
// than relying on any provider-side session primitive.
package prompt

import (
	"fmt"
	"strings"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/bugreel/api/schemas"
)

// SystemInstruction is the fixed persona and output contract for every
// generation call.
const SystemInstruction = `You are an expert software engineer debugging a web application.
You receive a code snippet and, when available, a screen recording of the bug as experienced by the user.
Identify the bug, describe the user's sentiment, and produce a corrected version of the code.
Your response must be a single JSON object with exactly these fields: bug_summary, user_sentiment, file_to_edit, explanation, code_patch.
Respond with only the JSON object, no prose and no markdown fences.`

const (
	directiveWithMedia = `Watch the attached screen recording and correlate what the user experiences with the code above. Identify the bug shown in the recording and produce a fix.`

	directiveCodeOnly = `No screen recording was supplied. Review the code above on its own, identify the most likely bug, and produce a fix.`

	refineInstruction = `Using the full conversation above, produce an updated report that addresses the latest user feedback. Respond to the feedback directly in the explanation field.`
)

// Assemble produces the single text block for one generation call from the
// code under analysis, the presence of an attached recording, and the
// ordered conversation history. The code is embedded verbatim; the history,
// when non-empty, is serialized as alternating User:/Assistant: lines with
// model turns rendered in their JSON report form.
func Assemble(code string, hasMedia bool, history []schemas.ChatEntry) (string, error) {
	var b strings.Builder

	b.WriteString("Here is the code under analysis:\n\n")
	b.WriteString("```\n")
	b.WriteString(code)
	b.WriteString("\n```\n\n")

	if hasMedia {
		b.WriteString(directiveWithMedia)
	} else {
		b.WriteString(directiveCodeOnly)
	}

	if len(history) > 0 {
		serialized, err := serializeHistory(history)
		if err != nil {
			return "", err
		}
		b.WriteString("\n\nConversation so far:\n")
		b.WriteString(serialized)
		b.WriteString("\n")
		b.WriteString(refineInstruction)
	}

	return b.String(), nil
}

// serializeHistory renders the turns in order. User turns contribute their
// literal text; model turns contribute the JSON form of their report, not
// reconstituted English.
func serializeHistory(history []schemas.ChatEntry) (string, error) {
	var b strings.Builder
	for _, entry := range history {
		switch entry.Role {
		case schemas.RoleUser:
			fmt.Fprintf(&b, "User: %s\n", entry.Text)
		case schemas.RoleModel:
			if entry.Report == nil {
				fmt.Fprintf(&b, "Assistant: %s\n", entry.Text)
				continue
			}
			raw, err := json.Marshal(entry.Report)
			if err != nil {
				return "", fmt.Errorf("failed to serialize model turn: %w", err)
			}
			fmt.Fprintf(&b, "Assistant: %s\n", string(raw))
		default:
			return "", fmt.Errorf("history entry has unknown role %q", entry.Role)
		}
	}
	return b.String(), nil
}
