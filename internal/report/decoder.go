// Package report decodes the raw model reply into the structured BugReport
// contract. It strips incidental markdown formatting and rejects any reply
// that does not carry all five required fields; a partially populated
// report is never returned.
package report

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/bugreel/api/schemas"
)

// ErrEmptyResponse reports that the reply contained no text at all.
var ErrEmptyResponse = errors.New("model reply contained no text")

// DecodeError reports that reply text was present but did not decode into
// a complete BugReport. It is distinct from transport failures; the
// request succeeded, the content did not honor the contract.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to decode bug report: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("failed to decode bug report: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Regex definitions use \x60 for backticks because Go raw strings cannot
// contain backticks.
var jsonFenceRegex = regexp.MustCompile("(?s)^\x60\x60\x60(?:json)?\\s*(.*?)\\s*\x60\x60\x60$")

// Decode parses raw reply text into a BugReport. Models sometimes wrap
// their output in markdown fences despite an explicit non-prose contract;
// a leading fence (optionally tagged json) and trailing fence are removed
// before parsing. Field contents are not validated semantically.
func Decode(raw string) (*schemas.BugReport, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, ErrEmptyResponse
	}

	if matches := jsonFenceRegex.FindStringSubmatch(text); len(matches) > 1 {
		text = matches[1]
	}

	var rpt schemas.BugReport
	if err := json.Unmarshal([]byte(text), &rpt); err != nil {
		return nil, &DecodeError{Reason: "reply is not valid JSON", Err: err}
	}

	if !rpt.Complete() {
		return nil, &DecodeError{Reason: "reply is missing required fields"}
	}
	return &rpt, nil
}
