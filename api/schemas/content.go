package schemas

// InlineData is a binary attachment encoded for inline transmission to the
// inference service: base64 payload plus its declared MIME type.
type InlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

// Part is one ordered content part of a generation request. Exactly one of
// Text or InlineData is set.
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inline_data,omitempty"`
}

// TextPart builds a text content part.
func TextPart(text string) Part {
	return Part{Text: text}
}

// MediaPart builds an inline-data content part.
func MediaPart(data *InlineData) Part {
	return Part{InlineData: data}
}

// Schema is a minimal JSON-schema declaration passed to the inference
// service as the required output shape. It covers only the subset the
// generateContent API accepts for response schemas.
type Schema struct {
	Type       string             `json:"type"`
	Properties map[string]*Schema `json:"properties,omitempty"`
	Required   []string           `json:"required,omitempty"`
}

// BugReportResponseSchema declares the required BugReport output shape.
// The dispatcher attaches it to every generation call so the model is
// constrained to the five-field contract.
func BugReportResponseSchema() *Schema {
	return &Schema{
		Type: "object",
		Properties: map[string]*Schema{
			"bug_summary":    {Type: "string"},
			"user_sentiment": {Type: "string"},
			"file_to_edit":   {Type: "string"},
			"explanation":    {Type: "string"},
			"code_patch":     {Type: "string"},
		},
		Required: []string{"bug_summary", "user_sentiment", "file_to_edit", "explanation", "code_patch"},
	}
}
