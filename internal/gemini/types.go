package gemini

import "encoding/json"

// Part is a piece of message content. Only text parts are used.
type Part struct {
	Text string `json:"text,omitempty"`
}

// Content is a single turn of the conversation.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// GenerationConfig controls the output format.
type GenerationConfig struct {
	ResponseMIMEType string          `json:"responseMimeType,omitempty"`
	ResponseSchema   json.RawMessage `json:"responseSchema,omitempty"`
	Temperature      *float64        `json:"temperature,omitempty"`
}

// GenerateRequest is the body of models/{model}:generateContent.
type GenerateRequest struct {
	Contents         []Content         `json:"contents"`
	GenerationConfig *GenerationConfig `json:"generationConfig,omitempty"`
}

// NewTextRequest builds a single-turn user prompt. A non-empty schema switches the response
// to JSON constrained by that schema.
func NewTextRequest(prompt string, schema json.RawMessage) *GenerateRequest {
	req := &GenerateRequest{
		Contents: []Content{{Role: "user", Parts: []Part{{Text: prompt}}}},
	}

	if len(schema) > 0 {
		req.GenerationConfig = &GenerationConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   schema,
		}
	}

	return req
}

// Candidate is one generated answer.
type Candidate struct {
	Content      Content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

// UsageMetadata reports token usage of a call.
type UsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// GenerateResponse is the generateContent response body.
type GenerateResponse struct {
	Candidates    []Candidate    `json:"candidates"`
	UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
}

// EmptyJSON is returned by Text when the model produced no text.
const EmptyJSON = "{}"

// Text returns the text of the first part of the first candidate, or EmptyJSON.
func (r *GenerateResponse) Text() string {
	if r == nil || len(r.Candidates) == 0 {
		return EmptyJSON
	}

	parts := r.Candidates[0].Content.Parts
	if len(parts) == 0 || parts[0].Text == "" {
		return EmptyJSON
	}

	return parts[0].Text
}

type errorEnvelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}
