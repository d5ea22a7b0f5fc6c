package planner

import (
	"encoding/json"
	"strings"

	"github.com/invopop/jsonschema"
)

// Idea is one entry of a content plan.
type Idea struct {
	Day          string `json:"day" jsonschema:"description=Day or date the content is published"`
	Platform     string `json:"platform" jsonschema:"description=Social media platform"`
	Pillar       string `json:"pillar" jsonschema:"description=Content pillar"`
	Idea         string `json:"idea" jsonschema:"description=The content idea"`
	CaptionBrief string `json:"caption_brief" jsonschema:"description=Short brief for the caption"`
	VisualIdea   string `json:"visual_idea" jsonschema:"description=Suggested visual"`
	Hashtags     string `json:"hashtags" jsonschema:"description=Space separated hashtags"`
}

// IdeaSchema returns the Gemini responseSchema of a single Idea.
func IdeaSchema() (json.RawMessage, error) {
	reflector := jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: true,
	}

	return json.Marshal(ToGeminiSchema(reflector.Reflect(&Idea{})))
}

// ToGeminiSchema converts a JSON Schema into the OpenAPI subset accepted by Gemini's
// responseSchema: upper-case types and no $schema, $id or additionalProperties keys.
func ToGeminiSchema(s *jsonschema.Schema) map[string]any {
	if s == nil {
		return nil
	}

	out := map[string]any{}
	if s.Type != "" {
		out["type"] = strings.ToUpper(s.Type)
	}
	if s.Description != "" {
		out["description"] = s.Description
	}
	if len(s.Enum) > 0 {
		out["enum"] = s.Enum
	}
	if s.Items != nil {
		out["items"] = ToGeminiSchema(s.Items)
	}

	if s.Properties != nil && s.Properties.Len() > 0 {
		props := map[string]any{}
		ordering := make([]string, 0, s.Properties.Len())
		for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
			props[pair.Key] = ToGeminiSchema(pair.Value)
			ordering = append(ordering, pair.Key)
		}
		out["properties"] = props
		out["propertyOrdering"] = ordering
	}

	if len(s.Required) > 0 {
		out["required"] = s.Required
	}

	return out
}
