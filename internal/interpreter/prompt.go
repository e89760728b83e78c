package interpreter

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nadzzz/aura/internal/intent"
)

// SystemPrompt describes the intent catalogue and the expected JSON reply.
func SystemPrompt(intents []intent.Spec) string {
	var sb strings.Builder
	sb.WriteString("You are the command interpreter of a desktop voice assistant.\n")
	sb.WriteString("Map the user's transcribed request to exactly one of the intents below.\n\n")
	sb.WriteString("Intents:\n")
	for _, s := range intents {
		fmt.Fprintf(&sb, "- %s: %s", s.ID, s.Canonical)
		if s.Description != "" {
			fmt.Fprintf(&sb, " (%s)", s.Description)
		}
		if len(s.Slots) > 0 {
			parts := make([]string, 0, len(s.Slots))
			for _, ss := range s.Slots {
				p := ss.Name + ":" + string(ss.Type)
				if ss.Type == intent.Enum {
					p += "{" + strings.Join(ss.Values, "|") + "}"
				}
				if ss.Required {
					p += " required"
				}
				parts = append(parts, p)
			}
			sb.WriteString(" slots [" + strings.Join(parts, ", ") + "]")
		}
		sb.WriteByte('\n')
	}
	sb.WriteString("\nInteger and ordinal slots are JSON numbers; other slots are strings.\n")
	sb.WriteString("If nothing fits, use the intent \"unknown\" with no slots.\n")
	sb.WriteString("Return only: {\"intent\": \"<id>\", \"slots\": {\"<name>\": <value>}}\n")
	return sb.String()
}

// ParsePrediction decodes a model reply, tolerating code fences and text
// around the JSON object.
func ParsePrediction(content string) (*Prediction, error) {
	s := strings.TrimSpace(content)
	if i := strings.IndexByte(s, '{'); i > 0 {
		s = s[i:]
	}
	if i := strings.LastIndexByte(s, '}'); i >= 0 && i < len(s)-1 {
		s = s[:i+1]
	}
	var p Prediction
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return nil, fmt.Errorf("could not parse model response: %.200s", content)
	}
	if p.Intent == "" {
		return nil, fmt.Errorf("model response has no intent: %.200s", content)
	}
	return &p, nil
}
