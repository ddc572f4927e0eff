package action

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// Reply is a model response split into user-facing text and raw actions.
type Reply struct {
	Message string
	Actions []json.RawMessage
}

// ParseReply extracts the JSON object from a model reply. Code fences and
// prose around the object are tolerated; anything else is ErrMalformedReply.
func ParseReply(text string) (Reply, error) {
	body := extractObject(text)
	if body == "" || !gjson.Valid(body) {
		return Reply{}, fmt.Errorf("%w: %s", ErrMalformedReply, snippet(text))
	}
	r := gjson.Parse(body)
	if !r.IsObject() {
		return Reply{}, fmt.Errorf("%w: expected an object", ErrMalformedReply)
	}

	out := Reply{Message: strings.TrimSpace(first(r, "message", "response", "reply", "text").String())}
	acts := r.Get("actions")
	if acts.Exists() && acts.Type != gjson.Null {
		if !acts.IsArray() {
			return Reply{}, fmt.Errorf("%w: \"actions\" must be an array", ErrMalformedReply)
		}
		for _, a := range acts.Array() {
			out.Actions = append(out.Actions, json.RawMessage(a.Raw))
		}
	}
	return out, nil
}

func extractObject(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > 120 {
		return string([]rune(s)[:120]) + "..."
	}
	return s
}
