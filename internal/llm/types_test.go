package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitThinking(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		answer   string
		thinking string
	}{
		{"none", `{"message":"hi"}`, `{"message":"hi"}`, ""},
		{"leading", "<think>plan it</think>\n{\"actions\":[]}", `{"actions":[]}`, "plan it"},
		{"two blocks", "<think>a</think>x<think>b</think>y", "xy", "a\nb"},
		{"unterminated", "answer<think>dangling", "answer", "dangling"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			answer, thinking := SplitThinking(tt.in)
			assert.Equal(t, tt.answer, answer)
			assert.Equal(t, tt.thinking, thinking)
		})
	}
}
