package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Id prefixes per entity kind.
const (
	PrefixProject  = "project"
	PrefixTask     = "task"
	PrefixSubtask  = "subtask"
	PrefixActivity = "activity"
	PrefixPerson   = "person"
)

// NewID returns "<prefix>-<8 hex chars>".
func NewID(prefix string) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + "-" + hex[:8]
}

// DateLayout is the calendar format used for due, start and target dates.
const DateLayout = "2006-01-02"

// DateIn formats now plus days as a calendar date.
func DateIn(now time.Time, days int) string {
	return now.AddDate(0, 0, days).Format(DateLayout)
}

// ValidDate reports whether s is empty or a calendar date. RFC 3339
// timestamps are accepted and keep their full form.
func ValidDate(s string) bool {
	if s == "" {
		return true
	}
	if _, err := time.Parse(DateLayout, s); err == nil {
		return true
	}
	_, err := time.Parse(time.RFC3339, s)
	return err == nil
}
