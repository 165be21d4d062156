package markers

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

type ActionKind string

const (
	ActionMotion     ActionKind = "motion"
	ActionExpression ActionKind = "expression"
	ActionDelay      ActionKind = "delay"
)

// ActionToken is a directive in the inline grammar. Which fields are set
// depends on Kind.
type ActionToken struct {
	Kind ActionKind

	Group    string
	Index    *int
	Priority *int

	// ExpressionID is either a float64 or a string.
	ExpressionID any

	Delay time.Duration
}

// Normalize trims a directive and removes its delimiters.
func Normalize(tag string) string {
	trimmed := strings.TrimSpace(tag)
	if strings.HasPrefix(trimmed, TagOpen) && strings.HasSuffix(trimmed, TagClose) && len(trimmed) >= len(TagOpen)+len(TagClose) {
		return strings.TrimSpace(trimmed[len(TagOpen) : len(trimmed)-len(TagClose)])
	}
	return trimmed
}

var inlineActionPattern = regexp.MustCompile(`^([a-zA-Z_]+)\s*[:=]\s*(.+)$`)

// ParseAction interprets a directive written as "kind:value" or
// "kind=value". Directives outside that grammar are reported with ok false
// and are left to alias tables owned by the caller.
func ParseAction(tag string) (token ActionToken, ok bool) {
	match := inlineActionPattern.FindStringSubmatch(Normalize(tag))
	if match == nil {
		return ActionToken{}, false
	}

	kind := strings.ToLower(match[1])
	value := strings.TrimSpace(match[2])
	if value == "" {
		return ActionToken{}, false
	}

	switch kind {
	case "motion":
		return ActionToken{Kind: ActionMotion, Group: value}, true
	case "expression", "exp", "emote", "emotion":
		return ActionToken{Kind: ActionExpression, ExpressionID: parseExpressionID(value)}, true
	case "delay":
		seconds, err := strconv.ParseFloat(value, 64)
		if err != nil || math.IsInf(seconds, 0) || math.IsNaN(seconds) || seconds <= 0 {
			return ActionToken{}, false
		}
		ms := math.Round(seconds * 1000)
		if ms <= 0 {
			return ActionToken{}, false
		}
		return ActionToken{Kind: ActionDelay, Delay: time.Duration(ms) * time.Millisecond}, true
	}

	return ActionToken{}, false
}

func parseExpressionID(value string) any {
	if n, err := strconv.ParseFloat(value, 64); err == nil && !math.IsInf(n, 0) && !math.IsNaN(n) {
		return n
	}
	return value
}
