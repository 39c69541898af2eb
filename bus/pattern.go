package bus

import "strings"

// Wildcard is the single-segment wildcard token. GlobalWildcard alone
// matches any topic and is gated by Config.AllowGlobalWildcard.
const (
	Wildcard       = "*"
	GlobalWildcard = "*"
)

// Matches reports whether pattern matches topic, per the anchored,
// segment-based algorithm in §4.1: exact equality, the bare global
// wildcard, or equal segment counts with each pattern segment either
// equal to the topic segment or a wildcard.
//
// allowGlobal gates the bare "*" pattern only; a per-segment "*" (e.g.
// "a.*") is never gated by it.
func Matches(topic, pattern string, allowGlobal bool) bool {
	if pattern == topic {
		return true
	}
	if pattern == GlobalWildcard {
		return allowGlobal
	}

	pSegs := strings.Split(pattern, ".")
	tSegs := strings.Split(topic, ".")
	if len(pSegs) != len(tSegs) {
		return false
	}
	for i, p := range pSegs {
		if p == Wildcard {
			continue
		}
		if p != tSegs[i] {
			return false
		}
	}
	return true
}

// splitPattern pre-splits a pattern into segments, cached by the
// subscription table at subscribe time per §9's hot-path note.
func splitPattern(pattern string) []string {
	if pattern == GlobalWildcard {
		return nil
	}
	return strings.Split(pattern, ".")
}

// matchesSegments matches a topic's pre-split segments against a
// pattern's pre-split segments, avoiding repeated strings.Split calls
// on the fanout hot path.
func matchesSegments(topicSegs []string, pattern string, patternSegs []string, allowGlobal bool) bool {
	if patternSegs == nil {
		// Pattern is either the global wildcard or equals the topic exactly;
		// splitPattern only returns nil for the global wildcard case.
		return allowGlobal
	}
	if len(patternSegs) != len(topicSegs) {
		return false
	}
	for i, p := range patternSegs {
		if p == Wildcard {
			continue
		}
		if p != topicSegs[i] {
			return false
		}
	}
	return true
}
