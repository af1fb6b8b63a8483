package engine

import (
	"fmt"
	"strings"
)

// scoreBuilder accumulates the running score and the ordered reason
// trail for one evaluation. One is allocated per evaluation and
// discarded afterwards; there is no cross-call state.
type scoreBuilder struct {
	score   int
	reasons []string
}

// add applies a signed delta and records "reason(+N)" / "reason(-N)".
// Zero deltas are dropped entirely: no score change, no reason.
func (sb *scoreBuilder) add(points int, reason string) {
	if points == 0 {
		return
	}
	sb.score += points
	sb.reasons = append(sb.reasons, fmt.Sprintf("%s(%+d)", reason, points))
}

// note records a pre-formatted reason without touching the score.
func (sb *scoreBuilder) note(reason string) {
	sb.reasons = append(sb.reasons, reason)
}

// trail returns the reasons joined into the result's reason string.
func (sb *scoreBuilder) trail() string {
	return strings.Join(sb.reasons, ";")
}
