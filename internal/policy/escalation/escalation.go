// Package escalation maps a strike count to the enforcement step it earns.
package escalation

import "time"

type Kind int

const (
	Warn Kind = iota + 1
	Mute
	Ban
)

func (k Kind) String() string {
	switch k {
	case Warn:
		return "warn"
	case Mute:
		return "mute"
	case Ban:
		return "ban"
	default:
		return "unknown"
	}
}

// Action is the decided step. Duration is set for Mute only.
type Action struct {
	Kind     Kind
	Duration time.Duration
}

type Policy struct {
	MaxStrikes   int
	MuteDuration time.Duration
}

func (p Policy) Decide(count int) Action {
	return Decide(count, p.MaxStrikes, p.MuteDuration)
}

// Decide warns below max-1, mutes at exactly max-1 and bans from max on.
func Decide(count, maxStrikes int, mute time.Duration) Action {
	switch {
	case count >= maxStrikes:
		return Action{Kind: Ban}
	case count == maxStrikes-1:
		return Action{Kind: Mute, Duration: mute}
	default:
		return Action{Kind: Warn}
	}
}
