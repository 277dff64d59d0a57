package strategy

import "auction_go/internal/infra/feed"

// ActionType defines the type of bidding action
type ActionType int

const (
	ActionBid  ActionType = iota + 1
	ActionStop            // Stop following the feed
)

// String returns the string representation of ActionType
func (a ActionType) String() string {
	switch a {
	case ActionBid:
		return "BID"
	case ActionStop:
		return "STOP"
	default:
		return "UNKNOWN"
	}
}

// Action represents a decision made by the strategy
type Action struct {
	Type  ActionType
	Value int64
}

// Strategy is the interface that all bidding strategies must implement.
// It is called from a single goroutine in feed order.
type Strategy interface {
	// OnFrame is called for every feed frame.
	// It returns a list of Actions to be executed.
	OnFrame(f feed.Frame) []Action
}
