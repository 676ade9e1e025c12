// Package models provides data structures and state management for wheel trades.
package models

import (
	"errors"
	"fmt"
)

// TradeStatus represents the lifecycle status of a trade
type TradeStatus string

const (
	StatusOpen     TradeStatus = "Open"     // Position written, premium collected
	StatusClosed   TradeStatus = "Closed"   // Bought back before expiration
	StatusExpired  TradeStatus = "Expired"  // Expired worthless
	StatusAssigned TradeStatus = "Assigned" // Exercised against the writer
	StatusRolled   TradeStatus = "Rolled"   // Closed and replaced by a successor trade
)

// Transition conditions
const (
	ConditionBuyToClose = "buy_to_close"
	ConditionExpired    = "expired"
	ConditionAssigned   = "assigned"
	ConditionRolled     = "rolled"
)

// ErrInvalidTransition is returned when a status change is not allowed from the current status.
var ErrInvalidTransition = errors.New("invalid status transition")

// StatusTransition defines a valid status transition
type StatusTransition struct {
	From        TradeStatus
	To          TradeStatus
	Condition   string
	Description string
}

// ValidTransitions lists every allowed transition. All of them leave Open; nothing re-enters it.
var ValidTransitions = []StatusTransition{
	{StatusOpen, StatusClosed, ConditionBuyToClose, "Option bought back"},
	{StatusOpen, StatusExpired, ConditionExpired, "Option expired worthless"},
	{StatusOpen, StatusAssigned, ConditionAssigned, "Option exercised against the writer"},
	{StatusOpen, StatusRolled, ConditionRolled, "Option closed and replaced by a new position"},
}

// Valid returns true if the status is one of the defined constants
func (s TradeStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusClosed, StatusExpired, StatusAssigned, StatusRolled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the trade's own timeline has ended.
func (s TradeStatus) IsTerminal() bool {
	return s != StatusOpen
}

// ValidateTransition checks that moving from -> to under condition is defined.
func ValidateTransition(from, to TradeStatus, condition string) error {
	for _, transition := range ValidTransitions {
		if transition.From == from && transition.To == to && transition.Condition == condition {
			return nil
		}
	}
	return fmt.Errorf("%w: from %s to %s with condition '%s'", ErrInvalidTransition, from, to, condition)
}

// DescribeTransition returns the human-readable description of a defined transition.
func DescribeTransition(from, to TradeStatus) string {
	for _, transition := range ValidTransitions {
		if transition.From == from && transition.To == to {
			return transition.Description
		}
	}
	return "Unknown transition"
}

// GetStatusDescription returns a human-readable description of a status
func GetStatusDescription(s TradeStatus) string {
	switch s {
	case StatusOpen:
		return "Position open, premium collected"
	case StatusClosed:
		return "Position bought back"
	case StatusExpired:
		return "Position expired worthless"
	case StatusAssigned:
		return "Position assigned"
	case StatusRolled:
		return "Position rolled to a new strike or expiration"
	default:
		return "Unknown status"
	}
}
