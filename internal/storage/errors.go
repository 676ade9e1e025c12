package storage

import "errors"

var (
	// ErrTradeNotFound is returned when no trade matches an ID or predicate
	ErrTradeNotFound = errors.New("trade not found")
	// ErrDuplicateID is returned when creating a record whose ID is already stored
	ErrDuplicateID = errors.New("duplicate id")
	// ErrImmutableField is returned when an update changes a field fixed at creation
	ErrImmutableField = errors.New("immutable trade field changed")
	// ErrRollChain is returned when a roll would branch or break the roll chain
	ErrRollChain = errors.New("invalid roll chain")
)
