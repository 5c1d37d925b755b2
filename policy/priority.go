package policy

// Describes the importance of obtaining a particular piece.
type Priority byte

const (
	PriorityNone   Priority = iota // Not wanted. Must be the zero value.
	PriorityNormal                 // Wanted.
	PriorityHigh                   // Wanted a lot.
	PriorityNow                    // A reader is waiting on this piece.
)
