package workflows

// StateMachine enforces status transitions for ledger entities
type StateMachine struct {
	allowedTransitions map[string][]string
}

// NewStateMachine creates a state machine with the given allowed transitions
func NewStateMachine(transitions map[string][]string) *StateMachine {
	return &StateMachine{allowedTransitions: transitions}
}

// NewListingStateMachine returns the transition table for marketplace listings.
// Terminal states are one-way: filled, cancelled and expired have no exits.
func NewListingStateMachine() *StateMachine {
	return NewStateMachine(map[string][]string{
		"active":    {"filled", "cancelled", "expired"},
		"filled":    {},
		"cancelled": {},
		"expired":   {},
	})
}

// NewPositionStateMachine returns the transition table for lending positions.
func NewPositionStateMachine() *StateMachine {
	return NewStateMachine(map[string][]string{
		"active":     {"closed", "liquidated"},
		"closed":     {},
		"liquidated": {},
	})
}

// CanTransition checks if a status transition is allowed
func (sm *StateMachine) CanTransition(from, to string) bool {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return false
	}
	for _, allowedTo := range allowed {
		if allowedTo == to {
			return true
		}
	}
	return false
}

// GetAllowedTransitions returns the allowed next statuses for a given status
func (sm *StateMachine) GetAllowedTransitions(from string) []string {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return []string{}
	}
	return allowed
}
