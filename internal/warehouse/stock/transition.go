package stock

var transitions = map[Status][]Status{
	StatusAvailable: {StatusAllocated},
	StatusAllocated: {StatusPicked, StatusAvailable},
	StatusPicked:    {StatusAvailable, StatusAllocated},
}

// CanTransition reports whether an operator may move a record from one status
// to another. Dispatch is not reachable here; see allocation.DispatchOrder.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition returns an *InvalidTransitionError when the move is not allowed.
func CheckTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}
