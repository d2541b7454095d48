package models

type RegistrationStatus string

const (
	StatusPending   RegistrationStatus = "pending"
	StatusCompleted RegistrationStatus = "completed"
	StatusRefunded  RegistrationStatus = "refunded"
	StatusExpired   RegistrationStatus = "expired"
	StatusCancelled RegistrationStatus = "cancelled"
)

// ActiveStatuses hold a capacity slot.
var ActiveStatuses = []RegistrationStatus{StatusPending, StatusCompleted}

func (s RegistrationStatus) Active() bool {
	for _, a := range ActiveStatuses {
		if s == a {
			return true
		}
	}
	return false
}

var transitions = map[RegistrationStatus][]RegistrationStatus{
	StatusPending:   {StatusCompleted, StatusExpired, StatusCancelled},
	StatusCompleted: {StatusRefunded},
}

func (s RegistrationStatus) CanTransitionTo(next RegistrationStatus) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}
