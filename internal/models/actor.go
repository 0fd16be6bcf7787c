package models

import "github.com/google/uuid"

// Role names the kind of party driving a transition.
type Role string

const (
	RoleAsker     Role = "asker"
	RoleExpert    Role = "expert"
	RoleScheduler Role = "scheduler"
)

// Actor is the authenticated party behind a request.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

// SchedulerActor drives time-based transitions.
var SchedulerActor = Actor{Role: RoleScheduler}
