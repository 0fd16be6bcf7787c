package offers

import (
	"fmt"
	"slices"

	"github.com/askexpert/backend/internal/models"
)

// Event is something that can move a question to a new status.
type Event string

const (
	EventConfirmPayment Event = "confirm_payment"
	EventAccept         Event = "accept"
	EventDecline        Event = "decline"
	EventExpireOffer    Event = "expire_offer"
	EventStart          Event = "start"
	EventAnswer         Event = "answer"
	EventExpireSLA      Event = "expire_sla"
	EventRefund         Event = "refund"
)

type rule struct {
	from   []models.Status // nil means any non-terminal status
	to     models.Status   // empty when the target depends on the tier
	tier   models.Tier     // empty means both tiers
	actors []models.Role
}

var rules = map[Event]rule{
	EventConfirmPayment: {
		from:   []models.Status{models.StatusPendingPayment},
		actors: []models.Role{models.RoleAsker},
	},
	EventAccept: {
		from:   []models.Status{models.StatusPendingOffer},
		to:     models.StatusAccepted,
		tier:   models.TierDeepDive,
		actors: []models.Role{models.RoleExpert},
	},
	EventDecline: {
		from:   []models.Status{models.StatusPendingOffer},
		to:     models.StatusOfferDeclined,
		tier:   models.TierDeepDive,
		actors: []models.Role{models.RoleExpert},
	},
	EventExpireOffer: {
		from:   []models.Status{models.StatusPendingOffer},
		to:     models.StatusOfferExpired,
		tier:   models.TierDeepDive,
		actors: []models.Role{models.RoleScheduler},
	},
	EventStart: {
		from:   []models.Status{models.StatusPaid, models.StatusAccepted},
		to:     models.StatusInProgress,
		actors: []models.Role{models.RoleExpert},
	},
	EventAnswer: {
		from:   []models.Status{models.StatusPaid, models.StatusAccepted, models.StatusInProgress},
		to:     models.StatusAnswered,
		actors: []models.Role{models.RoleExpert},
	},
	EventExpireSLA: {
		from:   []models.Status{models.StatusPaid, models.StatusAccepted, models.StatusInProgress},
		to:     models.StatusSLAExpired,
		actors: []models.Role{models.RoleScheduler},
	},
	EventRefund: {
		to:     models.StatusRefunded,
		actors: []models.Role{models.RoleAsker, models.RoleExpert, models.RoleScheduler},
	},
}

// Authorize checks that actor may drive ev on q at all, before looking at status.
func Authorize(q *models.Question, ev Event, actor models.Actor) error {
	r, ok := rules[ev]
	if !ok {
		return fmt.Errorf("%w: unknown event %q", ErrInvalidTransition, ev)
	}
	if !slices.Contains(r.actors, actor.Role) {
		return fmt.Errorf("%w: %s cannot %s", ErrForbidden, actor.Role, ev)
	}
	switch actor.Role {
	case models.RoleAsker:
		if actor.ID != q.AskerID {
			return fmt.Errorf("%w: not the asker of question %d", ErrForbidden, q.ID)
		}
	case models.RoleExpert:
		if actor.ID != q.ExpertID {
			return fmt.Errorf("%w: not the expert of question %d", ErrForbidden, q.ID)
		}
	}
	return nil
}

// Next returns the status ev moves q to. stale is true when the event no longer
// applies because q already reached the target or some other terminal status;
// callers report the current status instead of failing.
func Next(q *models.Question, ev Event) (to models.Status, stale bool, err error) {
	r, ok := rules[ev]
	if !ok {
		return "", false, fmt.Errorf("%w: unknown event %q", ErrInvalidTransition, ev)
	}
	if r.tier != "" && q.Tier != r.tier {
		return "", false, fmt.Errorf("%w: %s does not apply to %s questions", ErrInvalidTransition, ev, q.Tier)
	}
	to = target(r, q)
	if r.from == nil {
		if q.Status.Terminal() {
			return to, true, nil
		}
		return to, false, nil
	}
	if slices.Contains(r.from, q.Status) {
		return to, false, nil
	}
	if q.Status == to || q.Status.Terminal() {
		return to, true, nil
	}
	return "", false, fmt.Errorf("%w: cannot %s a question in status %s", ErrInvalidTransition, ev, q.Status)
}

func target(r rule, q *models.Question) models.Status {
	if r.to != "" {
		return r.to
	}
	// confirm_payment lands where submission would have with a confirmed hold
	return fundedStatus(q.Tier)
}

// fundedStatus is the first status of a question whose hold is authorized.
func fundedStatus(t models.Tier) models.Status {
	if t == models.TierDeepDive {
		return models.StatusPendingOffer
	}
	return models.StatusPaid
}
