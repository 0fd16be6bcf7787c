package offers

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/askexpert/backend/internal/models"
)

func TestNext(t *testing.T) {
	tests := []struct {
		name      string
		tier      models.Tier
		status    models.Status
		event     Event
		want      models.Status
		wantStale bool
		wantErr   error
	}{
		{"accept pending offer", models.TierDeepDive, models.StatusPendingOffer, EventAccept, models.StatusAccepted, false, nil},
		{"accept quick consult", models.TierQuickConsult, models.StatusPaid, EventAccept, "", false, ErrInvalidTransition},
		{"accept already expired", models.TierDeepDive, models.StatusOfferExpired, EventAccept, models.StatusAccepted, true, nil},
		{"decline twice", models.TierDeepDive, models.StatusOfferDeclined, EventDecline, models.StatusOfferDeclined, true, nil},
		{"decline accepted", models.TierDeepDive, models.StatusAccepted, EventDecline, "", false, ErrInvalidTransition},
		{"answer paid", models.TierQuickConsult, models.StatusPaid, EventAnswer, models.StatusAnswered, false, nil},
		{"answer in progress", models.TierDeepDive, models.StatusInProgress, EventAnswer, models.StatusAnswered, false, nil},
		{"answer again", models.TierQuickConsult, models.StatusAnswered, EventAnswer, models.StatusAnswered, true, nil},
		{"answer pending offer", models.TierDeepDive, models.StatusPendingOffer, EventAnswer, "", false, ErrInvalidTransition},
		{"sla in progress", models.TierQuickConsult, models.StatusInProgress, EventExpireSLA, models.StatusSLAExpired, false, nil},
		{"refund pending payment", models.TierQuickConsult, models.StatusPendingPayment, EventRefund, models.StatusRefunded, false, nil},
		{"refund answered", models.TierQuickConsult, models.StatusAnswered, EventRefund, models.StatusRefunded, true, nil},
		{"confirm deep dive", models.TierDeepDive, models.StatusPendingPayment, EventConfirmPayment, models.StatusPendingOffer, false, nil},
		{"confirm quick consult", models.TierQuickConsult, models.StatusPendingPayment, EventConfirmPayment, models.StatusPaid, false, nil},
		{"confirm twice", models.TierQuickConsult, models.StatusPaid, EventConfirmPayment, models.StatusPaid, true, nil},
		{"start accepted", models.TierDeepDive, models.StatusAccepted, EventStart, models.StatusInProgress, false, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q := &models.Question{Tier: tc.tier, Status: tc.status}
			got, stale, err := Next(q, tc.event)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want || stale != tc.wantStale {
				t.Errorf("got (%s, stale=%v), want (%s, stale=%v)", got, stale, tc.want, tc.wantStale)
			}
		})
	}
}

func TestAuthorize(t *testing.T) {
	asker, expert := uuid.New(), uuid.New()
	q := &models.Question{ID: 1, AskerID: asker, ExpertID: expert}

	cases := []struct {
		name  string
		event Event
		actor models.Actor
		ok    bool
	}{
		{"expert accepts", EventAccept, models.Actor{ID: expert, Role: models.RoleExpert}, true},
		{"asker accepts", EventAccept, models.Actor{ID: asker, Role: models.RoleAsker}, false},
		{"other expert accepts", EventAccept, models.Actor{ID: uuid.New(), Role: models.RoleExpert}, false},
		{"asker refunds", EventRefund, models.Actor{ID: asker, Role: models.RoleAsker}, true},
		{"expert refunds", EventRefund, models.Actor{ID: expert, Role: models.RoleExpert}, true},
		{"stranger refunds", EventRefund, models.Actor{ID: uuid.New(), Role: models.RoleAsker}, false},
		{"scheduler expires", EventExpireOffer, models.SchedulerActor, true},
		{"expert expires sla", EventExpireSLA, models.Actor{ID: expert, Role: models.RoleExpert}, false},
		{"asker confirms", EventConfirmPayment, models.Actor{ID: asker, Role: models.RoleAsker}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Authorize(q, tc.event, tc.actor)
			if tc.ok && err != nil {
				t.Errorf("expected allowed, got %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrForbidden) {
				t.Errorf("expected ErrForbidden, got %v", err)
			}
		})
	}
}
