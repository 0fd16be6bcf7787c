package offers

import (
	"context"
	"errors"
	"fmt"

	"github.com/askexpert/backend/internal/models"
	"github.com/askexpert/backend/internal/payments"
)

// ResolveHold finds the payment hold behind q. It uses the stored id when there is
// one and otherwise searches the authority by the question_id tag, backfilling the
// record on a hit. ErrHoldNotFound means neither path produced a hold.
func (s *service) ResolveHold(ctx context.Context, q *models.Question) (*payments.Hold, error) {
	if q.PaymentIntentID != "" {
		h, err := s.authority.RetrieveHold(ctx, q.PaymentIntentID)
		if errors.Is(err, payments.ErrHoldNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrHoldNotFound, q.PaymentIntentID)
		}
		return h, err
	}

	h, err := s.authority.FindHoldByQuestionID(ctx, q.ID)
	if err != nil {
		return nil, fmt.Errorf("find hold for question %d: %w", q.ID, err)
	}
	if h == nil {
		s.log.Warn("no payment hold tagged with question", "question_id", q.ID)
		return nil, fmt.Errorf("%w: question %d", ErrHoldNotFound, q.ID)
	}

	q.PaymentIntentID = h.ID
	if ok, err := s.questions.SetPaymentIntentID(ctx, q.ID, h.ID); err != nil {
		s.log.Warn("backfill payment intent id", "question_id", q.ID, "payment_intent_id", h.ID, "error", err)
	} else if ok {
		s.log.Info("payment intent id backfilled", "question_id", q.ID, "payment_intent_id", h.ID)
	}
	return h, nil
}
