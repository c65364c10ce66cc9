package tests

import (
	"sync"

	events "github.com/sakashimaa/go-order-saga/pkg/domain"
	"github.com/sakashimaa/go-order-saga/services/notification/internal/domain"
)

func compensationFailed(eventID int64) domain.CompensationFailed {
	return domain.CompensationFailed{
		EventID: eventID,
		CompensationFailedEvent: events.CompensationFailedEvent{
			TaskID:        1,
			ReservationID: "8f14e45f-ceea-467f-a0e6-7a1b2c3d4e5f",
			Reason:        "order cancelled",
			LastError:     "product service unavailable",
		},
	}
}

func (s *NotificationSuite) TestCompensationFailed_SentOnce() {
	s.Require().NoError(s.Service.HandleCompensationFailed(s.Ctx, compensationFailed(100)))
	s.Require().NoError(s.Service.HandleCompensationFailed(s.Ctx, compensationFailed(100)))

	s.Equal(1, s.Sender.count())
	s.True(s.processed(100))
	s.Contains(s.Sender.sent[0].Subject, "8f14e45f-ceea-467f-a0e6-7a1b2c3d4e5f")
}

func (s *NotificationSuite) TestConcurrentRedelivery_SentOnce() {
	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Service.HandleCompensationFailed(s.Ctx, compensationFailed(200))
		}()
	}
	wg.Wait()

	s.Equal(1, s.Sender.count())
}

func (s *NotificationSuite) TestReconciliationExhausted_DistinctEvents() {
	for _, id := range []int64{301, 302} {
		err := s.Service.HandleReconciliationExhausted(s.Ctx, domain.ReconciliationExhausted{
			EventID: id,
			ReconciliationExhaustedEvent: events.ReconciliationExhaustedEvent{
				TaskID:        2,
				ReservationID: "res-exhausted",
				Attempts:      20,
			},
		})
		s.Require().NoError(err)
	}

	s.Equal(2, s.Sender.count())
}

func (s *NotificationSuite) TestSendFailure_RollsBackForRedelivery() {
	s.Sender.failures = 10

	err := s.Service.HandleCompensationFailed(s.Ctx, compensationFailed(400))
	s.Require().Error(err)
	s.False(s.processed(400))

	s.Sender.failures = 0
	s.Require().NoError(s.Service.HandleCompensationFailed(s.Ctx, compensationFailed(400)))
	s.Equal(1, s.Sender.count())
	s.True(s.processed(400))
}

func (s *NotificationSuite) TestMissingEventID() {
	err := s.Service.HandleCompensationFailed(s.Ctx, compensationFailed(0))
	s.ErrorIs(err, domain.ErrMissingEventID)
	s.Zero(s.Sender.count())
}
