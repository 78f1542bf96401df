package service

import (
	"context"
	"sync"
	"time"

	"github.com/mmsalmanfaris/Smart-Parking-System/internal/bookings/events"
	"github.com/mmsalmanfaris/Smart-Parking-System/internal/bookings/repository"
	"github.com/mmsalmanfaris/Smart-Parking-System/pkg/config"
	"github.com/mmsalmanfaris/Smart-Parking-System/pkg/model"
)

// ExpirySweeper deactivates bookings whose window has elapsed and keeps the
// affected slots converged. A slower audit pass re-derives every slot, which
// catches drift left behind by crashes between a booking write and its slot
// update.
type ExpirySweeper struct {
	repo       repository.BookingRepository
	reconciler *ConsistencyGuard
	slots      SlotLister
	publisher  events.EventPublisher
	cfg        *config.Config

	now    func() time.Time
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// SlotLister enumerates slots for the audit pass.
type SlotLister interface {
	List(ctx context.Context) ([]*model.Slot, error)
}

func NewExpirySweeper(
	repo repository.BookingRepository,
	reconciler *ConsistencyGuard,
	slots SlotLister,
	publisher events.EventPublisher,
	cfg *config.Config,
) *ExpirySweeper {
	return &ExpirySweeper{
		repo:       repo,
		reconciler: reconciler,
		slots:      slots,
		publisher:  publisher,
		cfg:        cfg,
		now:        time.Now,
		stopCh:     make(chan struct{}),
	}
}

func (s *ExpirySweeper) Start() {
	s.wg.Add(1)
	go s.run()
	s.cfg.Log.Info("Expiry sweeper started",
		"sweep_interval", s.cfg.SweepInterval,
		"audit_interval", s.cfg.AuditInterval,
		"batch_size", s.cfg.SweepBatch,
	)
}

func (s *ExpirySweeper) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	s.cfg.Log.Info("Expiry sweeper stopped")
}

func (s *ExpirySweeper) run() {
	defer s.wg.Done()

	sweepTicker := time.NewTicker(s.cfg.SweepInterval)
	defer sweepTicker.Stop()

	auditTicker := time.NewTicker(s.cfg.AuditInterval)
	defer auditTicker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-sweepTicker.C:
			s.sweepOnce(context.Background())
		case <-auditTicker.C:
			s.auditOnce(context.Background())
		}
	}
}

// sweepOnce expires one batch. Each booking is handled independently so a
// single bad document cannot stall the sweep; the version guard makes the
// pass idempotent against concurrent cancellations.
func (s *ExpirySweeper) sweepOnce(ctx context.Context) {
	now := s.now().UTC()

	expired, err := s.repo.FindExpired(ctx, now, s.cfg.SweepBatch)
	if err != nil {
		s.cfg.Log.Error("Expiry sweep query failed", "error", err)
		return
	}
	if len(expired) == 0 {
		return
	}

	var swept int
	for _, booking := range expired {
		ok, err := s.repo.Deactivate(ctx, booking.ID, booking.Version)
		if err != nil {
			s.cfg.Log.Error("Failed to expire booking",
				"booking_id", booking.ID,
				"error", err,
			)
			continue
		}
		if !ok {
			// Someone else deactivated or touched it; nothing to do.
			continue
		}
		swept++

		if err := s.reconciler.Reconcile(ctx, booking.SlotID); err != nil {
			s.cfg.Log.Error("Failed to reconcile slot after expiry",
				"slot_id", booking.SlotID,
				"error", err,
			)
		}

		booking.Active = false
		if err := s.publisher.PublishBookingEvent(ctx, events.EventBookingExpired, booking); err != nil {
			s.cfg.Log.Warn("Booking expired but event publish failed", "booking_id", booking.ID)
		}
	}

	s.cfg.Log.Info("Expiry sweep completed",
		"candidates", len(expired),
		"expired", swept,
	)
}

// auditOnce re-derives the status of every slot.
func (s *ExpirySweeper) auditOnce(ctx context.Context) {
	slots, err := s.slots.List(ctx)
	if err != nil {
		s.cfg.Log.Error("Slot audit query failed", "error", err)
		return
	}

	var failures int
	for _, slot := range slots {
		if err := s.reconciler.Reconcile(ctx, slot.ID); err != nil {
			failures++
			s.cfg.Log.Error("Slot audit reconcile failed",
				"slot_id", slot.ID,
				"error", err,
			)
		}
	}

	s.cfg.Log.Info("Slot audit completed",
		"slots", len(slots),
		"failures", failures,
	)
}
