package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	bookingerrors "github.com/mmsalmanfaris/Smart-Parking-System/internal/bookings/errors"
	"github.com/mmsalmanfaris/Smart-Parking-System/internal/bookings/events"
	"github.com/mmsalmanfaris/Smart-Parking-System/internal/bookings/repository"
	"github.com/mmsalmanfaris/Smart-Parking-System/internal/bookings/validator"
	catalogrepo "github.com/mmsalmanfaris/Smart-Parking-System/internal/catalog/repository"
	slotservice "github.com/mmsalmanfaris/Smart-Parking-System/internal/slots/service"
	"github.com/mmsalmanfaris/Smart-Parking-System/pkg/config"
	apperrors "github.com/mmsalmanfaris/Smart-Parking-System/pkg/errors"
	"github.com/mmsalmanfaris/Smart-Parking-System/pkg/model"
)

// BookingService is the allocation core: it owns the booking lifecycle and
// keeps slot status consistent with the set of active bookings.
type BookingService interface {
	Create(ctx context.Context, booking *model.Booking) (*model.Booking, error)
	Cancel(ctx context.Context, id string) error
	RecordPayment(ctx context.Context, id string, outcome model.PaymentStatus) (*model.Booking, error)
	GetByID(ctx context.Context, id string) (*model.Booking, error)
	GetAll(ctx context.Context, limit int, offset int64) ([]*model.Booking, int64, error)
	GetBySlot(ctx context.Context, slotID string, from, to *time.Time, limit int, offset int64) ([]*model.Booking, int64, error)
}

type bookingService struct {
	repo       repository.BookingRepository
	locks      repository.SlotLockRepository
	catalog    catalogrepo.CatalogRepository
	slots      slotservice.SlotRegistry
	validator  *validator.BookingValidator
	publisher  events.EventPublisher
	reconciler *ConsistencyGuard
	cfg        *config.Config
}

func NewBookingService(
	repo repository.BookingRepository,
	locks repository.SlotLockRepository,
	catalog catalogrepo.CatalogRepository,
	slots slotservice.SlotRegistry,
	bookingValidator *validator.BookingValidator,
	publisher events.EventPublisher,
	reconciler *ConsistencyGuard,
	cfg *config.Config,
) BookingService {
	return &bookingService{
		repo:       repo,
		locks:      locks,
		catalog:    catalog,
		slots:      slots,
		validator:  bookingValidator,
		publisher:  publisher,
		reconciler: reconciler,
		cfg:        cfg,
	}
}

// Create allocates a slot for the requested window. Exclusion is layered:
// the per-slot advisory lock serializes allocators, the transaction makes
// the overlap check and the insert atomic, and the version-guarded slot
// transition catches anything that slipped past both.
func (s *bookingService) Create(ctx context.Context, booking *model.Booking) (*model.Booking, error) {
	s.applyDefaults(booking)

	if err := s.validator.ValidateCreate(booking); err != nil {
		return nil, err
	}

	slot, err := s.slots.Get(ctx, booking.SlotID)
	if err != nil {
		return nil, err
	}
	if slot.Status == model.SlotMaintenance {
		return nil, apperrors.Conflict(fmt.Sprintf("Slot %s is under maintenance", booking.SlotID))
	}

	if err := s.checkReferences(ctx, booking); err != nil {
		return nil, err
	}

	if err := s.acquireLock(ctx, booking.SlotID); err != nil {
		return nil, err
	}
	defer func() {
		// Release must run even when the request context is already done.
		releaseCtx := context.WithoutCancel(ctx)
		if err := s.locks.Release(releaseCtx, booking.SlotID); err != nil {
			s.cfg.Log.Error("Failed to release slot lock", "slot_id", booking.SlotID, "error", err)
		}
	}()

	var created *model.Booking
	err = s.repo.ExecuteTransaction(ctx, func(txCtx context.Context) error {
		overlapping, err := s.repo.FindActiveOverlapping(txCtx, booking.SlotID, booking.FromDate, booking.ToDate)
		if err != nil {
			return err
		}
		if len(overlapping) > 0 {
			return apperrors.Conflict(fmt.Sprintf(
				"Slot %s already has a booking overlapping the requested window", booking.SlotID,
			)).WithDetails(map[string]any{
				"conflicting_booking": overlapping[0].Code,
			})
		}

		created, err = s.repo.Create(txCtx, booking)
		if err != nil {
			return err
		}

		// Slot was read before the lock; re-read inside the transaction so
		// the version guard works from current state.
		current, err := s.slots.Get(txCtx, booking.SlotID)
		if err != nil {
			return err
		}
		if current.Status == model.SlotMaintenance {
			return apperrors.Conflict(fmt.Sprintf("Slot %s is under maintenance", booking.SlotID))
		}
		if current.Status == model.SlotActive {
			ok, err := s.slots.Transition(txCtx, booking.SlotID, model.SlotActive, model.SlotReserved, current.Version)
			if err != nil {
				return err
			}
			if !ok {
				return apperrors.Conflict(fmt.Sprintf("Slot %s changed during allocation, retry", booking.SlotID))
			}
		}

		return nil
	})
	if err != nil {
		// The transaction rolled back, but the slot may still carry a stale
		// status from a concurrent failure; converge it before reporting.
		s.reconcileDetached(ctx, booking.SlotID)
		return nil, err
	}

	s.cfg.Log.Info("Booking created",
		"booking_id", created.ID,
		"booking_code", created.Code,
		"slot_id", created.SlotID,
		"from_date", created.FromDate,
		"to_date", created.ToDate,
	)

	if err := s.publisher.PublishBookingEvent(ctx, events.EventBookingCreated, created); err != nil {
		s.cfg.Log.Warn("Booking created but event publish failed", "booking_id", created.ID)
	}

	return created, nil
}

// Cancel deactivates a booking. Cancelling an already-inactive booking is a
// no-op success.
func (s *bookingService) Cancel(ctx context.Context, id string) error {
	booking, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !booking.Active {
		return nil
	}

	ok, err := s.repo.Deactivate(ctx, id, booking.Version)
	if err != nil {
		return storeFailure("Failed to cancel booking", err)
	}
	if !ok {
		// Lost the version race; if the other writer deactivated it the
		// outcome we wanted already holds.
		current, err := s.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if current.Active {
			return apperrors.Conflict("Booking changed concurrently, retry cancellation")
		}
		return nil
	}

	s.reconcileDetached(ctx, booking.SlotID)

	booking.Active = false
	s.cfg.Log.Info("Booking cancelled", "booking_id", id, "slot_id", booking.SlotID)

	if err := s.publisher.PublishBookingEvent(ctx, events.EventBookingCancelled, booking); err != nil {
		s.cfg.Log.Warn("Booking cancelled but event publish failed", "booking_id", id)
	}

	return nil
}

// RecordPayment records the outcome reported by the external payment flow.
// Finalized outcomes never change; repeating the same outcome is idempotent.
func (s *bookingService) RecordPayment(ctx context.Context, id string, outcome model.PaymentStatus) (*model.Booking, error) {
	if err := s.validator.ValidatePaymentUpdate(&model.PaymentUpdate{Outcome: outcome}); err != nil {
		return nil, err
	}

	booking, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if booking.PaymentStatus.Final() {
		if booking.PaymentStatus == outcome {
			return booking, nil
		}
		return nil, apperrors.Conflict(fmt.Sprintf(
			"Payment already finalized as %s", booking.PaymentStatus,
		))
	}

	ok, err := s.repo.SetPaymentStatus(ctx, id, outcome, booking.Version)
	if err != nil {
		return nil, storeFailure("Failed to record payment outcome", err)
	}
	if !ok {
		return nil, apperrors.Conflict("Booking changed concurrently, retry payment update")
	}

	booking.PaymentStatus = outcome
	booking.Version++

	if outcome == model.PaymentFailed && booking.Active {
		// A failed payment releases the claim.
		if ok, err := s.repo.Deactivate(ctx, id, booking.Version); err != nil {
			s.cfg.Log.Error("Failed to deactivate booking after payment failure", "booking_id", id, "error", err)
		} else if ok {
			booking.Active = false
			s.reconcileDetached(ctx, booking.SlotID)
		}
	}

	s.cfg.Log.Info("Payment outcome recorded",
		"booking_id", id,
		"outcome", outcome,
	)

	if err := s.publisher.PublishBookingEvent(ctx, events.EventBookingPaymentUpdated, booking); err != nil {
		s.cfg.Log.Warn("Payment recorded but event publish failed", "booking_id", id)
	}

	return booking, nil
}

func (s *bookingService) GetByID(ctx context.Context, id string) (*model.Booking, error) {
	if id == "" {
		return nil, apperrors.InvalidInput("Booking ID cannot be empty")
	}

	booking, err := s.repo.FindByID(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, bookingerrors.ErrInvalidID):
			return nil, apperrors.InvalidInput("Invalid booking ID format")
		case errors.Is(err, bookingerrors.ErrNotFound):
			return nil, apperrors.NotFoundWithID("Booking", id)
		}
		return nil, storeFailure("Failed to retrieve booking", err)
	}

	return booking, nil
}

func (s *bookingService) GetAll(ctx context.Context, limit int, offset int64) ([]*model.Booking, int64, error) {
	limit = config.NormalizePaginationLimit(limit)
	offset = config.NormalizeOffset(offset)

	bookings, totalCount, err := s.repo.FindAll(ctx, limit, offset)
	if err != nil {
		return nil, 0, storeFailure("Failed to retrieve bookings", err)
	}

	return bookings, totalCount, nil
}

func (s *bookingService) GetBySlot(ctx context.Context, slotID string, from, to *time.Time, limit int, offset int64) ([]*model.Booking, int64, error) {
	if slotID == "" {
		return nil, 0, apperrors.InvalidInput("Slot ID cannot be empty")
	}
	if from != nil && to != nil && !from.Before(*to) {
		return nil, 0, apperrors.InvalidInput("from must be before to")
	}

	limit = config.NormalizePaginationLimit(limit)
	offset = config.NormalizeOffset(offset)

	bookings, totalCount, err := s.repo.FindBySlot(ctx, slotID, from, to, limit, offset)
	if err != nil {
		return nil, 0, storeFailure("Failed to retrieve bookings for slot", err)
	}

	return bookings, totalCount, nil
}

func (s *bookingService) applyDefaults(booking *model.Booking) {
	now := time.Now().UTC().Truncate(time.Millisecond)

	if booking.Code == "" {
		booking.Code = generateBookingCode()
	}
	if booking.PaymentStatus == "" {
		booking.PaymentStatus = model.PaymentPending
	}
	booking.ID = ""
	booking.Active = true
	booking.Version = 0
	booking.CreatedAt = now
	booking.FromDate = booking.FromDate.UTC()
	booking.ToDate = booking.ToDate.UTC()
}

func (s *bookingService) checkReferences(ctx context.Context, booking *model.Booking) error {
	exists, err := s.catalog.VehicleExists(ctx, booking.VehicleID)
	if err != nil {
		return storeFailure("Failed to verify vehicle", err)
	}
	if !exists {
		return apperrors.NotFoundWithID("Vehicle", booking.VehicleID)
	}

	exists, err = s.catalog.PackageExists(ctx, booking.PackageID)
	if err != nil {
		return storeFailure("Failed to verify package", err)
	}
	if !exists {
		return apperrors.NotFoundWithID("Package", booking.PackageID)
	}

	return nil
}

// acquireLock tries the advisory lock with bounded exponential backoff. The
// lock serializes allocators on one slot without blocking the rest.
func (s *bookingService) acquireLock(ctx context.Context, slotID string) error {
	delay := s.cfg.AllocRetryBaseDelay

	for attempt := 1; ; attempt++ {
		err := s.locks.Acquire(ctx, slotID, s.cfg.SlotLockTTL)
		if err == nil {
			return nil
		}
		if !errors.Is(err, bookingerrors.ErrLockHeld) {
			return storeFailure("Failed to acquire slot lock", err)
		}
		if attempt >= s.cfg.AllocRetryAttempts {
			return apperrors.Conflict(fmt.Sprintf(
				"Slot %s is being allocated by another request, retry shortly", slotID,
			))
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return apperrors.Timeout("Allocation cancelled while waiting for slot lock")
		case <-timer.C:
		}
		delay *= 2
	}
}

// reconcileDetached converges the slot on a context that survives request
// cancellation; reconcile failures are logged, never surfaced.
func (s *bookingService) reconcileDetached(ctx context.Context, slotID string) {
	reconcileCtx := context.WithoutCancel(ctx)
	if err := s.reconciler.Reconcile(reconcileCtx, slotID); err != nil {
		s.cfg.Log.Error("Slot reconcile failed", "slot_id", slotID, "error", err)
	}
}

func generateBookingCode() string {
	return "PK-" + strings.ToUpper(uuid.New().String()[:8])
}

// storeFailure distinguishes a storage timeout, which the caller may retry,
// from an unexpected internal failure.
func storeFailure(message string, err error) *apperrors.AppError {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.UnavailableWithCause("Booking storage", err)
	}
	return apperrors.Internal(message, err)
}
