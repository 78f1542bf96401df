package service

import (
	"context"
	"errors"
	"math"

	slotserrors "github.com/mmsalmanfaris/Smart-Parking-System/internal/slots/errors"
	"github.com/mmsalmanfaris/Smart-Parking-System/internal/slots/repository"
	"github.com/mmsalmanfaris/Smart-Parking-System/pkg/config"
	apperrors "github.com/mmsalmanfaris/Smart-Parking-System/pkg/errors"
	"github.com/mmsalmanfaris/Smart-Parking-System/pkg/model"
)

// SlotRegistry is the authoritative interface over slot status. Transition
// is a compare-and-set: false means the expected status/version no longer
// holds and the caller must re-read.
type SlotRegistry interface {
	Get(ctx context.Context, id string) (*model.Slot, error)
	List(ctx context.Context) ([]*model.Slot, error)
	Transition(ctx context.Context, id string, expected, next model.SlotStatus, version int64) (bool, error)
	SetMaintenance(ctx context.Context, id string, on bool) error
	Utilization(ctx context.Context) (*model.SlotUtilization, error)
}

// ActiveBookingCounter supplies the active booking count for the
// utilization report; wired to the booking repository at startup.
type ActiveBookingCounter interface {
	CountActive(ctx context.Context) (int64, error)
}

type slotRegistry struct {
	repo     repository.SlotRepository
	bookings ActiveBookingCounter
	cfg      *config.Config
}

func NewSlotRegistry(repo repository.SlotRepository, bookings ActiveBookingCounter, cfg *config.Config) SlotRegistry {
	return &slotRegistry{
		repo:     repo,
		bookings: bookings,
		cfg:      cfg,
	}
}

func (s *slotRegistry) Get(ctx context.Context, id string) (*model.Slot, error) {
	if id == "" {
		return nil, apperrors.InvalidInput("Slot ID cannot be empty")
	}

	slot, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, slotserrors.ErrNotFound) {
			return nil, apperrors.NotFoundWithID("Slot", id)
		}
		return nil, storeFailure("Failed to retrieve slot", err)
	}

	return slot, nil
}

func (s *slotRegistry) List(ctx context.Context) ([]*model.Slot, error) {
	slots, err := s.repo.FindAll(ctx)
	if err != nil {
		s.cfg.Log.Error("Failed to list slots", "error", err)
		return nil, storeFailure("Failed to retrieve slots", err)
	}
	return slots, nil
}

func (s *slotRegistry) Transition(ctx context.Context, id string, expected, next model.SlotStatus, version int64) (bool, error) {
	if !expected.Valid() || !next.Valid() {
		return false, apperrors.InvalidInput("Invalid slot status")
	}

	ok, err := s.repo.TransitionStatus(ctx, id, expected, next, version)
	if err != nil {
		return false, storeFailure("Failed to transition slot status", err)
	}
	if ok {
		s.cfg.Log.Debug("Slot status transitioned",
			"slot_id", id,
			"from", expected,
			"to", next,
		)
	}
	return ok, nil
}

func (s *slotRegistry) SetMaintenance(ctx context.Context, id string, on bool) error {
	slot, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if on {
		if slot.Status == model.SlotMaintenance {
			return nil
		}
		if err := s.repo.SetStatus(ctx, id, model.SlotMaintenance); err != nil {
			return storeFailure("Failed to set slot maintenance", err)
		}
		s.cfg.Log.Info("Slot placed under maintenance", "slot_id", id)
		return nil
	}

	if slot.Status != model.SlotMaintenance {
		return nil
	}
	// Leaving maintenance lands on Active; the periodic audit restores
	// Reserved if active bookings still reference the slot.
	if err := s.repo.SetStatus(ctx, id, model.SlotActive); err != nil {
		return storeFailure("Failed to clear slot maintenance", err)
	}
	s.cfg.Log.Info("Slot returned from maintenance", "slot_id", id)
	return nil
}

func (s *slotRegistry) Utilization(ctx context.Context) (*model.SlotUtilization, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		s.cfg.Log.Error("Failed to compute slot utilization", "error", err)
		return nil, storeFailure("Failed to compute utilization", err)
	}

	activeBookings, err := s.bookings.CountActive(ctx)
	if err != nil {
		s.cfg.Log.Error("Failed to count active bookings", "error", err)
		return nil, storeFailure("Failed to compute utilization", err)
	}

	report := &model.SlotUtilization{
		ActiveSlots:      counts[model.SlotActive],
		ReservedSlots:    counts[model.SlotReserved],
		OccupiedSlots:    counts[model.SlotOccupied],
		MaintenanceSlots: counts[model.SlotMaintenance],
		ActiveBookings:   activeBookings,
	}
	report.TotalSlots = report.ActiveSlots + report.ReservedSlots + report.OccupiedSlots + report.MaintenanceSlots

	if report.TotalSlots > 0 {
		allocated := report.ReservedSlots + report.OccupiedSlots
		report.UsagePercent = math.Round(float64(allocated)/float64(report.TotalSlots)*10000) / 100
	}

	return report, nil
}

// storeFailure distinguishes a storage timeout, which the caller may retry,
// from an unexpected internal failure.
func storeFailure(message string, err error) *apperrors.AppError {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.UnavailableWithCause("Slot storage", err)
	}
	return apperrors.Internal(message, err)
}
