package service

import (
	"context"

	slotservice "github.com/mmsalmanfaris/Smart-Parking-System/internal/slots/service"
	"github.com/mmsalmanfaris/Smart-Parking-System/pkg/logger"
	"github.com/mmsalmanfaris/Smart-Parking-System/pkg/model"
)

// ActiveSlotCounter counts active bookings on a single slot.
type ActiveSlotCounter interface {
	CountActiveBySlot(ctx context.Context, slotID string) (int64, error)
}

// ConsistencyGuard converges a slot's status to the state derived from its
// active bookings: zero active bookings means Active, one or more means
// Reserved. Maintenance always wins and is never touched here. Every write
// goes through the version-guarded transition, so the guard is safe to run
// concurrently with allocations: a lost race just means someone else already
// moved the slot, and the next pass re-derives.
type ConsistencyGuard struct {
	slots    slotservice.SlotRegistry
	bookings ActiveSlotCounter
	log      *logger.Logger
}

func NewConsistencyGuard(slots slotservice.SlotRegistry, bookings ActiveSlotCounter, log *logger.Logger) *ConsistencyGuard {
	return &ConsistencyGuard{
		slots:    slots,
		bookings: bookings,
		log:      log,
	}
}

// Reconcile re-derives one slot's status. It is idempotent; a false from the
// version-guarded transition is left for the next pass.
func (g *ConsistencyGuard) Reconcile(ctx context.Context, slotID string) error {
	slot, err := g.slots.Get(ctx, slotID)
	if err != nil {
		return err
	}

	if slot.Status == model.SlotMaintenance {
		return nil
	}

	active, err := g.bookings.CountActiveBySlot(ctx, slotID)
	if err != nil {
		return err
	}

	var next model.SlotStatus
	switch {
	case active == 0 && slot.Status.Allocated():
		next = model.SlotActive
	case active > 0 && slot.Status == model.SlotActive:
		next = model.SlotReserved
	default:
		return nil
	}

	ok, err := g.slots.Transition(ctx, slotID, slot.Status, next, slot.Version)
	if err != nil {
		return err
	}
	if !ok {
		g.log.Debug("Slot moved during reconcile, skipping",
			"slot_id", slotID,
			"observed_status", slot.Status,
		)
		return nil
	}

	g.log.Info("Slot status reconciled",
		"slot_id", slotID,
		"from", slot.Status,
		"to", next,
		"active_bookings", active,
	)
	return nil
}
