package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bookingerrors "github.com/mmsalmanfaris/Smart-Parking-System/internal/bookings/errors"
	"github.com/mmsalmanfaris/Smart-Parking-System/internal/bookings/events"
	"github.com/mmsalmanfaris/Smart-Parking-System/internal/bookings/validator"
	apperrors "github.com/mmsalmanfaris/Smart-Parking-System/pkg/errors"
	"github.com/mmsalmanfaris/Smart-Parking-System/pkg/model"
)

func newBookingRequest(slotID string, from, to time.Time) *model.Booking {
	return &model.Booking{
		VehicleID: "vehicle-1",
		SlotID:    slotID,
		PackageID: "package-1",
		FromDate:  from,
		ToDate:    to,
	}
}

func newService(store *fakeStore, locks *fakeLocks, slots *fakeSlotRegistry, publisher events.EventPublisher) BookingService {
	cfg := newTestConfig()
	reconciler := NewConsistencyGuard(slots, store, cfg.Log)
	return NewBookingService(
		store,
		locks,
		&mockCatalogRepository{},
		slots,
		validator.NewBookingValidator(),
		publisher,
		reconciler,
		cfg,
	)
}

func TestCreateBooking(t *testing.T) {
	from := time.Now().UTC().Add(time.Hour)
	to := from.Add(2 * time.Hour)

	store := newFakeStore()
	slots := newFakeSlotRegistry(&model.Slot{ID: "slot-1", Label: "A-01", Status: model.SlotActive})
	publisher := &recordingPublisher{}
	svc := newService(store, newFakeLocks(), slots, publisher)

	created, err := svc.Create(context.Background(), newBookingRequest("slot-1", from, to))
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.True(t, created.Active)
	assert.Equal(t, model.PaymentPending, created.PaymentStatus)
	assert.Contains(t, created.Code, "PK-")
	assert.Equal(t, model.SlotReserved, slots.status("slot-1"))
	assert.Equal(t, []string{events.EventBookingCreated}, publisher.types())
}

func TestCreateBookingInvalidWindow(t *testing.T) {
	store := newFakeStore()
	slots := newFakeSlotRegistry(&model.Slot{ID: "slot-1", Status: model.SlotActive})
	svc := newService(store, newFakeLocks(), slots, &recordingPublisher{})

	from := time.Now().UTC().Add(time.Hour)

	tests := []struct {
		name string
		from time.Time
		to   time.Time
	}{
		{"to equals from", from, from},
		{"to before from", from, from.Add(-time.Hour)},
		{"from in the past", time.Now().UTC().Add(-2 * time.Hour), from},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), newBookingRequest("slot-1", tt.from, tt.to))
			require.Error(t, err)
			assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation), "got %v", err)
		})
	}

	assert.Empty(t, store.bookings)
}

func TestCreateBookingOverlapConflict(t *testing.T) {
	from := time.Now().UTC().Add(time.Hour)
	to := from.Add(2 * time.Hour)

	store := newFakeStore()
	slots := newFakeSlotRegistry(&model.Slot{ID: "slot-1", Status: model.SlotActive})
	svc := newService(store, newFakeLocks(), slots, &recordingPublisher{})

	_, err := svc.Create(context.Background(), newBookingRequest("slot-1", from, to))
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), newBookingRequest("slot-1", from.Add(time.Hour), to.Add(time.Hour)))
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeConflict), "got %v", err)

	count, err := store.CountActiveBySlot(context.Background(), "slot-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestCreateBookingAdjacentWindowsAllowed(t *testing.T) {
	from := time.Now().UTC().Add(time.Hour)
	mid := from.Add(2 * time.Hour)
	end := mid.Add(2 * time.Hour)

	store := newFakeStore()
	slots := newFakeSlotRegistry(&model.Slot{ID: "slot-1", Status: model.SlotActive})
	svc := newService(store, newFakeLocks(), slots, &recordingPublisher{})

	_, err := svc.Create(context.Background(), newBookingRequest("slot-1", from, mid))
	require.NoError(t, err)

	// Half-open windows: [from, mid) and [mid, end) do not overlap.
	_, err = svc.Create(context.Background(), newBookingRequest("slot-1", mid, end))
	require.NoError(t, err)

	count, err := store.CountActiveBySlot(context.Background(), "slot-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, model.SlotReserved, slots.status("slot-1"))
}

func TestCreateBookingMaintenanceSlotRejected(t *testing.T) {
	from := time.Now().UTC().Add(time.Hour)

	store := newFakeStore()
	slots := newFakeSlotRegistry(&model.Slot{ID: "slot-1", Status: model.SlotMaintenance})
	svc := newService(store, newFakeLocks(), slots, &recordingPublisher{})

	_, err := svc.Create(context.Background(), newBookingRequest("slot-1", from, from.Add(time.Hour)))
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeConflict), "got %v", err)
	assert.Empty(t, store.bookings)
}

func TestCreateBookingUnknownSlot(t *testing.T) {
	from := time.Now().UTC().Add(time.Hour)

	svc := newService(newFakeStore(), newFakeLocks(), newFakeSlotRegistry(), &recordingPublisher{})

	_, err := svc.Create(context.Background(), newBookingRequest("missing", from, from.Add(time.Hour)))
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound), "got %v", err)
}

func TestCreateBookingUnknownVehicle(t *testing.T) {
	from := time.Now().UTC().Add(time.Hour)

	cfg := newTestConfig()
	store := newFakeStore()
	slots := newFakeSlotRegistry(&model.Slot{ID: "slot-1", Status: model.SlotActive})
	svc := NewBookingService(
		store,
		newFakeLocks(),
		&mockCatalogRepository{
			VehicleExistsFn: func(context.Context, string) (bool, error) { return false, nil },
		},
		slots,
		validator.NewBookingValidator(),
		&recordingPublisher{},
		NewConsistencyGuard(slots, store, cfg.Log),
		cfg,
	)

	_, err := svc.Create(context.Background(), newBookingRequest("slot-1", from, from.Add(time.Hour)))
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound), "got %v", err)
	assert.Empty(t, store.bookings)
}

// Concurrent allocations of the same window on the same slot must produce
// exactly one booking.
func TestCreateBookingNoDoubleAllocation(t *testing.T) {
	from := time.Now().UTC().Add(time.Hour)
	to := from.Add(2 * time.Hour)

	store := newFakeStore()
	slots := newFakeSlotRegistry(&model.Slot{ID: "slot-1", Status: model.SlotActive})
	svc := newService(store, newFakeLocks(), slots, &recordingPublisher{})

	const attempts = 16

	var wg sync.WaitGroup
	results := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Create(context.Background(), newBookingRequest("slot-1", from, to))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes, conflicts int
	for err := range results {
		if err == nil {
			successes++
			continue
		}
		require.True(t, apperrors.IsCode(err, apperrors.CodeConflict), "unexpected error: %v", err)
		conflicts++
	}

	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, conflicts)

	count, err := store.CountActiveBySlot(context.Background(), "slot-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, model.SlotReserved, slots.status("slot-1"))
}

func TestCancelBooking(t *testing.T) {
	from := time.Now().UTC().Add(time.Hour)

	store := newFakeStore()
	slots := newFakeSlotRegistry(&model.Slot{ID: "slot-1", Status: model.SlotActive})
	publisher := &recordingPublisher{}
	svc := newService(store, newFakeLocks(), slots, publisher)

	created, err := svc.Create(context.Background(), newBookingRequest("slot-1", from, from.Add(time.Hour)))
	require.NoError(t, err)
	require.Equal(t, model.SlotReserved, slots.status("slot-1"))

	require.NoError(t, svc.Cancel(context.Background(), created.ID))

	stored, err := store.FindByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.False(t, stored.Active)
	assert.Equal(t, model.SlotActive, slots.status("slot-1"))
	assert.Equal(t, []string{events.EventBookingCreated, events.EventBookingCancelled}, publisher.types())

	// Cancelling again is a no-op success and publishes nothing new.
	require.NoError(t, svc.Cancel(context.Background(), created.ID))
	assert.Len(t, publisher.types(), 2)
}

func TestCancelBookingKeepsSlotReservedWhileOthersActive(t *testing.T) {
	from := time.Now().UTC().Add(time.Hour)
	mid := from.Add(2 * time.Hour)

	store := newFakeStore()
	slots := newFakeSlotRegistry(&model.Slot{ID: "slot-1", Status: model.SlotActive})
	svc := newService(store, newFakeLocks(), slots, &recordingPublisher{})

	first, err := svc.Create(context.Background(), newBookingRequest("slot-1", from, mid))
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), newBookingRequest("slot-1", mid, mid.Add(time.Hour)))
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(context.Background(), first.ID))

	assert.Equal(t, model.SlotReserved, slots.status("slot-1"))
}

func TestRecordPayment(t *testing.T) {
	from := time.Now().UTC().Add(time.Hour)

	store := newFakeStore()
	slots := newFakeSlotRegistry(&model.Slot{ID: "slot-1", Status: model.SlotActive})
	svc := newService(store, newFakeLocks(), slots, &recordingPublisher{})

	created, err := svc.Create(context.Background(), newBookingRequest("slot-1", from, from.Add(time.Hour)))
	require.NoError(t, err)

	updated, err := svc.RecordPayment(context.Background(), created.ID, model.PaymentConfirmed)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentConfirmed, updated.PaymentStatus)
	assert.True(t, updated.Active)

	// Repeating the same final outcome is idempotent.
	again, err := svc.RecordPayment(context.Background(), created.ID, model.PaymentConfirmed)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentConfirmed, again.PaymentStatus)

	// A different outcome after finalization is a conflict.
	_, err = svc.RecordPayment(context.Background(), created.ID, model.PaymentFailed)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeConflict), "got %v", err)
}

func TestRecordPaymentFailureReleasesSlot(t *testing.T) {
	from := time.Now().UTC().Add(time.Hour)

	store := newFakeStore()
	slots := newFakeSlotRegistry(&model.Slot{ID: "slot-1", Status: model.SlotActive})
	svc := newService(store, newFakeLocks(), slots, &recordingPublisher{})

	created, err := svc.Create(context.Background(), newBookingRequest("slot-1", from, from.Add(time.Hour)))
	require.NoError(t, err)
	require.Equal(t, model.SlotReserved, slots.status("slot-1"))

	updated, err := svc.RecordPayment(context.Background(), created.ID, model.PaymentFailed)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentFailed, updated.PaymentStatus)
	assert.False(t, updated.Active)
	assert.Equal(t, model.SlotActive, slots.status("slot-1"))
}

func TestRecordPaymentInvalidOutcome(t *testing.T) {
	svc := newService(newFakeStore(), newFakeLocks(), newFakeSlotRegistry(), &recordingPublisher{})

	_, err := svc.RecordPayment(context.Background(), "bk-0001", model.PaymentPending)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation), "got %v", err)
}

func TestCreateBookingLockContention(t *testing.T) {
	from := time.Now().UTC().Add(time.Hour)

	var attempts int
	locks := &mockSlotLockRepository{
		AcquireFn: func(context.Context, string, time.Duration) error {
			attempts++
			return bookingerrors.ErrLockHeld
		},
	}

	cfg := newTestConfig()
	store := newFakeStore()
	slots := newFakeSlotRegistry(&model.Slot{ID: "slot-1", Status: model.SlotActive})
	svc := NewBookingService(
		store,
		locks,
		&mockCatalogRepository{},
		slots,
		validator.NewBookingValidator(),
		&recordingPublisher{},
		NewConsistencyGuard(slots, store, cfg.Log),
		cfg,
	)

	_, err := svc.Create(context.Background(), newBookingRequest("slot-1", from, from.Add(time.Hour)))
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeConflict), "got %v", err)
	assert.Equal(t, cfg.AllocRetryAttempts, attempts)
	assert.Empty(t, store.bookings)
}

// Full lifecycle: allocate, reject an overlapping request, expire via the
// sweeper, then the previously rejected request succeeds.
func TestBookingLifecycleScenario(t *testing.T) {
	t0 := time.Now().UTC().Add(time.Hour)

	store := newFakeStore()
	slots := newFakeSlotRegistry(&model.Slot{ID: "S1", Label: "A-01", Status: model.SlotActive})
	publisher := &recordingPublisher{}
	svc := newService(store, newFakeLocks(), slots, publisher)

	first, err := svc.Create(context.Background(), &model.Booking{
		VehicleID: "V1",
		SlotID:    "S1",
		PackageID: "P1",
		FromDate:  t0,
		ToDate:    t0.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, model.SlotReserved, slots.status("S1"))

	contested := &model.Booking{
		VehicleID: "V2",
		SlotID:    "S1",
		PackageID: "P1",
		FromDate:  t0.Add(30 * time.Minute),
		ToDate:    t0.Add(90 * time.Minute),
	}
	_, err = svc.Create(context.Background(), contested)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeConflict), "got %v", err)
	assert.Equal(t, model.SlotReserved, slots.status("S1"))

	// Wall clock passes t0+1h; the sweeper expires the first booking.
	cfg := newTestConfig()
	sweeper := NewExpirySweeper(store, NewConsistencyGuard(slots, store, cfg.Log), slots, publisher, cfg)
	sweeper.now = func() time.Time { return t0.Add(61 * time.Minute) }
	sweeper.sweepOnce(context.Background())

	stored, err := store.FindByID(context.Background(), first.ID)
	require.NoError(t, err)
	assert.False(t, stored.Active)
	assert.Equal(t, model.SlotActive, slots.status("S1"))

	// The same contested window is now free.
	_, err = svc.Create(context.Background(), &model.Booking{
		VehicleID: "V2",
		SlotID:    "S1",
		PackageID: "P1",
		FromDate:  contested.FromDate,
		ToDate:    contested.ToDate,
	})
	require.NoError(t, err)
	assert.Equal(t, model.SlotReserved, slots.status("S1"))
}

func TestGetByID(t *testing.T) {
	svc := newService(newFakeStore(), newFakeLocks(), newFakeSlotRegistry(), &recordingPublisher{})

	_, err := svc.GetByID(context.Background(), "")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidInput))

	_, err = svc.GetByID(context.Background(), "bk-9999")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))
}
