package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	bookingerrors "github.com/mmsalmanfaris/Smart-Parking-System/internal/bookings/errors"
	"github.com/mmsalmanfaris/Smart-Parking-System/internal/bookings/events"
	"github.com/mmsalmanfaris/Smart-Parking-System/pkg/config"
	mongodb "github.com/mmsalmanfaris/Smart-Parking-System/pkg/db/mongo"
	apperrors "github.com/mmsalmanfaris/Smart-Parking-System/pkg/errors"
	"github.com/mmsalmanfaris/Smart-Parking-System/pkg/logger"
	"github.com/mmsalmanfaris/Smart-Parking-System/pkg/model"
)

func newTestConfig() *config.Config {
	return &config.Config{
		ReadTimeout:         5 * time.Second,
		WriteTimeout:        5 * time.Second,
		SweepInterval:       30 * time.Second,
		AuditInterval:       time.Hour,
		SweepBatch:          200,
		SlotLockTTL:         10 * time.Second,
		AllocRetryAttempts:  3,
		AllocRetryBaseDelay: time.Millisecond,
		Log: logger.New(logger.Config{
			Level:  logger.ERROR,
			Format: logger.TEXT,
			Output: io.Discard,
		}),
	}
}

func testLogger() *logger.Logger {
	return logger.New(logger.Config{
		Level:  logger.ERROR,
		Format: logger.TEXT,
		Output: io.Discard,
	})
}

// mockBookingRepository is a function-field mock; unset fields panic so a
// test only exercises the calls it expects.
type mockBookingRepository struct {
	CreateFn                func(ctx context.Context, booking *model.Booking) (*model.Booking, error)
	FindByIDFn              func(ctx context.Context, id string) (*model.Booking, error)
	FindAllFn               func(ctx context.Context, limit int, offset int64) ([]*model.Booking, int64, error)
	FindBySlotFn            func(ctx context.Context, slotID string, from, to *time.Time, limit int, offset int64) ([]*model.Booking, int64, error)
	FindActiveOverlappingFn func(ctx context.Context, slotID string, from, to time.Time) ([]*model.Booking, error)
	CountActiveBySlotFn     func(ctx context.Context, slotID string) (int64, error)
	CountActiveFn           func(ctx context.Context) (int64, error)
	FindExpiredFn           func(ctx context.Context, now time.Time, limit int) ([]*model.Booking, error)
	DeactivateFn            func(ctx context.Context, id string, version int64) (bool, error)
	SetPaymentStatusFn      func(ctx context.Context, id string, status model.PaymentStatus, version int64) (bool, error)
	ExecuteTransactionFn    func(ctx context.Context, fn mongodb.TransactionFunc) error
}

func (m *mockBookingRepository) Create(ctx context.Context, booking *model.Booking) (*model.Booking, error) {
	return m.CreateFn(ctx, booking)
}

func (m *mockBookingRepository) FindByID(ctx context.Context, id string) (*model.Booking, error) {
	return m.FindByIDFn(ctx, id)
}

func (m *mockBookingRepository) FindAll(ctx context.Context, limit int, offset int64) ([]*model.Booking, int64, error) {
	return m.FindAllFn(ctx, limit, offset)
}

func (m *mockBookingRepository) FindBySlot(ctx context.Context, slotID string, from, to *time.Time, limit int, offset int64) ([]*model.Booking, int64, error) {
	return m.FindBySlotFn(ctx, slotID, from, to, limit, offset)
}

func (m *mockBookingRepository) FindActiveOverlapping(ctx context.Context, slotID string, from, to time.Time) ([]*model.Booking, error) {
	return m.FindActiveOverlappingFn(ctx, slotID, from, to)
}

func (m *mockBookingRepository) CountActiveBySlot(ctx context.Context, slotID string) (int64, error) {
	return m.CountActiveBySlotFn(ctx, slotID)
}

func (m *mockBookingRepository) CountActive(ctx context.Context) (int64, error) {
	return m.CountActiveFn(ctx)
}

func (m *mockBookingRepository) FindExpired(ctx context.Context, now time.Time, limit int) ([]*model.Booking, error) {
	return m.FindExpiredFn(ctx, now, limit)
}

func (m *mockBookingRepository) Deactivate(ctx context.Context, id string, version int64) (bool, error) {
	return m.DeactivateFn(ctx, id, version)
}

func (m *mockBookingRepository) SetPaymentStatus(ctx context.Context, id string, status model.PaymentStatus, version int64) (bool, error) {
	return m.SetPaymentStatusFn(ctx, id, status, version)
}

func (m *mockBookingRepository) ExecuteTransaction(ctx context.Context, fn mongodb.TransactionFunc) error {
	if m.ExecuteTransactionFn != nil {
		return m.ExecuteTransactionFn(ctx, fn)
	}
	return fn(ctx)
}

type mockSlotLockRepository struct {
	AcquireFn func(ctx context.Context, slotID string, ttl time.Duration) error
	ReleaseFn func(ctx context.Context, slotID string) error
}

func (m *mockSlotLockRepository) Acquire(ctx context.Context, slotID string, ttl time.Duration) error {
	return m.AcquireFn(ctx, slotID, ttl)
}

func (m *mockSlotLockRepository) Release(ctx context.Context, slotID string) error {
	if m.ReleaseFn != nil {
		return m.ReleaseFn(ctx, slotID)
	}
	return nil
}

type mockCatalogRepository struct {
	VehicleExistsFn func(ctx context.Context, id string) (bool, error)
	PackageExistsFn func(ctx context.Context, id string) (bool, error)
}

func (m *mockCatalogRepository) VehicleExists(ctx context.Context, id string) (bool, error) {
	if m.VehicleExistsFn != nil {
		return m.VehicleExistsFn(ctx, id)
	}
	return true, nil
}

func (m *mockCatalogRepository) PackageExists(ctx context.Context, id string) (bool, error) {
	if m.PackageExistsFn != nil {
		return m.PackageExistsFn(ctx, id)
	}
	return true, nil
}

type mockSlotRegistry struct {
	GetFn            func(ctx context.Context, id string) (*model.Slot, error)
	ListFn           func(ctx context.Context) ([]*model.Slot, error)
	TransitionFn     func(ctx context.Context, id string, expected, next model.SlotStatus, version int64) (bool, error)
	SetMaintenanceFn func(ctx context.Context, id string, on bool) error
	UtilizationFn    func(ctx context.Context) (*model.SlotUtilization, error)
}

func (m *mockSlotRegistry) Get(ctx context.Context, id string) (*model.Slot, error) {
	return m.GetFn(ctx, id)
}

func (m *mockSlotRegistry) List(ctx context.Context) ([]*model.Slot, error) {
	return m.ListFn(ctx)
}

func (m *mockSlotRegistry) Transition(ctx context.Context, id string, expected, next model.SlotStatus, version int64) (bool, error) {
	return m.TransitionFn(ctx, id, expected, next, version)
}

func (m *mockSlotRegistry) SetMaintenance(ctx context.Context, id string, on bool) error {
	return m.SetMaintenanceFn(ctx, id, on)
}

func (m *mockSlotRegistry) Utilization(ctx context.Context) (*model.SlotUtilization, error) {
	return m.UtilizationFn(ctx)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) PublishBookingEvent(_ context.Context, eventType string, booking *model.Booking) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType+":"+booking.ID)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, strings.SplitN(e, ":", 2)[0])
	}
	return out
}

var _ events.EventPublisher = (*recordingPublisher)(nil)

// fakeStore is a mutex-guarded in-memory booking store for concurrency
// tests. ExecuteTransaction holds a dedicated mutex for the whole callback
// to mirror write-conflict serialization.
type fakeStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	bookings map[string]*model.Booking
	nextID   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{bookings: make(map[string]*model.Booking)}
}

func (s *fakeStore) Create(_ context.Context, booking *model.Booking) (*model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	created := *booking
	created.ID = fmt.Sprintf("bk-%04d", s.nextID)
	s.bookings[created.ID] = &created

	copied := created
	return &copied, nil
}

func (s *fakeStore) FindByID(_ context.Context, id string) (*model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	booking, ok := s.bookings[id]
	if !ok {
		return nil, bookingerrors.ErrNotFound
	}
	copied := *booking
	return &copied, nil
}

func (s *fakeStore) FindAll(_ context.Context, _ int, _ int64) ([]*model.Booking, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.Booking, 0, len(s.bookings))
	for _, b := range s.bookings {
		copied := *b
		out = append(out, &copied)
	}
	return out, int64(len(out)), nil
}

func (s *fakeStore) FindBySlot(_ context.Context, slotID string, from, to *time.Time, _ int, _ int64) ([]*model.Booking, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Booking
	for _, b := range s.bookings {
		if b.SlotID != slotID {
			continue
		}
		if from != nil && !b.ToDate.After(*from) {
			continue
		}
		if to != nil && !b.FromDate.Before(*to) {
			continue
		}
		copied := *b
		out = append(out, &copied)
	}
	return out, int64(len(out)), nil
}

func (s *fakeStore) FindActiveOverlapping(_ context.Context, slotID string, from, to time.Time) ([]*model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Booking
	for _, b := range s.bookings {
		if b.SlotID == slotID && b.Active && b.Overlaps(from, to) {
			copied := *b
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *fakeStore) CountActiveBySlot(_ context.Context, slotID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, b := range s.bookings {
		if b.SlotID == slotID && b.Active {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) CountActive(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, b := range s.bookings {
		if b.Active {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) FindExpired(_ context.Context, now time.Time, limit int) ([]*model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Booking
	for _, b := range s.bookings {
		if b.Active && !b.ToDate.After(now) {
			copied := *b
			out = append(out, &copied)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *fakeStore) Deactivate(_ context.Context, id string, version int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	booking, ok := s.bookings[id]
	if !ok || !booking.Active || booking.Version != version {
		return false, nil
	}
	booking.Active = false
	booking.Version++
	return true, nil
}

func (s *fakeStore) SetPaymentStatus(_ context.Context, id string, status model.PaymentStatus, version int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	booking, ok := s.bookings[id]
	if !ok || booking.Version != version {
		return false, nil
	}
	booking.PaymentStatus = status
	booking.Version++
	return true, nil
}

func (s *fakeStore) ExecuteTransaction(ctx context.Context, fn mongodb.TransactionFunc) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return fn(ctx)
}

// fakeLocks is an in-memory advisory lock table.
type fakeLocks struct {
	mu    sync.Mutex
	locks map[string]time.Time
}

func newFakeLocks() *fakeLocks {
	return &fakeLocks{locks: make(map[string]time.Time)}
}

func (l *fakeLocks) Acquire(_ context.Context, slotID string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if expires, held := l.locks[slotID]; held && expires.After(now) {
		return bookingerrors.ErrLockHeld
	}
	l.locks[slotID] = now.Add(ttl)
	return nil
}

func (l *fakeLocks) Release(_ context.Context, slotID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locks, slotID)
	return nil
}

// fakeSlotRegistry is an in-memory versioned slot table.
type fakeSlotRegistry struct {
	mu    sync.Mutex
	slots map[string]*model.Slot
}

func newFakeSlotRegistry(slots ...*model.Slot) *fakeSlotRegistry {
	reg := &fakeSlotRegistry{slots: make(map[string]*model.Slot)}
	for _, slot := range slots {
		copied := *slot
		reg.slots[slot.ID] = &copied
	}
	return reg
}

func (r *fakeSlotRegistry) Get(_ context.Context, id string) (*model.Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.slots[id]
	if !ok {
		return nil, apperrors.NotFoundWithID("Slot", id)
	}
	copied := *slot
	return &copied, nil
}

func (r *fakeSlotRegistry) List(_ context.Context) ([]*model.Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*model.Slot, 0, len(r.slots))
	for _, slot := range r.slots {
		copied := *slot
		out = append(out, &copied)
	}
	return out, nil
}

func (r *fakeSlotRegistry) Transition(_ context.Context, id string, expected, next model.SlotStatus, version int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.slots[id]
	if !ok || slot.Status != expected || slot.Version != version {
		return false, nil
	}
	slot.Status = next
	slot.Version++
	return true, nil
}

func (r *fakeSlotRegistry) SetMaintenance(_ context.Context, id string, on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.slots[id]
	if !ok {
		return apperrors.NotFoundWithID("Slot", id)
	}
	if on {
		slot.Status = model.SlotMaintenance
	} else {
		slot.Status = model.SlotActive
	}
	slot.Version++
	return nil
}

func (r *fakeSlotRegistry) Utilization(context.Context) (*model.SlotUtilization, error) {
	return &model.SlotUtilization{}, nil
}

func (r *fakeSlotRegistry) status(id string) model.SlotStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slots[id].Status
}
