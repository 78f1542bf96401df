package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	bookingerrors "github.com/mmsalmanfaris/Smart-Parking-System/internal/bookings/errors"
	"github.com/mmsalmanfaris/Smart-Parking-System/pkg/config"
	"github.com/mmsalmanfaris/Smart-Parking-System/pkg/model"
)

const (
	LockCollectionName = "Slot_locks"
)

// SlotLockRepository implements the per-slot advisory lock. The lock document
// uses the slot ID as _id so the unique index makes acquisition atomic:
// exactly one allocation can insert it. Liveness comes from ExpiresAt: a
// crashed holder's lock is taken over once stale, and the collection's TTL
// index clears abandoned documents.
type SlotLockRepository interface {
	Acquire(ctx context.Context, slotID string, ttl time.Duration) error
	Release(ctx context.Context, slotID string) error
}

type mongoSlotLockRepository struct {
	cfg        *config.Config
	collection *mongo.Collection
}

func NewMongoSlotLockRepository(cfg *config.Config) SlotLockRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoSlotLockRepository{
		cfg:        cfg,
		collection: db.Collection(LockCollectionName),
	}
}

func (r *mongoSlotLockRepository) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if mongo.SessionFromContext(ctx) != nil {
		return ctx, func() {}
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

func (r *mongoSlotLockRepository) Acquire(ctx context.Context, slotID string, ttl time.Duration) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	now := time.Now().UTC()
	lock := model.SlotLock{
		ID:        slotID,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}

	_, err := r.collection.InsertOne(ctx, lock)
	if err == nil {
		return nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("failed to acquire slot lock: %w", err)
	}

	// A lock document exists. Take it over only if its holder let it go
	// stale; the conditional update keeps takeover atomic.
	filter := bson.M{
		"_id":        slotID,
		"expires_at": bson.M{"$lte": now},
	}
	update := bson.M{
		"$set": bson.M{
			"expires_at": now.Add(ttl),
			"created_at": now,
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to take over stale slot lock: %w", err)
	}
	if result.MatchedCount == 0 {
		return bookingerrors.ErrLockHeld
	}

	return nil
}

func (r *mongoSlotLockRepository) Release(ctx context.Context, slotID string) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	_, err := r.collection.DeleteOne(ctx, bson.M{"_id": slotID})
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("failed to release slot lock: %w", err)
	}

	return nil
}
