package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	slotserrors "github.com/mmsalmanfaris/Smart-Parking-System/internal/slots/errors"
	"github.com/mmsalmanfaris/Smart-Parking-System/pkg/config"
	"github.com/mmsalmanfaris/Smart-Parking-System/pkg/model"
)

const (
	CollectionName = "Slots"
)

// SlotRepository owns the Slot documents. Status writes are conditional on
// the version read at the start of the operation; a mismatch is an expected
// coordination outcome, reported as false rather than an error.
type SlotRepository interface {
	FindByID(ctx context.Context, id string) (*model.Slot, error)
	FindAll(ctx context.Context) ([]*model.Slot, error)
	TransitionStatus(ctx context.Context, id string, expected, next model.SlotStatus, version int64) (bool, error)
	SetStatus(ctx context.Context, id string, status model.SlotStatus) error
	CountByStatus(ctx context.Context) (map[model.SlotStatus]int64, error)
}

type mongoSlotRepository struct {
	cfg        *config.Config
	collection *mongo.Collection
}

func NewMongoSlotRepository(cfg *config.Config) SlotRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoSlotRepository{
		cfg:        cfg,
		collection: db.Collection(CollectionName),
	}
}

// withTimeout bounds storage calls unless the context already carries a
// transaction session, which must not be re-wrapped.
func (r *mongoSlotRepository) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if mongo.SessionFromContext(ctx) != nil {
		return ctx, func() {}
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

func (r *mongoSlotRepository) FindByID(ctx context.Context, id string) (*model.Slot, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	var slot model.Slot
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&slot)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, slotserrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find slot: %w", err)
	}

	return &slot, nil
}

func (r *mongoSlotRepository) FindAll(ctx context.Context) ([]*model.Slot, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "label", Value: 1}})

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find slots: %w", err)
	}
	defer cursor.Close(ctx)

	var slots []*model.Slot
	if err = cursor.All(ctx, &slots); err != nil {
		return nil, fmt.Errorf("failed to decode slots: %w", err)
	}

	return slots, nil
}

func (r *mongoSlotRepository) TransitionStatus(ctx context.Context, id string, expected, next model.SlotStatus, version int64) (bool, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	filter := bson.M{
		"_id":     id,
		"status":  expected,
		"version": version,
	}
	update := bson.M{
		"$set": bson.M{
			"status":     next,
			"updated_at": time.Now().UTC().Truncate(time.Millisecond),
		},
		"$inc": bson.M{"version": 1},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to transition slot status: %w", err)
	}

	return result.MatchedCount == 1, nil
}

// SetStatus is the operator override path (maintenance toggle); it bumps the
// version unconditionally so in-flight conditional writes lose.
func (r *mongoSlotRepository) SetStatus(ctx context.Context, id string, status model.SlotStatus) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	update := bson.M{
		"$set": bson.M{
			"status":     status,
			"updated_at": time.Now().UTC().Truncate(time.Millisecond),
		},
		"$inc": bson.M{"version": 1},
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("failed to set slot status: %w", err)
	}
	if result.MatchedCount == 0 {
		return slotserrors.ErrNotFound
	}

	return nil
}

func (r *mongoSlotRepository) CountByStatus(ctx context.Context) (map[model.SlotStatus]int64, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.M{
			"_id":   "$status",
			"count": bson.M{"$sum": 1},
		}}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to count slots by status: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Status model.SlotStatus `bson:"_id"`
		Count  int64            `bson:"count"`
	}
	if err = cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode slot counts: %w", err)
	}

	counts := make(map[model.SlotStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
