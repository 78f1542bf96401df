package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	bookingerrors "github.com/mmsalmanfaris/Smart-Parking-System/internal/bookings/errors"
	"github.com/mmsalmanfaris/Smart-Parking-System/pkg/config"
	mongodb "github.com/mmsalmanfaris/Smart-Parking-System/pkg/db/mongo"
	"github.com/mmsalmanfaris/Smart-Parking-System/pkg/model"
)

const (
	CollectionName = "Bookings"
)

// BookingRepository owns the Bookings collection. Deactivate and
// SetPaymentStatus are conditional writes guarded by version; false from
// either means the document moved since it was read, not a failure.
type BookingRepository interface {
	Create(ctx context.Context, booking *model.Booking) (*model.Booking, error)
	FindByID(ctx context.Context, id string) (*model.Booking, error)
	FindAll(ctx context.Context, limit int, offset int64) ([]*model.Booking, int64, error)
	FindBySlot(ctx context.Context, slotID string, from, to *time.Time, limit int, offset int64) ([]*model.Booking, int64, error)
	FindActiveOverlapping(ctx context.Context, slotID string, from, to time.Time) ([]*model.Booking, error)
	CountActiveBySlot(ctx context.Context, slotID string) (int64, error)
	CountActive(ctx context.Context) (int64, error)
	FindExpired(ctx context.Context, now time.Time, limit int) ([]*model.Booking, error)
	Deactivate(ctx context.Context, id string, version int64) (bool, error)
	SetPaymentStatus(ctx context.Context, id string, status model.PaymentStatus, version int64) (bool, error)
	ExecuteTransaction(ctx context.Context, fn mongodb.TransactionFunc) error
}

type mongoBookingRepository struct {
	cfg        *config.Config
	collection *mongo.Collection
	txManager  mongodb.TransactionManager
}

func NewMongoBookingRepository(cfg *config.Config) BookingRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoBookingRepository{
		cfg:        cfg,
		collection: db.Collection(CollectionName),
		txManager:  mongodb.NewTransactionManager(cfg.Client.Mongo),
	}
}

func (r *mongoBookingRepository) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if mongo.SessionFromContext(ctx) != nil {
		return ctx, func() {}
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

func objectIDFromHex(id string) (primitive.ObjectID, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, bookingerrors.ErrInvalidID
	}
	return objectID, nil
}

func (r *mongoBookingRepository) Create(ctx context.Context, booking *model.Booking) (*model.Booking, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	doc := bson.M{
		"booking_code":   booking.Code,
		"vehicle_id":     booking.VehicleID,
		"slot_id":        booking.SlotID,
		"package_id":     booking.PackageID,
		"from_date":      booking.FromDate,
		"to_date":        booking.ToDate,
		"payment_status": booking.PaymentStatus,
		"is_active":      booking.Active,
		"version":        booking.Version,
		"created_at":     booking.CreatedAt,
	}

	result, err := r.collection.InsertOne(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("failed to insert booking: %w", err)
	}

	objectID, ok := result.InsertedID.(primitive.ObjectID)
	if !ok {
		return nil, fmt.Errorf("unexpected inserted ID type %T", result.InsertedID)
	}

	created := *booking
	created.ID = objectID.Hex()
	return &created, nil
}

func (r *mongoBookingRepository) FindByID(ctx context.Context, id string) (*model.Booking, error) {
	objectID, err := objectIDFromHex(id)
	if err != nil {
		return nil, err
	}

	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	var booking model.Booking
	err = r.collection.FindOne(ctx, bson.M{"_id": objectID}).Decode(&booking)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, bookingerrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find booking: %w", err)
	}

	return &booking, nil
}

func (r *mongoBookingRepository) FindAll(ctx context.Context, limit int, offset int64) ([]*model.Booking, int64, error) {
	return r.findPage(ctx, bson.M{}, limit, offset)
}

// FindBySlot returns the slot's bookings, optionally restricted to those
// whose window intersects [from, to).
func (r *mongoBookingRepository) FindBySlot(ctx context.Context, slotID string, from, to *time.Time, limit int, offset int64) ([]*model.Booking, int64, error) {
	filter := bson.M{"slot_id": slotID}
	if from != nil {
		filter["to_date"] = bson.M{"$gt": *from}
	}
	if to != nil {
		filter["from_date"] = bson.M{"$lt": *to}
	}
	return r.findPage(ctx, filter, limit, offset)
}

func (r *mongoBookingRepository) findPage(ctx context.Context, filter bson.M, limit int, offset int64) ([]*model.Booking, int64, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	totalCount, err := r.collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count bookings: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(offset).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to find bookings: %w", err)
	}
	defer cursor.Close(ctx)

	var bookings []*model.Booking
	if err = cursor.All(ctx, &bookings); err != nil {
		return nil, 0, fmt.Errorf("failed to decode bookings: %w", err)
	}

	return bookings, totalCount, nil
}

// FindActiveOverlapping returns active bookings on the slot whose window
// intersects [from, to). Runs inside the allocation transaction.
func (r *mongoBookingRepository) FindActiveOverlapping(ctx context.Context, slotID string, from, to time.Time) ([]*model.Booking, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	filter := bson.M{
		"slot_id":   slotID,
		"is_active": true,
		"from_date": bson.M{"$lt": to},
		"to_date":   bson.M{"$gt": from},
	}

	cursor, err := r.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to find overlapping bookings: %w", err)
	}
	defer cursor.Close(ctx)

	var bookings []*model.Booking
	if err = cursor.All(ctx, &bookings); err != nil {
		return nil, fmt.Errorf("failed to decode overlapping bookings: %w", err)
	}

	return bookings, nil
}

func (r *mongoBookingRepository) CountActiveBySlot(ctx context.Context, slotID string) (int64, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	count, err := r.collection.CountDocuments(ctx, bson.M{
		"slot_id":   slotID,
		"is_active": true,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count active bookings for slot: %w", err)
	}

	return count, nil
}

func (r *mongoBookingRepository) CountActive(ctx context.Context) (int64, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	count, err := r.collection.CountDocuments(ctx, bson.M{"is_active": true})
	if err != nil {
		return 0, fmt.Errorf("failed to count active bookings: %w", err)
	}

	return count, nil
}

// FindExpired returns active bookings whose window has fully elapsed,
// oldest first so repeated sweeps drain the backlog in order.
func (r *mongoBookingRepository) FindExpired(ctx context.Context, now time.Time, limit int) ([]*model.Booking, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	filter := bson.M{
		"is_active": true,
		"to_date":   bson.M{"$lte": now},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "to_date", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find expired bookings: %w", err)
	}
	defer cursor.Close(ctx)

	var bookings []*model.Booking
	if err = cursor.All(ctx, &bookings); err != nil {
		return nil, fmt.Errorf("failed to decode expired bookings: %w", err)
	}

	return bookings, nil
}

func (r *mongoBookingRepository) Deactivate(ctx context.Context, id string, version int64) (bool, error) {
	objectID, err := objectIDFromHex(id)
	if err != nil {
		return false, err
	}

	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	filter := bson.M{
		"_id":       objectID,
		"is_active": true,
		"version":   version,
	}
	update := bson.M{
		"$set": bson.M{"is_active": false},
		"$inc": bson.M{"version": 1},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to deactivate booking: %w", err)
	}

	return result.MatchedCount == 1, nil
}

func (r *mongoBookingRepository) SetPaymentStatus(ctx context.Context, id string, status model.PaymentStatus, version int64) (bool, error) {
	objectID, err := objectIDFromHex(id)
	if err != nil {
		return false, err
	}

	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	filter := bson.M{
		"_id":     objectID,
		"version": version,
	}
	update := bson.M{
		"$set": bson.M{"payment_status": status},
		"$inc": bson.M{"version": 1},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to update payment status: %w", err)
	}

	return result.MatchedCount == 1, nil
}

func (r *mongoBookingRepository) ExecuteTransaction(ctx context.Context, fn mongodb.TransactionFunc) error {
	return r.txManager.ExecuteTransaction(ctx, fn)
}
