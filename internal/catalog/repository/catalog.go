package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/mmsalmanfaris/Smart-Parking-System/pkg/config"
)

const (
	VehiclesCollection = "Vehicles"
	PackagesCollection = "Packages"
)

// CatalogRepository answers existence checks against the reference
// collections owned by facility administration. The allocation core only
// reads them.
type CatalogRepository interface {
	VehicleExists(ctx context.Context, id string) (bool, error)
	PackageExists(ctx context.Context, id string) (bool, error)
}

type mongoCatalogRepository struct {
	cfg      *config.Config
	vehicles *mongo.Collection
	packages *mongo.Collection
}

func NewMongoCatalogRepository(cfg *config.Config) CatalogRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoCatalogRepository{
		cfg:      cfg,
		vehicles: db.Collection(VehiclesCollection),
		packages: db.Collection(PackagesCollection),
	}
}

func (r *mongoCatalogRepository) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if mongo.SessionFromContext(ctx) != nil {
		return ctx, func() {}
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

func (r *mongoCatalogRepository) VehicleExists(ctx context.Context, id string) (bool, error) {
	return r.exists(ctx, r.vehicles, id)
}

func (r *mongoCatalogRepository) PackageExists(ctx context.Context, id string) (bool, error) {
	return r.exists(ctx, r.packages, id)
}

func (r *mongoCatalogRepository) exists(ctx context.Context, collection *mongo.Collection, id string) (bool, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	// Reference documents may carry either ObjectID or string keys depending
	// on how they were seeded; accept both.
	ids := []any{id}
	if objectID, err := primitive.ObjectIDFromHex(id); err == nil {
		ids = append(ids, objectID)
	}

	count, err := collection.CountDocuments(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return false, fmt.Errorf("failed to check %s existence: %w", collection.Name(), err)
	}

	return count > 0, nil
}
