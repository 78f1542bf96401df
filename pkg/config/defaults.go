package config

import "time"

const (
	DefaultMongoURI          = "mongodb://localhost:27017"
	DefaultMongoDatabaseName = "smart_parking"
	DefaultMongoConnTimeout  = 10 * time.Second

	DefaultPort     = "8080"
	DefaultLogLevel = "info"

	DefaultRequestTimeout = 30 * time.Second
	DefaultIdempotencyTTL = 24 * time.Hour
	DefaultMaxRequestSize = 1 * 1024 * 1024 // 1MB

	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 15 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	// Expiry is detected within one sweep interval; the interval is a latency
	// tunable, not a correctness parameter.
	DefaultSweepInterval = 30 * time.Second
	DefaultAuditInterval = 1 * time.Hour
	DefaultSweepBatch    = 200

	DefaultSlotLockTTL         = 10 * time.Second
	DefaultAllocRetryAttempts  = 3
	DefaultAllocRetryBaseDelay = 50 * time.Millisecond

	DefaultBookingEventsTopic    = "parking.bookings"
	DefaultBookingEventsDLQTopic = "parking.bookings.dlq"

	DefaultPaginationLimit = 100
)
