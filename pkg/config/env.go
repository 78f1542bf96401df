package config

const (
	EnvMongoURI          = "MONGO_URI"
	EnvMongoDatabaseName = "MONGO_DATABASE_NAME"
	EnvMongoConnTimeout  = "MONGO_CONN_TIMEOUT"

	EnvPort     = "PORT"
	EnvLogLevel = "LOG_LEVEL"

	EnvRequestTimeout = "REQUEST_TIMEOUT"
	EnvIdempotencyTTL = "IDEMPOTENCY_TTL"
	EnvMaxRequestSize = "MAX_REQUEST_SIZE"

	EnvReadTimeout     = "READ_TIMEOUT"
	EnvWriteTimeout    = "WRITE_TIMEOUT"
	EnvIdleTimeout     = "IDLE_TIMEOUT"
	EnvShutdownTimeout = "SHUTDOWN_TIMEOUT"

	EnvSweepInterval = "SWEEP_INTERVAL"
	EnvAuditInterval = "AUDIT_INTERVAL"
	EnvSweepBatch    = "SWEEP_BATCH_SIZE"

	EnvSlotLockTTL         = "SLOT_LOCK_TTL"
	EnvAllocRetryAttempts  = "ALLOC_RETRY_ATTEMPTS"
	EnvAllocRetryBaseDelay = "ALLOC_RETRY_BASE_DELAY"

	EnvBookingEventsTopic    = "BOOKING_EVENTS_TOPIC"
	EnvBookingEventsDLQTopic = "BOOKING_EVENTS_DLQ_TOPIC"
)
