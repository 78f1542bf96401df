package events

import (
	"context"
	"time"

	pkgkafka "github.com/mmsalmanfaris/Smart-Parking-System/pkg/kafka"
	"github.com/mmsalmanfaris/Smart-Parking-System/pkg/logger"
	"github.com/mmsalmanfaris/Smart-Parking-System/pkg/middleware"
	"github.com/mmsalmanfaris/Smart-Parking-System/pkg/model"
)

const (
	EventBookingCreated        = "booking.created"
	EventBookingCancelled      = "booking.cancelled"
	EventBookingExpired        = "booking.expired"
	EventBookingPaymentUpdated = "booking.payment_updated"

	eventSource = "parking-api"
)

// BookingEvent is the payload published for every booking lifecycle change.
type BookingEvent struct {
	BookingID     string              `json:"booking_id"`
	BookingCode   string              `json:"booking_code"`
	SlotID        string              `json:"slot_id"`
	VehicleID     string              `json:"vehicle_id"`
	FromDate      time.Time           `json:"from_date"`
	ToDate        time.Time           `json:"to_date"`
	PaymentStatus model.PaymentStatus `json:"payment_status"`
	Active        bool                `json:"is_active"`
	OccurredAt    time.Time           `json:"occurred_at"`
}

// EventPublisher emits booking lifecycle events. Publishing is best effort:
// callers log failures but never roll back storage on them.
type EventPublisher interface {
	PublishBookingEvent(ctx context.Context, eventType string, booking *model.Booking) error
	Close() error
}

type kafkaPublisher struct {
	producer *pkgkafka.Producer
	log      *logger.Logger
}

func NewKafkaPublisher(producer *pkgkafka.Producer, log *logger.Logger) EventPublisher {
	return &kafkaPublisher{
		producer: producer,
		log:      log,
	}
}

func (p *kafkaPublisher) PublishBookingEvent(ctx context.Context, eventType string, booking *model.Booking) error {
	event := BookingEvent{
		BookingID:     booking.ID,
		BookingCode:   booking.Code,
		SlotID:        booking.SlotID,
		VehicleID:     booking.VehicleID,
		FromDate:      booking.FromDate,
		ToDate:        booking.ToDate,
		PaymentStatus: booking.PaymentStatus,
		Active:        booking.Active,
		OccurredAt:    time.Now().UTC(),
	}

	// Key by booking ID so all events for one booking stay ordered on a
	// single partition.
	msg := pkgkafka.NewMessage().
		WithKey(booking.ID).
		WithValue(event).
		WithEventType(eventType).
		WithCorrelationID(middleware.RequestID(ctx)).
		WithSource(eventSource).
		Build()

	if err := p.producer.Publish(ctx, msg); err != nil {
		p.log.Error("Failed to publish booking event",
			"event_type", eventType,
			"booking_id", booking.ID,
			"error", err,
		)
		return err
	}

	p.log.Debug("Booking event published",
		"event_type", eventType,
		"booking_id", booking.ID,
	)
	return nil
}

func (p *kafkaPublisher) Close() error {
	return p.producer.Close()
}

// noopPublisher is used when no Kafka brokers are configured.
type noopPublisher struct{}

func NewNoopPublisher() EventPublisher {
	return noopPublisher{}
}

func (noopPublisher) PublishBookingEvent(context.Context, string, *model.Booking) error {
	return nil
}

func (noopPublisher) Close() error { return nil }
