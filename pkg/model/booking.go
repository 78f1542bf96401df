package model

import "time"

// PaymentStatus tracks the recorded outcome of the external payment flow.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentConfirmed PaymentStatus = "confirmed"
	PaymentFailed    PaymentStatus = "failed"
)

// Final reports whether the payment outcome can no longer change.
func (p PaymentStatus) Final() bool {
	return p == PaymentConfirmed || p == PaymentFailed
}

// Booking grants a vehicle exclusive claim on a slot for the half-open window
// [FromDate, ToDate). Bookings are never deleted; expiry and cancellation flip
// Active to false. Every mutation is guarded by Version.
type Booking struct {
	ID            string        `json:"id,omitempty" bson:"_id,omitempty" validate:"omitempty,mongodb"`
	Code          string        `json:"booking_code" bson:"booking_code"`
	VehicleID     string        `json:"vehicle_id" bson:"vehicle_id" validate:"required"`
	SlotID        string        `json:"slot_id" bson:"slot_id" validate:"required"`
	PackageID     string        `json:"package_id" bson:"package_id" validate:"required"`
	FromDate      time.Time     `json:"from_date" bson:"from_date" validate:"required"`
	ToDate        time.Time     `json:"to_date" bson:"to_date" validate:"required,gtfield=FromDate"`
	PaymentStatus PaymentStatus `json:"payment_status" bson:"payment_status" validate:"omitempty,oneof=pending confirmed failed"`
	Active        bool          `json:"is_active" bson:"is_active"`
	Version       int64         `json:"version" bson:"version"`
	CreatedAt     time.Time     `json:"created_at" bson:"created_at"`
}

// Overlaps reports whether the booking window intersects [from, to).
// Half-open semantics: a booking ending exactly at `from` does not overlap.
func (b *Booking) Overlaps(from, to time.Time) bool {
	return b.FromDate.Before(to) && b.ToDate.After(from)
}

// PaymentUpdate is the callback payload recorded by the external payment flow.
type PaymentUpdate struct {
	Outcome PaymentStatus `json:"outcome" validate:"required,oneof=confirmed failed"`
}

// MaintenanceUpdate toggles a slot in or out of maintenance.
type MaintenanceUpdate struct {
	Maintenance bool `json:"maintenance"`
}
