package model

import "time"

// SlotStatus is the persisted availability state of a parking slot.
type SlotStatus string

const (
	SlotActive      SlotStatus = "active"
	SlotReserved    SlotStatus = "reserved"
	SlotOccupied    SlotStatus = "occupied"
	SlotMaintenance SlotStatus = "maintenance"
)

// Valid reports whether s is one of the known slot statuses.
func (s SlotStatus) Valid() bool {
	switch s {
	case SlotActive, SlotReserved, SlotOccupied, SlotMaintenance:
		return true
	}
	return false
}

// Allocated reports whether the status means at least one booking holds the slot.
func (s SlotStatus) Allocated() bool {
	return s == SlotReserved || s == SlotOccupied
}

// Slot is a physical parking space. Slot documents are created by facility
// setup; the allocation core only mutates status, and every status write is
// guarded by Version.
type Slot struct {
	ID        string     `json:"id,omitempty" bson:"_id,omitempty"`
	Label     string     `json:"label" bson:"label"`
	Status    SlotStatus `json:"status" bson:"status"`
	Version   int64      `json:"version" bson:"version"`
	UpdatedAt time.Time  `json:"updated_at" bson:"updated_at"`
}

// SlotUtilization is the staff-facing occupancy summary.
type SlotUtilization struct {
	TotalSlots       int64 `json:"total_slots"`
	ActiveSlots      int64 `json:"active_slots"`
	ReservedSlots    int64 `json:"reserved_slots"`
	OccupiedSlots    int64 `json:"occupied_slots"`
	MaintenanceSlots int64 `json:"maintenance_slots"`
	ActiveBookings   int64 `json:"active_bookings"`
	UsagePercent     float64 `json:"usage_percent"`
}
