package solicitation

import (
	"time"

	"github.com/google/uuid"
)

// Solicitation statuses. The reconciler is the only writer of scheduled,
// completed and the reopen back to pending; cancelled is an operator action.
const (
	StatusPending   = "pending"
	StatusScheduled = "scheduled"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

var validStatuses = map[string]bool{
	StatusPending: true, StatusScheduled: true, StatusCompleted: true, StatusCancelled: true,
}

// Solicitation is a patient's request for care, fulfilled by appointments.
type Solicitation struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	PatientID     int64      `db:"patient_id" json:"patient_id"`
	TUSSCode      string     `db:"tuss_code" json:"tuss_code"`
	Description   string     `db:"description" json:"description"`
	Status        string     `db:"status" json:"status"`
	RequestedByID int64      `db:"requested_by_id" json:"requested_by_id"`
	VersionID     int        `db:"version_id" json:"version_id"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt     *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}
