package repository

import "time"

// Transfer statuses as stored in the journal.
const (
	TransferSubmitted = "submitted"
	TransferInBlock   = "inBlock"
	TransferFailed    = "failed"
)

// Transfer represents a journal row for one submission.
type Transfer struct {
	ID            string
	Endpoint      string
	Sender        string
	Receiver      string
	Amount        string // base units, decimal
	DisplayAmount string
	Status        string
	BlockHash     *string
	Error         *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
