package domain

import "time"

// StockRow is one raw stock snapshot row.
// Identifiers come straight from the imported snapshot and may be empty or malformed.
type StockRow struct {
	ProductID   string
	WarehouseID string
	SizeID      string
	RegionID    string
	SizeName    string
	Quantity    int
}

// SalesRow is a recent order count for one (product, size, warehouse)
type SalesRow struct {
	ProductID   int
	SizeID      int
	WarehouseID int
	Orders      int
}

// AvailabilityRow records a window during which a variant was in stock at a warehouse
type AvailabilityRow struct {
	ProductID   int
	SizeID      int
	WarehouseID int
	Begin       time.Time
	End         time.Time
}

// InFlightRow is a dispatched transfer that has not been delivered yet
type InFlightRow struct {
	ProductID     string
	SizeID        string
	FromWarehouse string
	ToWarehouse   string
	FromRegion    string
	ToRegion      string
	Quantity      int
}

// TransferIntent is one planner decision: move units of a variant out of a source
// warehouse into a destination region. The request builder picks the destination warehouse.
type TransferIntent struct {
	ProductID         int `json:"product_id"`
	SizeID            int `json:"size_id"`
	SourceWarehouse   int `json:"source_warehouse"`
	SourceRegion      int `json:"source_region"`
	DestinationRegion int `json:"destination_region"`
	Quantity          int `json:"quantity"`
}

// LineItem is one size inside a transfer request
type LineItem struct {
	SKU      int64  `json:"sku"`
	SizeID   int    `json:"size_id"`
	SizeName string `json:"size_name,omitempty"`
	Quantity int    `json:"quantity"`
}

// TransferRequest is one order sent to the transfer endpoint
type TransferRequest struct {
	ProductID         int        `json:"product_id"`
	Source            int        `json:"source"`
	Destination       int        `json:"destination"`
	SourceRegion      int        `json:"source_region"`
	DestinationRegion int        `json:"destination_region"`
	Lines             []LineItem `json:"lines"`
}

// Total returns the number of units in the request
func (r TransferRequest) Total() int {
	total := 0
	for _, l := range r.Lines {
		total += l.Quantity
	}
	return total
}

// SentTransfer is an accepted transfer waiting to be persisted as in transit
type SentTransfer struct {
	RunID         string
	ProductID     int
	SizeID        int
	FromWarehouse int
	ToWarehouse   int
	FromRegion    int
	ToRegion      int
	Quantity      int
	SentAt        time.Time
}

// InFlightTransfer is a persisted in-transit record
type InFlightTransfer struct {
	ID            int64      `json:"id"`
	RunID         string     `json:"run_id"`
	ProductID     int        `json:"product_id"`
	SizeID        int        `json:"size_id"`
	FromWarehouse int        `json:"from_warehouse"`
	ToWarehouse   int        `json:"to_warehouse"`
	FromRegion    int        `json:"from_region"`
	ToRegion      int        `json:"to_region"`
	Quantity      int        `json:"quantity"`
	QuantityLeft  int        `json:"quantity_left"`
	Day           string     `json:"day"`
	Finished      bool       `json:"finished"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// Outcome classifies a transfer-order response
type Outcome string

const (
	OutcomeAccepted  Outcome = "accepted"
	OutcomeRetryable Outcome = "retryable"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFatal     Outcome = "fatal"
)

// ClassifyStatus maps an HTTP status code to a dispatch outcome
func ClassifyStatus(code int) Outcome {
	switch code {
	case 200, 201, 202, 204:
		return OutcomeAccepted
	case 429, 500, 502, 503, 504:
		return OutcomeRetryable
	case 400, 403:
		return OutcomeRejected
	default:
		return OutcomeFatal
	}
}
