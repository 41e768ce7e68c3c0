package domain

import (
	"context"
	"time"
)

// DataSource provides the raw facts a planning run starts from
type DataSource interface {
	Topology(ctx context.Context) (*Topology, error)
	StockRows(ctx context.Context) ([]StockRow, error)
	SalesRows(ctx context.Context) ([]SalesRow, error)
	// AvailabilityRows returns windows that ended at or after since
	AvailabilityRows(ctx context.Context, since time.Time) ([]AvailabilityRow, error)
	Blocklist(ctx context.Context) (*Blocklist, error)
	SKUIndex(ctx context.Context) (SKUIndex, error)
	ActiveTask(ctx context.Context) (*TaskConfig, error)
}

// InTransitStore reads and writes in-transit transfer records
type InTransitStore interface {
	OpenRows(ctx context.Context) ([]InFlightRow, error)
	Insert(ctx context.Context, t SentTransfer) error
}

// WarehouseStateLogger stores a snapshot of the quota book
type WarehouseStateLogger interface {
	LogWarehouseState(ctx context.Context, quota map[int]Quota) error
}

// Credential is an opaque authorization context for the marketplace endpoints
type Credential struct {
	Name    string
	Token   string
	Cookies map[string]string
}

// CredentialProvider hands out credentials in rotation
type CredentialProvider interface {
	Next() (Credential, error)
	Len() int
}

// QuotaSource queries the remaining quota of one warehouse in one direction
type QuotaSource interface {
	FetchQuota(ctx context.Context, cred Credential, warehouseID int, dir Direction) (int, error)
}

// OrderSubmitter sends a transfer order and returns the HTTP status code.
// An error means no status was received.
type OrderSubmitter interface {
	SubmitOrder(ctx context.Context, cred Credential, req TransferRequest) (int, error)
}
