// Package events provides the in-process event bus used to publish run progress.
package events

// EventType represents different event types
type EventType string

const (
	// Planning run lifecycle
	RunStarted       EventType = "RUN_STARTED"
	QuotaFetched     EventType = "QUOTA_FETCHED"
	PlanBuilt        EventType = "PLAN_BUILT"
	TransferAccepted EventType = "TRANSFER_ACCEPTED"
	DispatchStopped  EventType = "DISPATCH_STOPPED"
	RunCompleted     EventType = "RUN_COMPLETED"

	// Background work
	DeliveryReconciled EventType = "DELIVERY_RECONCILED"
	BackupCompleted    EventType = "BACKUP_COMPLETED"

	JobStarted   EventType = "JOB_STARTED"
	JobCompleted EventType = "JOB_COMPLETED"
	JobFailed    EventType = "JOB_FAILED"

	ErrorOccurred EventType = "ERROR_OCCURRED"
)
