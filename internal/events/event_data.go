package events

import (
	"encoding/json"
	"time"
)

// EventData is the interface that all event data types must implement
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// RunStartedData contains data for RunStarted events
type RunStartedData struct {
	RunID  string `json:"run_id"`
	DryRun bool   `json:"dry_run"`
}

// EventType returns the event type for RunStartedData
func (d *RunStartedData) EventType() EventType {
	return RunStarted
}

// QuotaFetchedData contains data for QuotaFetched events
type QuotaFetchedData struct {
	RunID      string `json:"run_id"`
	Warehouses int    `json:"warehouses"`
	SrcTotal   int    `json:"src_total"`
	DstTotal   int    `json:"dst_total"`
	Cached     bool   `json:"cached"`
}

// EventType returns the event type for QuotaFetchedData
func (d *QuotaFetchedData) EventType() EventType {
	return QuotaFetched
}

// PlanBuiltData contains data for PlanBuilt events
type PlanBuiltData struct {
	RunID    string `json:"run_id"`
	Products int    `json:"products"`
	Intents  int    `json:"intents"`
	Units    int    `json:"units"`
	Requests int    `json:"requests"`
	Defects  int    `json:"defects"`
}

// EventType returns the event type for PlanBuiltData
func (d *PlanBuiltData) EventType() EventType {
	return PlanBuilt
}

// TransferAcceptedData contains data for TransferAccepted events
type TransferAcceptedData struct {
	RunID       string `json:"run_id"`
	ProductID   int    `json:"product_id"`
	Source      int    `json:"source"`
	Destination int    `json:"destination"`
	Units       int    `json:"units"`
}

// EventType returns the event type for TransferAcceptedData
func (d *TransferAcceptedData) EventType() EventType {
	return TransferAccepted
}

// DispatchStoppedData contains data for DispatchStopped events
type DispatchStoppedData struct {
	RunID     string `json:"run_id"`
	Reason    string `json:"reason"`
	Status    int    `json:"status,omitempty"`
	Remaining int    `json:"remaining"`
}

// EventType returns the event type for DispatchStoppedData
func (d *DispatchStoppedData) EventType() EventType {
	return DispatchStopped
}

// RunCompletedData contains data for RunCompleted events
type RunCompletedData struct {
	RunID      string  `json:"run_id"`
	Accepted   int     `json:"accepted"`
	UnitsSent  int     `json:"units_sent"`
	StopReason string  `json:"stop_reason,omitempty"`
	Error      string  `json:"error,omitempty"`
	Duration   float64 `json:"duration"`
}

// EventType returns the event type for RunCompletedData
func (d *RunCompletedData) EventType() EventType {
	return RunCompleted
}

// DeliveryReconciledData contains data for DeliveryReconciled events
type DeliveryReconciledData struct {
	Delivered       int  `json:"delivered"`
	Updated         int  `json:"updated"`
	Finished        int  `json:"finished"`
	NewDestinations int  `json:"new_destinations"`
	StaleReport     bool `json:"stale_report"`
}

// EventType returns the event type for DeliveryReconciledData
func (d *DeliveryReconciledData) EventType() EventType {
	return DeliveryReconciled
}

// BackupCompletedData contains data for BackupCompleted events
type BackupCompletedData struct {
	Key   string `json:"key"`
	Bytes int64  `json:"bytes"`
}

// EventType returns the event type for BackupCompletedData
func (d *BackupCompletedData) EventType() EventType {
	return BackupCompleted
}

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType {
	return ErrorOccurred
}

// JobStatusData contains data for job lifecycle events
type JobStatusData struct {
	JobID     string    `json:"job_id"`
	Status    string    `json:"status"` // "started", "completed", "failed"
	Error     string    `json:"error,omitempty"`
	Duration  float64   `json:"duration,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventType returns the event type for JobStatusData.
// The actual event type is determined by the Status field.
func (d *JobStatusData) EventType() EventType {
	switch d.Status {
	case "completed":
		return JobCompleted
	case "failed":
		return JobFailed
	default:
		return JobStarted
	}
}

// convertEventDataToMap converts typed EventData to the map carried by Event
func convertEventDataToMap(data EventData) map[string]interface{} {
	if data == nil {
		return nil
	}

	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return nil
	}

	var result map[string]interface{}
	if err := json.Unmarshal(jsonBytes, &result); err != nil {
		return nil
	}
	return result
}
