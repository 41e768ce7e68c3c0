package testing

import (
	"context"
	"sync"

	"github.com/aristath/restock/internal/domain"
)

// FakeMarketplace serves quota queries and order submissions from memory.
// It is safe for concurrent use.
type FakeMarketplace struct {
	mu       sync.Mutex
	quota    map[int]domain.Quota
	quotaErr error
	statuses []int
	orders   []domain.TransferRequest
}

// NewFakeMarketplace creates a marketplace with the given quota per warehouse
func NewFakeMarketplace(quota map[int]domain.Quota) *FakeMarketplace {
	cp := make(map[int]domain.Quota, len(quota))
	for k, v := range quota {
		cp[k] = v
	}
	return &FakeMarketplace{quota: cp}
}

// SetQuotaError makes every quota query fail
func (m *FakeMarketplace) SetQuotaError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotaErr = err
}

// QueueStatuses sets the status codes returned by the next submissions.
// Once exhausted every submission is accepted with 200.
func (m *FakeMarketplace) QueueStatuses(codes ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, codes...)
}

// FetchQuota returns the configured quota of a warehouse
func (m *FakeMarketplace) FetchQuota(_ context.Context, _ domain.Credential, warehouseID int, dir domain.Direction) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.quotaErr != nil {
		return 0, m.quotaErr
	}
	q := m.quota[warehouseID]
	if dir == domain.DirectionSrc {
		return q.Src, nil
	}
	return q.Dst, nil
}

// SubmitOrder records the request. Accepted orders consume quota like the real endpoint.
func (m *FakeMarketplace) SubmitOrder(_ context.Context, _ domain.Credential, req domain.TransferRequest) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := 200
	if len(m.statuses) > 0 {
		status, m.statuses = m.statuses[0], m.statuses[1:]
	}
	m.orders = append(m.orders, req)

	if domain.ClassifyStatus(status) == domain.OutcomeAccepted {
		src := m.quota[req.Source]
		src.Src -= req.Total()
		m.quota[req.Source] = src
		dst := m.quota[req.Destination]
		dst.Dst -= req.Total()
		m.quota[req.Destination] = dst
	}
	return status, nil
}

// Orders returns every submitted request in order
func (m *FakeMarketplace) Orders() []domain.TransferRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.TransferRequest, len(m.orders))
	copy(out, m.orders)
	return out
}
