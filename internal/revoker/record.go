package revoker

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// Record status values.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
)

// ErrRecordNotFound is returned when no record exists for an approval.
var ErrRecordNotFound = errors.New("revoker: record not found")

// Record is the audit trail of one executed revocation. Created when the
// transaction is submitted, updated on confirmation.
type Record struct {
	ApprovalID  string     `json:"approvalId"`
	Owner       string     `json:"owner"`
	Token       string     `json:"token"`
	Spender     string     `json:"spender"`
	TxHash      string     `json:"txHash"`
	Strategy    string     `json:"strategy"`
	Status      string     `json:"status"`
	SubmittedAt time.Time  `json:"submittedAt"`
	ConfirmedAt *time.Time `json:"confirmedAt,omitempty"`
}

// RecordStore persists revocation records.
type RecordStore interface {
	Create(ctx context.Context, r *Record) error
	UpdateStatus(ctx context.Context, approvalID, status string, confirmedAt *time.Time) error
	Get(ctx context.Context, approvalID string) (*Record, error)
	ListByOwner(ctx context.Context, owner string, limit int) ([]*Record, error)
}

// MemoryRecordStore is an in-memory record store for demo/development mode.
type MemoryRecordStore struct {
	records map[string]*Record
	mu      sync.RWMutex
}

// NewMemoryRecordStore creates a new in-memory record store.
func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{
		records: make(map[string]*Record),
	}
}

func (m *MemoryRecordStore) Create(_ context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.records[r.ApprovalID] = &cp
	return nil
}

func (m *MemoryRecordStore) UpdateStatus(_ context.Context, approvalID, status string, confirmedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[approvalID]
	if !ok {
		return ErrRecordNotFound
	}
	r.Status = status
	r.ConfirmedAt = confirmedAt
	return nil
}

func (m *MemoryRecordStore) Get(_ context.Context, approvalID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[approvalID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryRecordStore) ListByOwner(_ context.Context, owner string, limit int) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	addr := strings.ToLower(owner)
	var result []*Record
	for _, r := range m.records {
		if r.Owner == addr {
			cp := *r
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].SubmittedAt.After(result[j].SubmittedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

var _ RecordStore = (*MemoryRecordStore)(nil)
