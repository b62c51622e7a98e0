package services

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aistylehub/tokenledger/internal/models"
	repo "github.com/aistylehub/tokenledger/internal/repository"
)

// memStore is an in-memory stand-in for the postgres repositories. It
// reproduces the two storage guarantees the services lean on: the
// provider_txn_id uniqueness constraint and the conditional debit.
type memStore struct {
	mu           sync.Mutex
	accounts     map[string]*models.Account
	byEmail      map[string]string
	purchases    map[string]models.Purchase // keyed by provider_txn_id
	reservations map[string]*models.Reservation
	events       []models.AuditEvent
	seq          int
}

func newMemStore() *memStore {
	return &memStore{
		accounts:     make(map[string]*models.Account),
		byEmail:      make(map[string]string),
		purchases:    make(map[string]models.Purchase),
		reservations: make(map[string]*models.Reservation),
	}
}

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return prefix + "-" + strconv.Itoa(m.seq)
}

func (m *memStore) Create(_ context.Context, email, passwordHash, role string) (models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.byEmail[email]; dup {
		return models.Account{}, repo.ErrDuplicateEmail
	}
	a := &models.Account{
		ID:           m.nextID("acct"),
		Email:        email,
		PasswordHash: passwordHash,
		Role:         role,
		CreatedAt:    time.Now(),
	}
	m.accounts[a.ID] = a
	m.byEmail[email] = a.ID
	return *a, nil
}

func (m *memStore) GetByID(_ context.Context, id string) (models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return models.Account{}, repo.ErrNotFound
	}
	return *a, nil
}

func (m *memStore) GetByEmail(_ context.Context, email string) (models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byEmail[email]
	if !ok {
		return models.Account{}, repo.ErrNotFound
	}
	return *m.accounts[id], nil
}

func (m *memStore) Credit(_ context.Context, accountID string, amount int64, event models.AuditEvent) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creditLocked(accountID, amount, event)
}

func (m *memStore) creditLocked(accountID string, amount int64, event models.AuditEvent) (int64, error) {
	a, ok := m.accounts[accountID]
	if !ok {
		return 0, repo.ErrNotFound
	}
	a.TokenBalance += amount
	a.TotalPurchased += amount
	m.events = append(m.events, event)
	return a.TokenBalance, nil
}

func (m *memStore) Debit(_ context.Context, accountID string, amount int64, event models.AuditEvent) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.debitLocked(accountID, amount, event)
}

func (m *memStore) debitLocked(accountID string, amount int64, event models.AuditEvent) (int64, error) {
	a, ok := m.accounts[accountID]
	if !ok {
		return 0, repo.ErrNotFound
	}
	if a.TokenBalance < amount {
		return 0, repo.ErrInsufficientBalance
	}
	a.TokenBalance -= amount
	a.TotalUsed += amount
	m.events = append(m.events, event)
	return a.TokenBalance, nil
}

func (m *memStore) Refund(_ context.Context, accountID string, amount int64, event models.AuditEvent) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return 0, repo.ErrNotFound
	}
	a.TokenBalance += amount
	a.TotalUsed -= amount
	m.events = append(m.events, event)
	return a.TokenBalance, nil
}

func (m *memStore) Settle(_ context.Context, p models.Purchase, event models.AuditEvent) (models.Purchase, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, dup := m.purchases[p.ProviderTxnID]; dup {
		return existing, false, nil
	}
	p.ID = m.nextID("pur")
	p.CreatedAt = time.Now()
	if _, err := m.creditLocked(p.AccountID, p.TokensCredited, event); err != nil {
		return models.Purchase{}, false, err
	}
	m.purchases[p.ProviderTxnID] = p
	return p, true, nil
}

func (m *memStore) GetByProviderTxnID(_ context.Context, providerTxnID string) (models.Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.purchases[providerTxnID]
	if !ok {
		return models.Purchase{}, repo.ErrNotFound
	}
	return p, nil
}

func (m *memStore) ListByAccount(_ context.Context, accountID string, limit int) ([]models.Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Purchase
	for _, p := range m.purchases {
		if p.AccountID == accountID && (limit <= 0 || len(out) < limit) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) Hold(_ context.Context, accountID string, amount int64, operation string, event models.AuditEvent) (models.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.debitLocked(accountID, amount, event); err != nil {
		return models.Reservation{}, err
	}
	r := &models.Reservation{
		ID:        m.nextID("res"),
		AccountID: accountID,
		Amount:    amount,
		Operation: operation,
		Status:    models.ReservationHeld,
		CreatedAt: time.Now(),
	}
	m.reservations[r.ID] = r
	return *r, nil
}

func (m *memStore) Commit(_ context.Context, id string) (models.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[id]
	if !ok {
		return models.Reservation{}, repo.ErrNotFound
	}
	if r.Status != models.ReservationHeld {
		return models.Reservation{}, errors.New("reservation closed")
	}
	r.Status = models.ReservationCommitted
	return *r, nil
}

func (m *memStore) Release(_ context.Context, id string, event models.AuditEvent) (models.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[id]
	if !ok {
		return models.Reservation{}, repo.ErrNotFound
	}
	if r.Status != models.ReservationHeld {
		return models.Reservation{}, errors.New("reservation closed")
	}
	a := m.accounts[r.AccountID]
	a.TokenBalance += r.Amount
	a.TotalUsed -= r.Amount
	r.Status = models.ReservationReleased
	m.events = append(m.events, event)
	return *r, nil
}

func (m *memStore) Get(_ context.Context, id string) (models.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[id]
	if !ok {
		return models.Reservation{}, repo.ErrNotFound
	}
	return *r, nil
}

func (m *memStore) Append(_ context.Context, e models.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memStore) ListRecent(_ context.Context, limit int) ([]models.AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.AuditEvent, len(m.events))
	copy(out, m.events)
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// auditView adapts memStore to the AuditEvents interface; its
// ListByAccount signature collides with the purchases one on memStore.
type auditView struct{ *memStore }

func (v auditView) ListByAccount(_ context.Context, accountID string, limit int) ([]models.AuditEvent, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []models.AuditEvent
	for _, e := range v.events {
		if e.AccountID != nil && *e.AccountID == accountID && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func seedAccount(t *testing.T, st *memStore, balance int64) string {
	t.Helper()
	a, err := st.Create(context.Background(), "user"+strconv.Itoa(len(st.accounts))+"@example.com", "x", "user")
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}
	st.mu.Lock()
	st.accounts[a.ID].TokenBalance = balance
	st.accounts[a.ID].TotalPurchased = balance
	st.mu.Unlock()
	return a.ID
}

func eventCount(st *memStore, typ models.AuditEventType) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	n := 0
	for _, e := range st.events {
		if e.EventType == typ {
			n++
		}
	}
	return n
}

func reconcile(t *testing.T, st *memStore, accountID string) {
	t.Helper()
	st.mu.Lock()
	defer st.mu.Unlock()
	a := st.accounts[accountID]
	if a.TotalPurchased-a.TotalUsed != a.TokenBalance {
		t.Fatalf("reconciliation broken: purchased=%d used=%d balance=%d",
			a.TotalPurchased, a.TotalUsed, a.TokenBalance)
	}
	if a.TokenBalance < 0 {
		t.Fatalf("balance went negative: %d", a.TokenBalance)
	}
}
