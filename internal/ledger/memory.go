package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a concurrency-safe in-memory store useful for unit tests.
// RunInTransaction clones the state, applies the function to the clone and
// swaps it in on success, so a failing function leaves nothing behind and
// concurrent transactions serialize on the mutex.
type MemoryStore struct {
	mu    sync.Mutex
	state *memoryState
}

type memoryState struct {
	memberships map[string]Membership
	treasuries  map[string]Treasury
	pools       map[string]InsurancePool
	holds       map[string]EscrowHold
	loans       map[string]Loan
	entries     []Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemoryState()}
}

func newMemoryState() *memoryState {
	return &memoryState{
		memberships: make(map[string]Membership),
		treasuries:  make(map[string]Treasury),
		pools:       make(map[string]InsurancePool),
		holds:       make(map[string]EscrowHold),
		loans:       make(map[string]Loan),
	}
}

func (s *memoryState) clone() *memoryState {
	next := newMemoryState()
	for k, v := range s.memberships {
		next.memberships[k] = v
	}
	for k, v := range s.treasuries {
		next.treasuries[k] = v
	}
	for k, v := range s.pools {
		next.pools[k] = v
	}
	for k, v := range s.holds {
		next.holds[k] = v
	}
	for k, v := range s.loans {
		next.loans[k] = v
	}
	next.entries = append(next.entries, s.entries...)
	return next
}

// RunInTransaction applies fn atomically.
func (s *MemoryStore) RunInTransaction(_ context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.clone()
	if err := fn(&memoryTx{state: next}); err != nil {
		return err
	}
	s.state = next
	return nil
}

type memoryTx struct {
	state *memoryState
}

func memberKey(circleID, userID string) string { return circleID + "|" + userID }

func holdKey(circleID, referenceID string) string { return circleID + "|" + referenceID }

func (t *memoryTx) Membership(circleID, userID string) (Membership, error) {
	m, ok := t.state.memberships[memberKey(circleID, userID)]
	if !ok {
		return Membership{}, fmt.Errorf("membership %s/%s: %w", circleID, userID, ErrNotFound)
	}
	return m, nil
}

func (t *memoryTx) Memberships(circleID string) ([]Membership, error) {
	var out []Membership
	for _, m := range t.state.memberships {
		if m.CircleID == circleID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (t *memoryTx) EnsureMembership(circleID, userID string) (Membership, error) {
	key := memberKey(circleID, userID)
	if m, ok := t.state.memberships[key]; ok {
		return m, nil
	}
	m := Membership{CircleID: circleID, UserID: userID, CreatedAt: time.Now().UTC()}
	t.state.memberships[key] = m
	return m, nil
}

func (t *memoryTx) AdjustMembership(circleID, userID string, delta int64) (int64, error) {
	key := memberKey(circleID, userID)
	m, ok := t.state.memberships[key]
	if !ok {
		return 0, fmt.Errorf("membership %s/%s: %w", circleID, userID, ErrNotFound)
	}
	m.Balance += delta
	t.state.memberships[key] = m
	return m.Balance, nil
}

func (t *memoryTx) Treasury(circleID string) (Treasury, error) {
	if treasury, ok := t.state.treasuries[circleID]; ok {
		return treasury, nil
	}
	return Treasury{CircleID: circleID}, nil
}

func (t *memoryTx) AdjustTreasury(circleID string, delta int64) (int64, error) {
	treasury, _ := t.Treasury(circleID)
	treasury.Balance += delta
	t.state.treasuries[circleID] = treasury
	return treasury.Balance, nil
}

func (t *memoryTx) ReserveTreasury(circleID string, delta int64) error {
	treasury, _ := t.Treasury(circleID)
	treasury.Reserved += delta
	t.state.treasuries[circleID] = treasury
	return nil
}

func (t *memoryTx) Pool(circleID string) (InsurancePool, error) {
	if pool, ok := t.state.pools[circleID]; ok {
		return pool, nil
	}
	return InsurancePool{CircleID: circleID}, nil
}

func (t *memoryTx) AdjustPool(circleID string, delta int64) (int64, error) {
	pool, _ := t.Pool(circleID)
	pool.Balance += delta
	t.state.pools[circleID] = pool
	return pool.Balance, nil
}

func (t *memoryTx) Hold(circleID, referenceID string) (EscrowHold, error) {
	hold, ok := t.state.holds[holdKey(circleID, referenceID)]
	if !ok {
		return EscrowHold{}, fmt.Errorf("hold %s/%s: %w", circleID, referenceID, ErrNotFound)
	}
	return hold, nil
}

func (t *memoryTx) Holds(circleID string) ([]EscrowHold, error) {
	var out []EscrowHold
	for _, hold := range t.state.holds {
		if hold.CircleID == circleID {
			out = append(out, hold)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReferenceID < out[j].ReferenceID })
	return out, nil
}

func (t *memoryTx) PutHold(h EscrowHold) error {
	key := holdKey(h.CircleID, h.ReferenceID)
	if _, exists := t.state.holds[key]; exists {
		return fmt.Errorf("hold %s: %w", h.ReferenceID, ErrDuplicateReference)
	}
	t.state.holds[key] = h
	return nil
}

func (t *memoryTx) ReduceHold(circleID, referenceID string, amount int64) error {
	key := holdKey(circleID, referenceID)
	hold, ok := t.state.holds[key]
	if !ok {
		return fmt.Errorf("hold %s/%s: %w", circleID, referenceID, ErrNotFound)
	}
	if hold.Amount < amount {
		return ErrHoldExceeded
	}
	hold.Amount -= amount
	if hold.Amount == 0 {
		delete(t.state.holds, key)
		return nil
	}
	t.state.holds[key] = hold
	return nil
}

func (t *memoryTx) Loan(id string) (Loan, error) {
	loan, ok := t.state.loans[id]
	if !ok {
		return Loan{}, fmt.Errorf("loan %s: %w", id, ErrNotFound)
	}
	return loan, nil
}

func (t *memoryTx) ActiveLoan(circleID, userID string) (Loan, error) {
	for _, loan := range t.state.loans {
		if loan.CircleID == circleID && loan.UserID == userID && loan.Status == LoanActive {
			return loan, nil
		}
	}
	return Loan{}, fmt.Errorf("active loan for %s/%s: %w", circleID, userID, ErrNotFound)
}

func (t *memoryTx) DueLoans(asOf time.Time) ([]Loan, error) {
	var out []Loan
	for _, loan := range t.state.loans {
		if loan.Status == LoanActive && !loan.NextPaymentDue.After(asOf) {
			out = append(out, loan)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memoryTx) CreateLoan(l Loan) error {
	if _, exists := t.state.loans[l.ID]; exists {
		return fmt.Errorf("loan %s: %w", l.ID, ErrDuplicateReference)
	}
	t.state.loans[l.ID] = l
	return nil
}

func (t *memoryTx) UpdateLoan(l Loan) error {
	if _, exists := t.state.loans[l.ID]; !exists {
		return fmt.Errorf("loan %s: %w", l.ID, ErrNotFound)
	}
	t.state.loans[l.ID] = l
	return nil
}

func (t *memoryTx) AppendEntries(entries ...Entry) error {
	t.state.entries = append(t.state.entries, entries...)
	return nil
}

func (t *memoryTx) Entries(circleID string) ([]Entry, error) {
	var out []Entry
	for _, e := range t.state.entries {
		if e.CircleID == circleID {
			out = append(out, e)
		}
	}
	return out, nil
}
