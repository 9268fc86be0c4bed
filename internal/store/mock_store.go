// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite, with rollback on failed transactions

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// mockState holds the tables. It is never accessed without MockStore.mu held.
type mockState struct {
	groups      map[string]*Group      // keyed by group ID
	memberships map[string]*Membership // keyed by wallet address
	seq         map[string]int64       // insertion order per wallet address
	names       map[string]string      // display-name ledger
	audit       []*AuditEvent
	challenges  map[string]*Challenge // keyed by nonce
	nextSeq     int64
}

func newMockState() *mockState {
	return &mockState{
		groups:      make(map[string]*Group),
		memberships: make(map[string]*Membership),
		seq:         make(map[string]int64),
		names:       make(map[string]string),
		challenges:  make(map[string]*Challenge),
	}
}

// clone deep-copies everything a transaction can mutate.
func (s *mockState) clone() *mockState {
	c := newMockState()
	for k, g := range s.groups {
		cp := *g
		c.groups[k] = &cp
	}
	for k, m := range s.memberships {
		cp := *m
		c.memberships[k] = &cp
	}
	for k, v := range s.seq {
		c.seq[k] = v
	}
	for k, v := range s.names {
		c.names[k] = v
	}
	c.audit = append([]*AuditEvent(nil), s.audit...)
	for k, ch := range s.challenges {
		cp := *ch
		c.challenges[k] = &cp
	}
	c.nextSeq = s.nextSeq
	return c
}

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu    sync.Mutex
	state *mockState

	// AuditErr, when set, is returned by every audit append.
	AuditErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{state: newMockState()}
}

// mockTx runs GroupTx operations against a state the caller has locked.
type mockTx struct {
	st       *mockState
	auditErr error
}

func (t *mockTx) GetGroup(ctx context.Context, groupID string) (*Group, error) {
	g, ok := t.st.groups[groupID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (t *mockTx) CreateGroup(ctx context.Context, g *Group) error {
	cp := *g
	t.st.groups[g.ID] = &cp
	return nil
}

func (t *mockTx) DeleteGroup(ctx context.Context, groupID string) error {
	if _, ok := t.st.groups[groupID]; !ok {
		return ErrNotFound
	}
	for _, m := range t.st.memberships {
		if m.GroupID == groupID {
			return fmt.Errorf("group %s still has members", groupID)
		}
	}
	delete(t.st.groups, groupID)
	return nil
}

func (t *mockTx) SetPrimaryWallet(ctx context.Context, groupID, walletAddress string) error {
	g, ok := t.st.groups[groupID]
	if !ok {
		return ErrNotFound
	}
	g.PrimaryWallet = walletAddress
	return nil
}

func (t *mockTx) GetMembership(ctx context.Context, walletAddress string) (*Membership, error) {
	m, ok := t.st.memberships[walletAddress]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (t *mockTx) ListMemberships(ctx context.Context, groupID string) ([]*Membership, error) {
	members := []*Membership{}
	for _, m := range t.st.memberships {
		if m.GroupID == groupID {
			cp := *m
			members = append(members, &cp)
		}
	}
	sort.Slice(members, func(i, j int) bool {
		if !members[i].AddedAt.Equal(members[j].AddedAt) {
			return members[i].AddedAt.Before(members[j].AddedAt)
		}
		return t.st.seq[members[i].WalletAddress] < t.st.seq[members[j].WalletAddress]
	})
	return members, nil
}

func (t *mockTx) CreateMembership(ctx context.Context, m *Membership) error {
	if _, ok := t.st.memberships[m.WalletAddress]; ok {
		return ErrDuplicateMembership
	}
	if _, ok := t.st.groups[m.GroupID]; !ok {
		return ErrNotFound
	}
	cp := *m
	cp.AddedAt = cp.AddedAt.Truncate(time.Millisecond)
	t.st.memberships[m.WalletAddress] = &cp
	t.st.nextSeq++
	t.st.seq[m.WalletAddress] = t.st.nextSeq
	return nil
}

func (t *mockTx) DeleteMembership(ctx context.Context, walletAddress string) error {
	if _, ok := t.st.memberships[walletAddress]; !ok {
		return ErrNotFound
	}
	delete(t.st.memberships, walletAddress)
	delete(t.st.seq, walletAddress)
	return nil
}

func (t *mockTx) SetNickname(ctx context.Context, walletAddress string, nickname *string) error {
	m, ok := t.st.memberships[walletAddress]
	if !ok {
		return ErrNotFound
	}
	if nickname == nil {
		m.Nickname = nil
		return nil
	}
	n := *nickname
	m.Nickname = &n
	return nil
}

func (t *mockTx) GetDisplayName(ctx context.Context, walletAddress string) (string, error) {
	name, ok := t.st.names[walletAddress]
	if !ok {
		return "", ErrNotFound
	}
	return name, nil
}

func (t *mockTx) SetDisplayName(ctx context.Context, walletAddress, name string) error {
	t.st.names[walletAddress] = name
	return nil
}

func (t *mockTx) AppendAuditEvent(ctx context.Context, e *AuditEvent) error {
	if t.auditErr != nil {
		return t.auditErr
	}
	prepareAuditEvent(e)
	cp := *e
	cp.Timestamp = cp.Timestamp.Truncate(time.Millisecond)
	t.st.audit = append(t.st.audit, &cp)
	return nil
}

// locked runs fn against the live state with the lock held.
func (m *MockStore) locked(fn func(tx *mockTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&mockTx{st: m.state, auditErr: m.AuditErr})
}

// WithGroupTx runs fn against a copy of the state and swaps it in on success.
func (m *MockStore) WithGroupTx(ctx context.Context, fn func(tx GroupTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	working := m.state.clone()
	if err := fn(&mockTx{st: working, auditErr: m.AuditErr}); err != nil {
		return err
	}
	m.state = working
	return nil
}

// GetGroup retrieves a group by ID.
func (m *MockStore) GetGroup(ctx context.Context, groupID string) (g *Group, err error) {
	err = m.locked(func(tx *mockTx) error {
		g, err = tx.GetGroup(ctx, groupID)
		return err
	})
	return g, err
}

// CreateGroup stores a new group.
func (m *MockStore) CreateGroup(ctx context.Context, g *Group) error {
	return m.locked(func(tx *mockTx) error { return tx.CreateGroup(ctx, g) })
}

// DeleteGroup removes a group.
func (m *MockStore) DeleteGroup(ctx context.Context, groupID string) error {
	return m.locked(func(tx *mockTx) error { return tx.DeleteGroup(ctx, groupID) })
}

// SetPrimaryWallet changes the group's primary wallet.
func (m *MockStore) SetPrimaryWallet(ctx context.Context, groupID, walletAddress string) error {
	return m.locked(func(tx *mockTx) error { return tx.SetPrimaryWallet(ctx, groupID, walletAddress) })
}

// GetMembership retrieves a wallet's membership.
func (m *MockStore) GetMembership(ctx context.Context, walletAddress string) (ms *Membership, err error) {
	err = m.locked(func(tx *mockTx) error {
		ms, err = tx.GetMembership(ctx, walletAddress)
		return err
	})
	return ms, err
}

// ListMemberships returns the group's members, oldest first.
func (m *MockStore) ListMemberships(ctx context.Context, groupID string) (ms []*Membership, err error) {
	err = m.locked(func(tx *mockTx) error {
		ms, err = tx.ListMemberships(ctx, groupID)
		return err
	})
	return ms, err
}

// CreateMembership stores a membership.
func (m *MockStore) CreateMembership(ctx context.Context, ms *Membership) error {
	return m.locked(func(tx *mockTx) error { return tx.CreateMembership(ctx, ms) })
}

// DeleteMembership removes a membership.
func (m *MockStore) DeleteMembership(ctx context.Context, walletAddress string) error {
	return m.locked(func(tx *mockTx) error { return tx.DeleteMembership(ctx, walletAddress) })
}

// SetNickname updates a member's nickname.
func (m *MockStore) SetNickname(ctx context.Context, walletAddress string, nickname *string) error {
	return m.locked(func(tx *mockTx) error { return tx.SetNickname(ctx, walletAddress, nickname) })
}

// GetDisplayName reads the ledger.
func (m *MockStore) GetDisplayName(ctx context.Context, walletAddress string) (name string, err error) {
	err = m.locked(func(tx *mockTx) error {
		name, err = tx.GetDisplayName(ctx, walletAddress)
		return err
	})
	return name, err
}

// SetDisplayName writes the ledger.
func (m *MockStore) SetDisplayName(ctx context.Context, walletAddress, name string) error {
	return m.locked(func(tx *mockTx) error { return tx.SetDisplayName(ctx, walletAddress, name) })
}

// AppendAuditEvent appends an audit event.
func (m *MockStore) AppendAuditEvent(ctx context.Context, e *AuditEvent) error {
	return m.locked(func(tx *mockTx) error { return tx.AppendAuditEvent(ctx, e) })
}

// ListAuditEvents returns the group's audit trail oldest first.
func (m *MockStore) ListAuditEvents(ctx context.Context, groupID string, limit int) ([]*AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	limit = normalizeAuditLimit(limit)
	events := []*AuditEvent{}
	for _, e := range m.state.audit {
		if e.GroupID != groupID {
			continue
		}
		cp := *e
		events = append(events, &cp)
	}
	// Append order is insertion order; stable sort keeps it for equal timestamps.
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// AuditEvents returns every audit event in append order.
func (m *MockStore) AuditEvents() []*AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	events := make([]*AuditEvent, len(m.state.audit))
	for i, e := range m.state.audit {
		cp := *e
		events[i] = &cp
	}
	return events
}

// CreateChallenge stores a challenge, replacing unused ones for the wallet.
func (m *MockStore) CreateChallenge(ctx context.Context, c *Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for nonce, existing := range m.state.challenges {
		if existing.WalletAddress == c.WalletAddress && existing.UsedAt == nil {
			delete(m.state.challenges, nonce)
		}
	}
	cp := *c
	cp.CreatedAt = cp.CreatedAt.Truncate(time.Millisecond)
	cp.ExpiresAt = cp.ExpiresAt.Truncate(time.Millisecond)
	m.state.challenges[c.Nonce] = &cp
	return nil
}

// GetChallenge retrieves a challenge by nonce.
func (m *MockStore) GetChallenge(ctx context.Context, nonce string) (*Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.state.challenges[nonce]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// ConsumeChallenge marks a challenge used.
func (m *MockStore) ConsumeChallenge(ctx context.Context, nonce string, usedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.state.challenges[nonce]
	if !ok {
		return ErrNotFound
	}
	if c.UsedAt != nil {
		return ErrChallengeConsumed
	}
	t := usedAt
	c.UsedAt = &t
	return nil
}

// DeleteExpiredChallenges removes unused expired challenges.
func (m *MockStore) DeleteExpiredChallenges(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for nonce, c := range m.state.challenges {
		if c.UsedAt == nil && c.ExpiresAt.Before(before) {
			delete(m.state.challenges, nonce)
			n++
		}
	}
	return n, nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}
