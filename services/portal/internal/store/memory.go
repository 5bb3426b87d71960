package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process Store. A single mutex serializes every operation, which
// makes consume-and-create atomic.
type Memory struct {
	now func() time.Time

	mu      sync.Mutex
	grants  map[string]Grant
	apps    map[uint64]Application
	byToken map[string]uint64
	nextID  uint64
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory(opts ...Option) *Memory {
	o := buildOptions(opts)
	return &Memory{
		now:     o.now,
		grants:  make(map[string]Grant),
		apps:    make(map[uint64]Application),
		byToken: make(map[string]uint64),
	}
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Issue(_ context.Context, issuer, recipient string) (Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for {
		g, err := newGrant(issuer, recipient, m.now())
		if err != nil {
			return Grant{}, err
		}
		if _, taken := m.grants[g.Token]; taken {
			continue
		}
		m.grants[g.Token] = g
		return g, nil
	}
}

func (m *Memory) Lookup(_ context.Context, token string) (Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.grants[token]
	if !ok {
		return Grant{}, ErrNotFound
	}
	return g, nil
}

func (m *Memory) ListByIssuer(_ context.Context, issuer string) ([]Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Grant, 0)
	for _, g := range m.grants {
		if strings.EqualFold(g.Issuer, issuer) {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].Token > out[j].Token
		}
		return out[i].IssuedAt.After(out[j].IssuedAt)
	})
	return out, nil
}

func (m *Memory) MarkUsed(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.grants[token]
	if !ok {
		return ErrNotFound
	}
	if g.UsedAt == nil {
		now := m.now()
		g.UsedAt = &now
		m.grants[token] = g
	}
	return nil
}

func (m *Memory) ListExpiredUnused(_ context.Context, from, to time.Time) ([]Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Grant, 0)
	for _, g := range m.grants {
		if g.UsedAt != nil {
			continue
		}
		if !g.ExpiresAt.Before(from) && g.ExpiresAt.Before(to) {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

func (m *Memory) SubmitApplication(_ context.Context, app Application) (Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	g, ok := m.grants[app.Token]
	if !ok || !g.Valid(now) {
		return Application{}, ErrGrantUnavailable
	}
	g.UsedAt = &now
	m.grants[app.Token] = g

	m.nextID++
	app.ID = m.nextID
	if app.Status == "" {
		app.Status = StatusPending
	}
	if app.Attachments == nil {
		app.Attachments = []Attachment{}
	}
	app.SubmittedAt = now
	app.UpdatedAt = now

	m.apps[app.ID] = app.clone()
	m.byToken[app.Token] = app.ID
	return app, nil
}

func (m *Memory) Get(_ context.Context, id uint64) (Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	app, ok := m.apps[id]
	if !ok {
		return Application{}, ErrNotFound
	}
	return app.clone(), nil
}

func (m *Memory) GetByToken(_ context.Context, token string) (Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byToken[token]
	if !ok {
		return Application{}, ErrNotFound
	}
	return m.apps[id].clone(), nil
}

func (m *Memory) List(_ context.Context, filter ListFilter) ([]Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Application, 0)
	for _, app := range m.apps {
		if filter.RecruiterEmail != "" && !strings.EqualFold(app.RecruiterEmail, filter.RecruiterEmail) {
			continue
		}
		if filter.Status != "" && app.Status != filter.Status {
			continue
		}
		out = append(out, app.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *Memory) UpdateReview(_ context.Context, id uint64, r Review) (Application, Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	app, ok := m.apps[id]
	if !ok {
		return Application{}, Application{}, ErrNotFound
	}
	before := app.clone()
	r.apply(&app)
	app.UpdatedAt = m.now()
	m.apps[id] = app
	return before, app.clone(), nil
}
