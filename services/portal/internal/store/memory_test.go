package store

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(t time.Time) *clock { return &clock{now: t} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func TestNewTokenFormat(t *testing.T) {
	re := regexp.MustCompile(`^tk_[0-9a-f]{32}$`)
	seen := make(map[string]bool)
	for range 200 {
		tok, err := NewToken()
		require.NoError(t, err)
		assert.Regexp(t, re, tok)
		assert.False(t, seen[tok], "duplicate token %s", tok)
		seen[tok] = true
	}
}

func TestGrantValidity(t *testing.T) {
	used := t0.Add(time.Hour)
	tests := []struct {
		name    string
		grant   Grant
		at      time.Time
		valid   bool
		expired bool
	}{
		{name: "fresh", grant: Grant{ExpiresAt: t0.Add(GrantTTL)}, at: t0, valid: true},
		{name: "one second before expiry", grant: Grant{ExpiresAt: t0.Add(GrantTTL)}, at: t0.Add(GrantTTL - time.Second), valid: true},
		{name: "at expiry", grant: Grant{ExpiresAt: t0.Add(GrantTTL)}, at: t0.Add(GrantTTL), expired: true},
		{name: "consumed", grant: Grant{ExpiresAt: t0.Add(GrantTTL), UsedAt: &used}, at: t0.Add(2 * time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.grant.Valid(tt.at))
			assert.Equal(t, tt.expired, tt.grant.Expired(tt.at))
		})
	}
}

func TestMemoryIssueAndLookup(t *testing.T) {
	ctx := context.Background()
	clk := newClock(t0)
	s := NewMemory(WithClock(clk.Now))

	g, err := s.Issue(ctx, "recruiter@talencor.com", "jane@example.com")
	require.NoError(t, err)
	assert.Equal(t, t0, g.IssuedAt)
	assert.Equal(t, t0.Add(7*24*time.Hour), g.ExpiresAt)
	assert.Nil(t, g.UsedAt)

	got, err := s.Lookup(ctx, g.Token)
	require.NoError(t, err)
	assert.Equal(t, g, got)

	_, err = s.Lookup(ctx, "tk_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryListByIssuerNewestFirst(t *testing.T) {
	ctx := context.Background()
	clk := newClock(t0)
	s := NewMemory(WithClock(clk.Now))

	first, err := s.Issue(ctx, "a@talencor.com", "")
	require.NoError(t, err)
	clk.Advance(time.Minute)
	second, err := s.Issue(ctx, "A@talencor.com", "")
	require.NoError(t, err)
	_, err = s.Issue(ctx, "b@talencor.com", "")
	require.NoError(t, err)

	grants, err := s.ListByIssuer(ctx, "a@talencor.com")
	require.NoError(t, err)
	require.Len(t, grants, 2)
	assert.Equal(t, second.Token, grants[0].Token)
	assert.Equal(t, first.Token, grants[1].Token)
}

func TestMemoryMarkUsedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	clk := newClock(t0)
	s := NewMemory(WithClock(clk.Now))

	g, err := s.Issue(ctx, "r@talencor.com", "")
	require.NoError(t, err)

	clk.Advance(time.Hour)
	require.NoError(t, s.MarkUsed(ctx, g.Token))
	clk.Advance(time.Hour)
	require.NoError(t, s.MarkUsed(ctx, g.Token))

	got, err := s.Lookup(ctx, g.Token)
	require.NoError(t, err)
	require.NotNil(t, got.UsedAt)
	assert.Equal(t, t0.Add(time.Hour), *got.UsedAt)

	assert.ErrorIs(t, s.MarkUsed(ctx, "tk_missing"), ErrNotFound)
}

func TestMemorySubmitConsumesGrant(t *testing.T) {
	ctx := context.Background()
	clk := newClock(t0)
	s := NewMemory(WithClock(clk.Now))

	g, err := s.Issue(ctx, "r@talencor.com", "")
	require.NoError(t, err)

	app, err := s.SubmitApplication(ctx, Application{Token: g.Token, RecruiterEmail: g.Issuer})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), app.ID)
	assert.Equal(t, StatusPending, app.Status)
	assert.NotNil(t, app.Attachments)

	got, err := s.Lookup(ctx, g.Token)
	require.NoError(t, err)
	assert.True(t, got.Consumed())

	_, err = s.SubmitApplication(ctx, Application{Token: g.Token})
	assert.ErrorIs(t, err, ErrGrantUnavailable)

	byToken, err := s.GetByToken(ctx, g.Token)
	require.NoError(t, err)
	assert.Equal(t, app.ID, byToken.ID)
}

func TestMemorySubmitRejectsExpiredGrant(t *testing.T) {
	ctx := context.Background()
	clk := newClock(t0)
	s := NewMemory(WithClock(clk.Now))

	g, err := s.Issue(ctx, "r@talencor.com", "")
	require.NoError(t, err)

	clk.Advance(8 * 24 * time.Hour)
	_, err = s.SubmitApplication(ctx, Application{Token: g.Token})
	assert.ErrorIs(t, err, ErrGrantUnavailable)

	got, err := s.Lookup(ctx, g.Token)
	require.NoError(t, err)
	assert.Nil(t, got.UsedAt)
}

func TestMemoryConcurrentSubmitYieldsOneRecord(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	g, err := s.Issue(ctx, "r@talencor.com", "")
	require.NoError(t, err)

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.SubmitApplication(ctx, Application{Token: g.Token})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrGrantUnavailable):
				failures++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, failures)

	apps, err := s.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, apps, 1)
}

func TestMemoryListFiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	clk := newClock(t0)
	s := NewMemory(WithClock(clk.Now))

	submit := func(issuer string) Application {
		g, err := s.Issue(ctx, issuer, "")
		require.NoError(t, err)
		app, err := s.SubmitApplication(ctx, Application{Token: g.Token, RecruiterEmail: issuer})
		require.NoError(t, err)
		clk.Advance(time.Minute)
		return app
	}

	a1 := submit("a@talencor.com")
	a2 := submit("a@talencor.com")
	submit("b@talencor.com")

	reviewed := StatusReviewed
	_, _, err := s.UpdateReview(ctx, a1.ID, Review{Status: &reviewed})
	require.NoError(t, err)

	apps, err := s.List(ctx, ListFilter{RecruiterEmail: "a@talencor.com"})
	require.NoError(t, err)
	require.Len(t, apps, 2)
	assert.Equal(t, a2.ID, apps[0].ID)
	assert.Equal(t, a1.ID, apps[1].ID)

	apps, err = s.List(ctx, ListFilter{RecruiterEmail: "a@talencor.com", Status: StatusReviewed})
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, a1.ID, apps[0].ID)

	apps, err = s.List(ctx, ListFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, apps, 1)
}

func TestMemoryUpdateReview(t *testing.T) {
	ctx := context.Background()
	clk := newClock(t0)
	s := NewMemory(WithClock(clk.Now))

	g, err := s.Issue(ctx, "r@talencor.com", "")
	require.NoError(t, err)
	app, err := s.SubmitApplication(ctx, Application{Token: g.Token, AptitudeScore: 4})
	require.NoError(t, err)

	clk.Advance(time.Hour)
	completed := StatusCompleted
	notes := "called back"
	before, after, err := s.UpdateReview(ctx, app.ID, Review{Status: &completed, Notes: &notes})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, before.Status)
	assert.Equal(t, StatusCompleted, after.Status)
	assert.Equal(t, "called back", after.RecruiterNotes)
	assert.Equal(t, 4, after.AptitudeScore)
	assert.Equal(t, t0.Add(time.Hour), after.UpdatedAt)

	_, _, err = s.UpdateReview(ctx, 999, Review{Status: &completed})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryListExpiredUnused(t *testing.T) {
	ctx := context.Background()
	clk := newClock(t0)
	s := NewMemory(WithClock(clk.Now))

	stale, err := s.Issue(ctx, "r@talencor.com", "")
	require.NoError(t, err)
	used, err := s.Issue(ctx, "r@talencor.com", "")
	require.NoError(t, err)
	require.NoError(t, s.MarkUsed(ctx, used.Token))
	clk.Advance(5 * 24 * time.Hour)
	_, err = s.Issue(ctx, "r@talencor.com", "")
	require.NoError(t, err)

	grants, err := s.ListExpiredUnused(ctx, t0, t0.Add(10*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, stale.Token, grants[0].Token)
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus(" Reviewed ")
	require.NoError(t, err)
	assert.Equal(t, StatusReviewed, st)

	_, err = ParseStatus("archived")
	assert.Error(t, err)
}

func TestApplicantNormalize(t *testing.T) {
	a := Applicant{FullName: "  Jane Doe ", Email: " Jane@Example.COM"}
	a.Normalize()
	assert.Equal(t, "Jane Doe", a.FullName)
	assert.Equal(t, "jane@example.com", a.Email)
	assert.Equal(t, "general", a.JobType)
	assert.NotNil(t, a.MorningDays)
}
