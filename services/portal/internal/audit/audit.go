// Package audit records a trail of link, submission and review activity.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"talencor/pkg/db"
	"talencor/services/portal/internal/events"
)

const (
	ActionLinkIssued           = "link_issued"
	ActionApplicationSubmitted = "application_submitted"
	ActionApplicationReviewed  = "application_reviewed"
)

// Entry is one audit row.
type Entry struct {
	Actor   string         `json:"actor" db:"actor"`
	Action  string         `json:"action" db:"action"`
	Obj     string         `json:"obj" db:"obj"`
	Details map[string]any `json:"details" db:"details"`
	At      time.Time      `json:"at" db:"at"`
}

// Recorder persists entries.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// PgxRecorder writes to the audit table.
type PgxRecorder struct {
	pool *pgxpool.Pool
}

func NewPgxRecorder(pool *pgxpool.Pool) (*PgxRecorder, error) {
	if pool == nil {
		return nil, errors.New("database pool is required")
	}
	return &PgxRecorder{pool: pool}, nil
}

func (r *PgxRecorder) Record(ctx context.Context, e Entry) error {
	detailsBytes, err := json.Marshal(e.Details)
	if err != nil {
		return err
	}

	_, err = db.Exec(ctx, r.pool, `
INSERT INTO audit (actor, action, obj, details, at)
VALUES ($1, $2, $3, $4::jsonb, $5)
`, e.Actor, e.Action, e.Obj, detailsBytes, e.At)
	return err
}

// Trail returns the entries recorded for obj, oldest first.
func (r *PgxRecorder) Trail(ctx context.Context, obj string) ([]Entry, error) {
	var rows []struct {
		Actor   string    `db:"actor"`
		Action  string    `db:"action"`
		Obj     string    `db:"obj"`
		Details []byte    `db:"details"`
		At      time.Time `db:"at"`
	}
	err := db.Select(ctx, r.pool, &rows, `
SELECT actor, action, obj, details, at
FROM audit
WHERE obj = $1
ORDER BY at, id
`, obj)
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(rows))
	for _, row := range rows {
		e := Entry{Actor: row.Actor, Action: row.Action, Obj: row.Obj, At: row.At}
		if len(row.Details) > 0 {
			if err := json.Unmarshal(row.Details, &e.Details); err != nil {
				return nil, fmt.Errorf("decode audit details: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, nil
}

// MemoryRecorder keeps entries in process.
type MemoryRecorder struct {
	mu      sync.Mutex
	entries []Entry
}

func (r *MemoryRecorder) Record(_ context.Context, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *MemoryRecorder) Trail(_ context.Context, obj string) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0)
	for _, e := range r.entries {
		if e.Obj == obj {
			out = append(out, e)
		}
	}
	return out, nil
}

// Trailer reads back entries for one object.
type Trailer interface {
	Trail(ctx context.Context, obj string) ([]Entry, error)
}

// Store both records and reads back entries.
type Store interface {
	Recorder
	Trailer
}

var (
	_ Store = (*PgxRecorder)(nil)
	_ Store = (*MemoryRecorder)(nil)
)

// ApplicationObj is the audit object key of an application.
func ApplicationObj(id uint64) string {
	return "application:" + strconv.FormatUint(id, 10)
}

// Ingestor consumes portal events and writes audit entries.
type Ingestor struct {
	sub      events.Subscriber
	recorder Recorder
	log      zerolog.Logger

	subsMu sync.Mutex
	subs   []io.Closer
}

func NewIngestor(sub events.Subscriber, recorder Recorder, log zerolog.Logger) (*Ingestor, error) {
	if sub == nil {
		return nil, errors.New("subscriber is required")
	}
	if recorder == nil {
		return nil, errors.New("recorder is required")
	}
	return &Ingestor{sub: sub, recorder: recorder, log: log}, nil
}

// Start subscribes to portal events and records them until ctx is cancelled.
func (i *Ingestor) Start(ctx context.Context) error {
	if i == nil {
		return errors.New("nil ingestor")
	}

	specs := []struct {
		subject string
		durable string
		handler func(context.Context, []byte) error
	}{
		{events.SubjectLinkIssued, "audit-links", i.handleLinkIssued},
		{events.SubjectApplicationSubmitted, "audit-submissions", i.handleSubmitted},
		{events.SubjectApplicationReviewed, "audit-reviews", i.handleReviewed},
	}
	for _, spec := range specs {
		closer, err := i.sub.Subscribe(ctx, spec.subject, spec.durable, 10, spec.handler)
		if err != nil {
			i.Close()
			return fmt.Errorf("subscribe %s: %w", spec.subject, err)
		}
		i.subsMu.Lock()
		i.subs = append(i.subs, closer)
		i.subsMu.Unlock()
	}
	return nil
}

// Close stops the subscriptions.
func (i *Ingestor) Close() error {
	if i == nil {
		return nil
	}

	i.subsMu.Lock()
	defer i.subsMu.Unlock()

	var firstErr error
	for _, sub := range i.subs {
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	i.subs = nil
	return firstErr
}

func (i *Ingestor) handleLinkIssued(ctx context.Context, data []byte) error {
	var evt events.LinkIssued
	if err := json.Unmarshal(data, &evt); err != nil {
		return i.dropMalformed(err)
	}
	return i.recorder.Record(ctx, Entry{
		Actor:  evt.RecruiterEmail,
		Action: ActionLinkIssued,
		Obj:    "grant:" + evt.Token,
		Details: map[string]any{
			"event_id":        evt.EventID,
			"applicant_email": evt.ApplicantEmail,
			"expires_at":      evt.ExpiresAt,
		},
		At: orNow(evt.OccurredAt),
	})
}

func (i *Ingestor) handleSubmitted(ctx context.Context, data []byte) error {
	var evt events.ApplicationSubmitted
	if err := json.Unmarshal(data, &evt); err != nil {
		return i.dropMalformed(err)
	}
	if evt.ApplicationID == 0 {
		return i.dropMalformed(errors.New("application id missing from event"))
	}
	return i.recorder.Record(ctx, Entry{
		Actor:  evt.Email,
		Action: ActionApplicationSubmitted,
		Obj:    ApplicationObj(evt.ApplicationID),
		Details: map[string]any{
			"event_id":       evt.EventID,
			"token":          evt.Token,
			"aptitude_score": evt.AptitudeScore,
			"attachments":    len(evt.Attachments),
		},
		At: orNow(evt.SubmittedAt),
	})
}

func (i *Ingestor) handleReviewed(ctx context.Context, data []byte) error {
	var evt events.ApplicationReviewed
	if err := json.Unmarshal(data, &evt); err != nil {
		return i.dropMalformed(err)
	}
	if evt.ApplicationID == 0 {
		return i.dropMalformed(errors.New("application id missing from event"))
	}

	before := map[string]any{"status": evt.Before.Status, "recruiterNotes": evt.Before.Notes}
	after := map[string]any{"status": evt.After.Status, "recruiterNotes": evt.After.Notes}

	return i.recorder.Record(ctx, Entry{
		Actor:  evt.Actor,
		Action: ActionApplicationReviewed,
		Obj:    ApplicationObj(evt.ApplicationID),
		Details: map[string]any{
			"event_id": evt.EventID,
			"changes":  computeDiff(before, after),
		},
		At: orNow(evt.OccurredAt),
	})
}

// dropMalformed logs and acks a message that can never be processed.
func (i *Ingestor) dropMalformed(err error) error {
	i.log.Error().Err(err).Msg("dropping malformed event")
	return nil
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func computeDiff(previous, current map[string]any) map[string]map[string]any {
	if previous == nil {
		previous = map[string]any{}
	}
	if current == nil {
		current = map[string]any{}
	}

	diff := make(map[string]map[string]any)

	for key, prevVal := range previous {
		curVal, ok := current[key]
		if !ok {
			diff[key] = map[string]any{"old": prevVal, "new": nil}
			continue
		}
		if !reflect.DeepEqual(prevVal, curVal) {
			diff[key] = map[string]any{"old": prevVal, "new": curVal}
		}
	}

	for key, curVal := range current {
		if _, seen := previous[key]; seen {
			continue
		}
		diff[key] = map[string]any{"old": nil, "new": curVal}
	}

	return diff
}
