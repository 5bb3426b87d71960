// Package events defines the portal's domain events and how they reach the bus.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"talencor/pkg/bus"
	"talencor/services/portal/internal/metrics"
	"talencor/services/portal/internal/store"
)

const (
	Stream = "TALENCOR"

	SubjectLinkIssued           = "talencor.links.issued"
	SubjectApplicationSubmitted = "talencor.applications.submitted"
	SubjectApplicationReviewed  = "talencor.applications.reviewed"
)

// Subjects lists every subject carried by Stream.
func Subjects() []string {
	return []string{SubjectLinkIssued, SubjectApplicationSubmitted, SubjectApplicationReviewed}
}

type LinkIssued struct {
	EventID        string    `json:"eventId"`
	Token          string    `json:"token"`
	RecruiterEmail string    `json:"recruiterEmail"`
	ApplicantEmail string    `json:"applicantEmail,omitempty"`
	ApplicationURL string    `json:"applicationUrl"`
	ExpiresAt      time.Time `json:"expiresAt"`
	OccurredAt     time.Time `json:"occurredAt"`
}

type ApplicationSubmitted struct {
	EventID        string             `json:"eventId"`
	ApplicationID  uint64             `json:"applicationId"`
	Token          string             `json:"token"`
	RecruiterEmail string             `json:"recruiterEmail"`
	FullName       string             `json:"fullName"`
	Email          string             `json:"email"`
	JobType        string             `json:"jobType"`
	AptitudeScore  int                `json:"aptitudeScore"`
	AptitudeTotal  int                `json:"aptitudeTotal"`
	Attachments    []store.Attachment `json:"attachments"`
	SubmittedAt    time.Time          `json:"submittedAt"`
}

// ReviewState is the recruiter-editable part of an application.
type ReviewState struct {
	Status string `json:"status"`
	Notes  string `json:"recruiterNotes"`
}

type ApplicationReviewed struct {
	EventID       string      `json:"eventId"`
	ApplicationID uint64      `json:"applicationId"`
	Actor         string      `json:"actor"`
	Before        ReviewState `json:"before"`
	After         ReviewState `json:"after"`
	OccurredAt    time.Time   `json:"occurredAt"`
}

// NewID returns a fresh event id, also used for JetStream de-duplication.
func NewID() string {
	return uuid.NewString()
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, subject, id string, v any) error
}

// Nop drops every event. Used when no bus is configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, string, any) error { return nil }

// BusPublisher publishes to NATS JetStream.
type BusPublisher struct {
	bus *bus.Bus
}

func NewBusPublisher(b *bus.Bus) *BusPublisher {
	return &BusPublisher{bus: b}
}

func (p *BusPublisher) Publish(ctx context.Context, subject, id string, v any) error {
	return p.bus.Publish(ctx, subject, id, v)
}

// Emit publishes best-effort: failures are logged and counted, never returned.
func Emit(ctx context.Context, p Publisher, log zerolog.Logger, subject, id string, v any) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, subject, id, v); err != nil {
		metrics.EventsPublished.WithLabelValues(subject, "error").Inc()
		log.Warn().Err(err).Str("subject", subject).Str("event_id", id).Msg("publish event")
		return
	}
	metrics.EventsPublished.WithLabelValues(subject, "ok").Inc()
}
