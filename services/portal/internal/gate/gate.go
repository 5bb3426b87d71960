// Package gate enforces the link lifecycle: a grant is validated before the form
// renders and before uploads, and consumed exactly once when the application is stored.
package gate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"talencor/services/portal/internal/aptitude"
	"talencor/services/portal/internal/events"
	"talencor/services/portal/internal/intake"
	"talencor/services/portal/internal/metrics"
	"talencor/services/portal/internal/store"
)

// Submission is a completed form as posted by the applicant.
type Submission struct {
	Token           string
	Applicant       store.Applicant
	AptitudeAnswers map[string]string
	Attachments     []store.Attachment
}

// Uploads lists what was actually stored for a token.
type Uploads interface {
	ListForToken(ctx context.Context, namespace string) ([]store.Attachment, error)
}

// Gate ties the token store, answer key and record store together.
type Gate struct {
	tokens    store.Tokens
	submitter store.Submitter
	uploads   Uploads
	key       *aptitude.Key
	validate  *validator.Validate
	publisher events.Publisher
	baseURL   string
	now       func() time.Time
	log       zerolog.Logger
}

type Option func(*Gate)

func WithKey(k *aptitude.Key) Option {
	return func(g *Gate) {
		if k != nil {
			g.key = k
		}
	}
}

func WithPublisher(p events.Publisher) Option {
	return func(g *Gate) {
		if p != nil {
			g.publisher = p
		}
	}
}

// WithUploads makes Submit reject attachments that were never stored.
func WithUploads(u Uploads) Option {
	return func(g *Gate) { g.uploads = u }
}

func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(g *Gate) { g.log = l }
}

// WithBaseURL sets the public origin used to build application links.
func WithBaseURL(u string) Option {
	return func(g *Gate) { g.baseURL = strings.TrimRight(u, "/") }
}

func New(tokens store.Tokens, submitter store.Submitter, opts ...Option) (*Gate, error) {
	if tokens == nil || submitter == nil {
		return nil, errors.New("gate: tokens and submitter are required")
	}
	g := &Gate{
		tokens:    tokens,
		submitter: submitter,
		key:       aptitude.Default(),
		validate:  newValidator(),
		publisher: events.Nop{},
		now:       time.Now,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Key exposes the answer key for rendering questions.
func (g *Gate) Key() *aptitude.Key { return g.key }

// ApplicationURL is the applicant-facing link for token.
func (g *Gate) ApplicationURL(token string) string {
	return g.baseURL + "/apply/" + token
}

// Issue creates a grant for issuer, optionally addressed to recipient, and
// announces it so the applicant can be emailed.
func (g *Gate) Issue(ctx context.Context, issuer, recipient string) (store.Grant, error) {
	issuer = strings.ToLower(strings.TrimSpace(issuer))
	recipient = strings.ToLower(strings.TrimSpace(recipient))

	var fields []FieldError
	if err := g.validate.Var(issuer, "required,email"); err != nil {
		fields = append(fields, FieldError{Field: "recruiterEmail", Rule: "email", Message: "must be a valid email address"})
	}
	if err := g.validate.Var(recipient, "omitempty,email"); err != nil {
		fields = append(fields, FieldError{Field: "applicantEmail", Rule: "email", Message: "must be a valid email address"})
	}
	if len(fields) > 0 {
		return store.Grant{}, &ValidationError{Fields: fields}
	}

	grant, err := g.tokens.Issue(ctx, issuer, recipient)
	if err != nil {
		return store.Grant{}, fmt.Errorf("issue grant: %w", err)
	}
	metrics.LinksIssued.Inc()

	g.log.Info().
		Str("recruiter", issuer).
		Time("expires_at", grant.ExpiresAt).
		Msg("application link issued")

	id := events.NewID()
	events.Emit(ctx, g.publisher, g.log, events.SubjectLinkIssued, id, events.LinkIssued{
		EventID:        id,
		Token:          grant.Token,
		RecruiterEmail: grant.Issuer,
		ApplicantEmail: grant.Recipient,
		ApplicationURL: g.ApplicationURL(grant.Token),
		ExpiresAt:      grant.ExpiresAt,
		OccurredAt:     grant.IssuedAt,
	})
	return grant, nil
}

// Validate resolves token to its grant. Unknown and expired tokens yield
// ErrInvalidOrExpiredToken. Consumed grants still validate so a returning
// applicant sees a receipt instead of an error.
func (g *Gate) Validate(ctx context.Context, token string) (store.Grant, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return store.Grant{}, ErrInvalidOrExpiredToken
	}

	grant, err := g.tokens.Lookup(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Grant{}, ErrInvalidOrExpiredToken
		}
		return store.Grant{}, fmt.Errorf("lookup grant: %w", err)
	}
	if grant.Expired(g.now()) {
		return store.Grant{}, ErrInvalidOrExpiredToken
	}
	return grant, nil
}

// ListIssued returns the grants issued by issuer, newest first.
func (g *Gate) ListIssued(ctx context.Context, issuer string) ([]store.Grant, error) {
	grants, err := g.tokens.ListByIssuer(ctx, strings.ToLower(strings.TrimSpace(issuer)))
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	return grants, nil
}

// AuthorizeUpload is Validate plus a consumed check: uploads after submission
// could never be attached.
func (g *Gate) AuthorizeUpload(ctx context.Context, token string) (store.Grant, error) {
	grant, err := g.Validate(ctx, token)
	if err != nil {
		return store.Grant{}, err
	}
	if grant.Consumed() {
		return store.Grant{}, ErrInvalidOrExpiredToken
	}
	return grant, nil
}

// ComputeScore counts answers that match the key.
func (g *Gate) ComputeScore(answers map[string]string) int {
	return g.key.Score(answers)
}

// Submit validates the submission, scores it and stores it while consuming the
// grant. Of any number of concurrent submits for one token exactly one succeeds.
func (g *Gate) Submit(ctx context.Context, sub Submission) (store.Application, error) {
	app, err := g.submit(ctx, sub)
	switch {
	case err == nil:
		metrics.Submissions.WithLabelValues("accepted").Inc()
	case errors.Is(err, ErrInvalidOrExpiredToken):
		metrics.Submissions.WithLabelValues("invalid_token").Inc()
	case errors.Is(err, ErrValidationFailed):
		metrics.Submissions.WithLabelValues("invalid").Inc()
	default:
		metrics.Submissions.WithLabelValues("error").Inc()
	}
	return app, err
}

func (g *Gate) submit(ctx context.Context, sub Submission) (store.Application, error) {
	grant, err := g.AuthorizeUpload(ctx, sub.Token)
	if err != nil {
		return store.Application{}, err
	}

	applicant := sub.Applicant
	applicant.Normalize()

	var fields []FieldError
	if err := g.validate.Struct(applicant); err != nil {
		fields = fieldErrors(err)
	}
	stored, err := g.storedKeys(ctx, grant.Token, sub.Attachments)
	if err != nil {
		return store.Application{}, err
	}
	attachments, attErrs := g.checkAttachments(grant.Token, sub.Attachments, stored)
	fields = append(fields, attErrs...)
	if len(fields) > 0 {
		return store.Application{}, &ValidationError{Fields: fields}
	}

	answers := make(map[string]string, len(sub.AptitudeAnswers))
	for k, v := range sub.AptitudeAnswers {
		answers[k] = v
	}

	app, err := g.submitter.SubmitApplication(ctx, store.Application{
		Token:           grant.Token,
		RecruiterEmail:  grant.Issuer,
		Applicant:       applicant,
		AptitudeAnswers: answers,
		AptitudeScore:   g.ComputeScore(answers),
		Status:          store.StatusPending,
		Attachments:     attachments,
	})
	if err != nil {
		if errors.Is(err, store.ErrGrantUnavailable) {
			return store.Application{}, ErrInvalidOrExpiredToken
		}
		return store.Application{}, fmt.Errorf("store application: %w", err)
	}

	g.log.Info().
		Uint64("application_id", app.ID).
		Str("recruiter", app.RecruiterEmail).
		Int("aptitude_score", app.AptitudeScore).
		Int("attachments", len(app.Attachments)).
		Msg("application submitted")

	id := events.NewID()
	events.Emit(ctx, g.publisher, g.log, events.SubjectApplicationSubmitted, id, events.ApplicationSubmitted{
		EventID:        id,
		ApplicationID:  app.ID,
		Token:          app.Token,
		RecruiterEmail: app.RecruiterEmail,
		FullName:       app.Applicant.FullName,
		Email:          app.Applicant.Email,
		JobType:        app.Applicant.JobType,
		AptitudeScore:  app.AptitudeScore,
		AptitudeTotal:  g.key.Len(),
		Attachments:    app.Attachments,
		SubmittedAt:    app.SubmittedAt,
	})
	return app, nil
}

// storedKeys returns the keys present under token, or nil when no Uploads is
// configured or nothing is attached.
func (g *Gate) storedKeys(ctx context.Context, token string, in []store.Attachment) (map[string]bool, error) {
	if g.uploads == nil || len(in) == 0 {
		return nil, nil
	}
	listed, err := g.uploads.ListForToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	keys := make(map[string]bool, len(listed))
	for _, att := range listed {
		keys[att.ID] = true
	}
	return keys, nil
}

// checkAttachments keeps references that live under the token's namespace and
// rewrites their URLs from the key. With stored set, every key must be in it.
func (g *Gate) checkAttachments(token string, in []store.Attachment, stored map[string]bool) ([]store.Attachment, []FieldError) {
	out := make([]store.Attachment, 0, len(in))
	var fields []FieldError
	seen := make(map[string]bool, len(in))
	for i, att := range in {
		if !intake.InNamespace(att.ID, token) {
			fields = append(fields, FieldError{
				Field:   fmt.Sprintf("uploadedDocuments[%d]", i),
				Rule:    "namespace",
				Message: "does not belong to this application",
			})
			continue
		}
		if stored != nil && !stored[att.ID] {
			fields = append(fields, FieldError{
				Field:   fmt.Sprintf("uploadedDocuments[%d]", i),
				Rule:    "uploaded",
				Message: "was never uploaded",
			})
			continue
		}
		if seen[att.ID] {
			continue
		}
		seen[att.ID] = true
		att.URL = intake.URLFor(att.ID)
		att.Name = strings.TrimSpace(att.Name)
		if att.Type == "" {
			att.Type = intake.TypeForName(att.Name)
		}
		out = append(out, att)
	}
	return out, fields
}
