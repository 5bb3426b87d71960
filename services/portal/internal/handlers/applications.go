package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"talencor/services/portal/internal/audit"
	"talencor/services/portal/internal/events"
	"talencor/services/portal/internal/gate"
	"talencor/services/portal/internal/store"
)

const maxListLimit = 500

// submitRequest is the flat form payload. aptitudeScore and recruiterEmail are
// accepted for older clients and ignored: the score is recomputed and the
// recruiter comes from the grant.
type submitRequest struct {
	store.Applicant
	TokenID           string             `json:"tokenId"`
	AptitudeAnswers   map[string]string  `json:"aptitudeAnswers"`
	UploadedDocuments []store.Attachment `json:"uploadedDocuments"`
	AptitudeScore     *int               `json:"aptitudeScore,omitempty"`
	RecruiterEmail    string             `json:"recruiterEmail,omitempty"`
}

// applicationView flattens an Application the way the dashboard reads it.
type applicationView struct {
	ID             uint64 `json:"id"`
	TokenID        string `json:"tokenId"`
	RecruiterEmail string `json:"recruiterEmail"`
	store.Applicant
	AptitudeAnswers   map[string]string  `json:"aptitudeAnswers"`
	AptitudeScore     int                `json:"aptitudeScore"`
	Status            store.Status       `json:"status"`
	RecruiterNotes    string             `json:"recruiterNotes"`
	UploadedDocuments []store.Attachment `json:"uploadedDocuments"`
	SubmittedAt       time.Time          `json:"submittedAt"`
	UpdatedAt         time.Time          `json:"updatedAt"`
}

func viewApplication(app store.Application) applicationView {
	return applicationView{
		ID:                app.ID,
		TokenID:           app.Token,
		RecruiterEmail:    app.RecruiterEmail,
		Applicant:         app.Applicant,
		AptitudeAnswers:   app.AptitudeAnswers,
		AptitudeScore:     app.AptitudeScore,
		Status:            app.Status,
		RecruiterNotes:    app.RecruiterNotes,
		UploadedDocuments: app.Attachments,
		SubmittedAt:       app.SubmittedAt,
		UpdatedAt:         app.UpdatedAt,
	}
}

func (a *API) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	app, err := a.gate.Submit(r.Context(), gate.Submission{
		Token:           req.TokenID,
		Applicant:       req.Applicant,
		AptitudeAnswers: req.AptitudeAnswers,
		Attachments:     req.UploadedDocuments,
	})
	if err != nil {
		a.respondDomainError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"success": true, "application": viewApplication(app)})
}

func (a *API) handleListApplications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	recruiter := strings.ToLower(strings.TrimSpace(q.Get("recruiterEmail")))
	if recruiter == "" {
		respondError(w, http.StatusBadRequest, errors.New("recruiter email is required"))
		return
	}

	filter := store.ListFilter{RecruiterEmail: recruiter}
	if raw := q.Get("status"); raw != "" {
		st, err := store.ParseStatus(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, err)
			return
		}
		filter.Status = st
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxListLimit {
			respondError(w, http.StatusBadRequest, errors.New("limit must be between 1 and 500"))
			return
		}
		filter.Limit = n
	}

	apps, err := a.apps.List(r.Context(), filter)
	if err != nil {
		a.respondDomainError(w, r, err)
		return
	}
	out := make([]applicationView, 0, len(apps))
	for _, app := range apps {
		out = append(out, viewApplication(app))
	}
	respondJSON(w, http.StatusOK, out)
}

func (a *API) handleGetApplication(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	app, err := a.apps.Get(r.Context(), id)
	if err != nil {
		a.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, viewApplication(app))
}

type reviewRequest struct {
	Status         *string `json:"status"`
	RecruiterNotes *string `json:"recruiterNotes"`
}

// handleReview updates status and notes. The acting recruiter is taken from
// X-Recruiter-Email, falling back to the issuing recruiter.
func (a *API) handleReview(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req reviewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	var review store.Review
	if req.Status != nil {
		st, err := store.ParseStatus(*req.Status)
		if err != nil {
			respondError(w, http.StatusBadRequest, err)
			return
		}
		review.Status = &st
	}
	if req.RecruiterNotes != nil {
		notes := strings.TrimSpace(*req.RecruiterNotes)
		review.Notes = &notes
	}
	if review.Empty() {
		respondError(w, http.StatusBadRequest, errors.New("status or recruiterNotes is required"))
		return
	}

	before, after, err := a.apps.UpdateReview(r.Context(), id, review)
	if err != nil {
		a.respondDomainError(w, r, err)
		return
	}

	actor := strings.ToLower(strings.TrimSpace(r.Header.Get("X-Recruiter-Email")))
	if actor == "" {
		actor = after.RecruiterEmail
	}
	eventID := events.NewID()
	events.Emit(r.Context(), a.publisher, a.log, events.SubjectApplicationReviewed, eventID, events.ApplicationReviewed{
		EventID:       eventID,
		ApplicationID: after.ID,
		Actor:         actor,
		Before:        events.ReviewState{Status: string(before.Status), Notes: before.RecruiterNotes},
		After:         events.ReviewState{Status: string(after.Status), Notes: after.RecruiterNotes},
		OccurredAt:    after.UpdatedAt,
	})

	respondJSON(w, http.StatusOK, viewApplication(after))
}

// handleAuditTrail lists the recorded activity of one application, oldest first.
func (a *API) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if _, err := a.apps.Get(r.Context(), id); err != nil {
		a.respondDomainError(w, r, err)
		return
	}
	entries, err := a.opts.Audit.Trail(r.Context(), audit.ApplicationObj(id))
	if err != nil {
		a.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

func (a *API) handleAptitudeQuestions(w http.ResponseWriter, _ *http.Request) {
	key := a.gate.Key()
	respondJSON(w, http.StatusOK, map[string]any{"questions": key.Questions(), "total": key.Len()})
}

func parseID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		respondError(w, http.StatusBadRequest, errors.New("invalid application id"))
		return 0, false
	}
	return id, true
}
