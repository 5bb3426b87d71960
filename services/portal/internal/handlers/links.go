package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"talencor/services/portal/internal/gate"
	"talencor/services/portal/internal/store"
)

type generateLinkRequest struct {
	ApplicantEmail string `json:"applicantEmail"`
	RecruiterEmail string `json:"recruiterEmail"`
}

type generateLinkResponse struct {
	Success        bool      `json:"success"`
	Token          string    `json:"token"`
	ApplicationURL string    `json:"applicationUrl"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

func (a *API) handleGenerateLink(w http.ResponseWriter, r *http.Request) {
	var req generateLinkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	grant, err := a.gate.Issue(r.Context(), req.RecruiterEmail, req.ApplicantEmail)
	if err != nil {
		a.respondDomainError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, generateLinkResponse{
		Success:        true,
		Token:          grant.Token,
		ApplicationURL: a.gate.ApplicationURL(grant.Token),
		ExpiresAt:      grant.ExpiresAt,
	})
}

// grantView is a Grant as the dashboard sees it.
type grantView struct {
	store.Grant
	IsUsed         bool   `json:"isUsed"`
	ApplicationURL string `json:"applicationUrl"`
}

func (a *API) viewGrant(g store.Grant) grantView {
	return grantView{Grant: g, IsUsed: g.Consumed(), ApplicationURL: a.gate.ApplicationURL(g.Token)}
}

type validateTokenRequest struct {
	Token string `json:"token"`
}

type validateTokenResponse struct {
	Valid         bool      `json:"valid"`
	Submitted     bool      `json:"submitted"`
	ApplicationID uint64    `json:"applicationId,omitempty"`
	TokenData     grantView `json:"tokenData"`
}

// handleValidateToken answers 404 for unknown and expired tokens alike. A consumed
// grant still validates, flagged as submitted, so the form can show a receipt.
func (a *API) handleValidateToken(w http.ResponseWriter, r *http.Request) {
	var req validateTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	grant, err := a.gate.Validate(r.Context(), req.Token)
	if err != nil {
		if errors.Is(err, gate.ErrInvalidOrExpiredToken) {
			respondError(w, http.StatusNotFound, gate.ErrInvalidOrExpiredToken)
			return
		}
		a.respondDomainError(w, r, err)
		return
	}

	resp := validateTokenResponse{Valid: true, Submitted: grant.Consumed(), TokenData: a.viewGrant(grant)}
	if resp.Submitted {
		if app, err := a.apps.GetByToken(r.Context(), grant.Token); err == nil {
			resp.ApplicationID = app.ID
		} else if !errors.Is(err, store.ErrNotFound) {
			a.log.Warn().Err(err).Msg("lookup application for consumed grant")
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

func (a *API) handleListTokens(w http.ResponseWriter, r *http.Request) {
	issuer, err := url.PathUnescape(chi.URLParam(r, "recruiterEmail"))
	if err != nil || strings.TrimSpace(issuer) == "" {
		respondError(w, http.StatusBadRequest, errors.New("recruiter email is required"))
		return
	}

	grants, err := a.gate.ListIssued(r.Context(), issuer)
	if err != nil {
		a.respondDomainError(w, r, err)
		return
	}

	out := make([]grantView, 0, len(grants))
	for _, g := range grants {
		out = append(out, a.viewGrant(g))
	}
	respondJSON(w, http.StatusOK, out)
}
