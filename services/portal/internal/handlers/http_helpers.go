package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"talencor/services/portal/internal/gate"
	"talencor/services/portal/internal/intake"
	"talencor/services/portal/internal/store"
)

const maxJSONBody = 1 << 20

var errInternal = errors.New("internal error")

func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) error {
	if r.Body == nil {
		return errors.New("request body required")
	}
	defer r.Body.Close()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body required")
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	respondJSON(w, status, map[string]any{"error": err.Error()})
}

// respondDomainError maps package sentinel errors onto HTTP statuses. Anything
// unrecognized is logged and reported as a bare 500.
func (a *API) respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *gate.ValidationError
	switch {
	case errors.As(err, &verr):
		respondJSON(w, http.StatusBadRequest, map[string]any{
			"error":  gate.ErrValidationFailed.Error(),
			"fields": verr.Fields,
		})
	case errors.Is(err, gate.ErrInvalidOrExpiredToken):
		respondError(w, http.StatusBadRequest, gate.ErrInvalidOrExpiredToken)
	case errors.Is(err, intake.ErrInvalidFileType):
		respondError(w, http.StatusUnsupportedMediaType, intake.ErrInvalidFileType)
	case errors.Is(err, intake.ErrFileTooLarge):
		respondError(w, http.StatusRequestEntityTooLarge, intake.ErrFileTooLarge)
	case errors.Is(err, intake.ErrStorageUnavailable):
		a.log.Error().Err(err).Str("path", r.URL.Path).Msg("storage unavailable")
		respondError(w, http.StatusServiceUnavailable, intake.ErrStorageUnavailable)
	case errors.Is(err, store.ErrNotFound), errors.Is(err, intake.ErrNotFound):
		respondError(w, http.StatusNotFound, errors.New("not found"))
	default:
		a.log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
		respondError(w, http.StatusInternalServerError, errInternal)
	}
}
