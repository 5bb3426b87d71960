package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"talencor/services/portal/internal/intake"
	"talencor/services/portal/internal/store"
)

const uploadField = "files"

var errTooManyFiles = errors.New("too many files")

type uploadRejection struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

type uploadResponse struct {
	Success  bool               `json:"success"`
	Files    []store.Attachment `json:"files"`
	Rejected []uploadRejection  `json:"rejected"`
}

// handleUpload stores every acceptable file of a multipart batch under the
// token's namespace. Individual rejections never fail the request.
func (a *API) handleUpload(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if _, err := a.gate.AuthorizeUpload(r.Context(), token); err != nil {
		a.respondDomainError(w, r, err)
		return
	}

	policy := a.files.Policy()
	mr, err := r.MultipartReader()
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Errorf("expected multipart form: %w", err))
		return
	}

	files, err := readParts(mr, policy)
	switch {
	case errors.Is(err, errTooManyFiles):
		respondError(w, http.StatusBadRequest, fmt.Errorf("at most %d files per upload", policy.MaxFiles))
		return
	case err != nil:
		respondError(w, http.StatusBadRequest, err)
		return
	case len(files) == 0:
		respondError(w, http.StatusBadRequest, errors.New("no files uploaded"))
		return
	}

	accepted, rejected := a.files.AcceptBatch(r.Context(), token, files)
	resp := uploadResponse{Success: true, Files: accepted, Rejected: make([]uploadRejection, 0, len(rejected))}
	for _, rej := range rejected {
		resp.Rejected = append(resp.Rejected, uploadRejection{Name: rej.Name, Error: rejectionReason(rej.Err)})
	}
	respondJSON(w, http.StatusOK, resp)
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, intake.ErrInvalidFileType):
		return intake.ErrInvalidFileType.Error()
	case errors.Is(err, intake.ErrFileTooLarge):
		return intake.ErrFileTooLarge.Error()
	default:
		return intake.ErrStorageUnavailable.Error()
	}
}

// readParts streams the "files" parts of a multipart body. Each part is kept
// up to MaxBytes+1 bytes so intake can reject it as too large; the remainder is
// discarded. Other fields are skipped.
func readParts(mr *multipart.Reader, policy intake.Policy) ([]intake.File, error) {
	var files []intake.File
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return files, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read multipart: %w", err)
		}
		if p.FormName() != uploadField || p.FileName() == "" {
			_, err := io.Copy(io.Discard, p)
			p.Close()
			if err != nil {
				return nil, fmt.Errorf("read multipart: %w", err)
			}
			continue
		}
		if len(files) == policy.MaxFiles {
			p.Close()
			return nil, errTooManyFiles
		}

		f, err := readPart(p, policy.MaxBytes)
		p.Close()
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
}

func readPart(p *multipart.Part, limit int64) (intake.File, error) {
	data, err := io.ReadAll(io.LimitReader(p, limit+1))
	if err != nil {
		return intake.File{}, fmt.Errorf("read part %q: %w", p.FileName(), err)
	}
	if _, err := io.Copy(io.Discard, p); err != nil {
		return intake.File{}, fmt.Errorf("read part %q: %w", p.FileName(), err)
	}
	return intake.File{
		Name:        p.FileName(),
		ContentType: p.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

// handleFile serves an upload by key, redirecting to a presigned URL when the
// backend supports one.
func (a *API) handleFile(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")

	if url, ok, err := a.files.PresignURL(r.Context(), key, a.opts.FileURLTTL); ok {
		if err != nil {
			a.respondDomainError(w, r, err)
			return
		}
		http.Redirect(w, r, url, http.StatusFound)
		return
	}

	data, err := a.files.Retrieve(r.Context(), key)
	if err != nil {
		a.respondDomainError(w, r, err)
		return
	}

	name := intake.DisplayName(key)
	w.Header().Set("Content-Type", intake.TypeForName(name))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", name))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
