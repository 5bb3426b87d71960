package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talencor/services/portal/internal/audit"
	"talencor/services/portal/internal/events"
	"talencor/services/portal/internal/gate"
	"talencor/services/portal/internal/intake"
	"talencor/services/portal/internal/store"
)

var pdf = []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\nresume body")

type recorder struct {
	mu     sync.Mutex
	events []any
}

func (r *recorder) Publish(_ context.Context, _, _ string, v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, v)
	return nil
}

type testServer struct {
	srv   *httptest.Server
	store *store.Memory
	files *intake.Intake
	pub   *recorder
}

func newServer(t *testing.T, checks map[string]Check) *testServer {
	t.Helper()
	mem := store.NewMemory()
	pub := &recorder{}
	files, err := intake.New(intake.NewMemoryBackend())
	require.NoError(t, err)
	g, err := gate.New(mem, mem,
		gate.WithPublisher(pub),
		gate.WithBaseURL("https://portal.talencor.test"),
		gate.WithUploads(files),
	)
	require.NoError(t, err)

	api, err := New(g, mem, files, pub, zerolog.Nop(), Options{ReadyChecks: checks})
	require.NoError(t, err)

	srv := httptest.NewServer(api.Routes())
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, store: mem, files: files, pub: pub}
}

func (s *testServer) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	return s.send(t, req)
}

func (s *testServer) send(t *testing.T, req *http.Request) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := s.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var raw json.RawMessage
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
		if len(raw) > 0 && raw[0] == '{' {
			require.NoError(t, json.Unmarshal(raw, &out))
		} else {
			out = map[string]any{"items": nil}
			var items []any
			require.NoError(t, json.Unmarshal(raw, &items))
			out["items"] = items
		}
	}
	return resp, out
}

type part struct {
	name        string
	contentType string
	data        []byte
}

func (s *testServer) upload(t *testing.T, token string, parts ...part) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="files"; filename="`+p.name+`"`)
		h.Set("Content-Type", p.contentType)
		w, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = w.Write(p.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, s.srv.URL+"/api/upload/"+token, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return s.send(t, req)
}

func (s *testServer) issue(t *testing.T) string {
	t.Helper()
	resp, body := s.do(t, http.MethodPost, "/api/generate-link", map[string]string{
		"applicantEmail": "jane@example.com",
		"recruiterEmail": "Recruiter@Talencor.com",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return body["token"].(string)
}

func submission(t *testing.T, token string, docs []any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(store.Applicant{
		FullName:               "Jane Doe",
		DateOfBirth:            "1994-05-17",
		SINNumber:              "123-456-789",
		StreetAddress:          "1 King St W",
		City:                   "Toronto",
		Province:               "ON",
		PostalCode:             "M5H 1A1",
		MajorIntersection:      "King & Yonge",
		MobileNumber:           "416-555-0100",
		Email:                  "jane@example.com",
		EmergencyName:          "John Doe",
		EmergencyContact:       "416-555-0101",
		EmergencyRelationship:  "Brother",
		LegalStatus:            "citizen",
		Transportation:         "transit",
		LiftingCapability:      "50lbs",
		ReferralSource:         "internet",
		AgreementName:          "Jane Doe",
		AgreementDate:          "2025-03-01",
		TermsAccepted:          true,
		BackgroundCheckConsent: true,
	})
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))

	body["tokenId"] = token
	body["aptitudeAnswers"] = map[string]string{"q1": "60", "q2": "Nail", "q3": "3 hours", "q4": "32", "q5": "Ocean"}
	body["aptitudeScore"] = 0
	body["recruiterEmail"] = "someone-else@example.com"
	body["uploadedDocuments"] = docs
	return body
}

func TestGenerateLink(t *testing.T) {
	s := newServer(t, nil)

	resp, body := s.do(t, http.MethodPost, "/api/generate-link", map[string]string{
		"applicantEmail": "jane@example.com",
		"recruiterEmail": "r@talencor.com",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	token := body["token"].(string)
	assert.True(t, strings.HasPrefix(token, "tk_"))
	assert.Equal(t, "https://portal.talencor.test/apply/"+token, body["applicationUrl"])
	assert.NotEmpty(t, body["expiresAt"])
}

func TestGenerateLinkRejectsBadInput(t *testing.T) {
	s := newServer(t, nil)

	resp, body := s.do(t, http.MethodPost, "/api/generate-link", map[string]string{"recruiterEmail": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation failed", body["error"])
	assert.NotEmpty(t, body["fields"])

	resp, _ = s.do(t, http.MethodPost, "/api/generate-link", map[string]string{"recruiterEmail": "r@talencor.com", "extra": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestValidateUnknownTokenIs404(t *testing.T) {
	s := newServer(t, nil)

	resp, body := s.do(t, http.MethodPost, "/api/validate-token", map[string]string{"token": "tk_nope"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "invalid or expired link", body["error"])
}

func TestApplicationFlow(t *testing.T) {
	s := newServer(t, nil)
	token := s.issue(t)

	resp, body := s.do(t, http.MethodPost, "/api/validate-token", map[string]string{"token": token})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, false, body["submitted"])
	tokenData := body["tokenData"].(map[string]any)
	assert.Equal(t, "recruiter@talencor.com", tokenData["recruiterEmail"])

	resp, body = s.upload(t, token,
		part{name: "resume.PDF", contentType: "application/pdf", data: pdf},
		part{name: "notes.txt", contentType: "text/plain", data: []byte("hello")},
	)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	files := body["files"].([]any)
	require.Len(t, files, 1)
	rejected := body["rejected"].([]any)
	require.Len(t, rejected, 1)
	assert.Equal(t, "notes.txt", rejected[0].(map[string]any)["name"])
	assert.Equal(t, intake.ErrInvalidFileType.Error(), rejected[0].(map[string]any)["error"])

	uploaded := files[0].(map[string]any)
	assert.Equal(t, "resume.PDF", uploaded["name"])
	assert.Equal(t, float64(len(pdf)), uploaded["size"])

	resp, body = s.do(t, http.MethodPost, "/api/applications", submission(t, token, files))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	app := body["application"].(map[string]any)
	assert.Equal(t, float64(5), app["aptitudeScore"])
	assert.Equal(t, "recruiter@talencor.com", app["recruiterEmail"])
	assert.Equal(t, "pending", app["status"])
	assert.Equal(t, "Jane Doe", app["fullName"])
	assert.Len(t, app["uploadedDocuments"], 1)
	appID := app["id"].(float64)

	resp, body = s.do(t, http.MethodPost, "/api/applications", submission(t, token, nil))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid or expired link", body["error"])

	resp, body = s.do(t, http.MethodPost, "/api/validate-token", map[string]string{"token": token})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["submitted"])
	assert.Equal(t, appID, body["applicationId"])

	resp, _ = s.upload(t, token, part{name: "late.pdf", contentType: "application/pdf", data: pdf})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	fileResp, err := s.srv.Client().Get(s.srv.URL + uploaded["url"].(string))
	require.NoError(t, err)
	defer fileResp.Body.Close()
	assert.Equal(t, http.StatusOK, fileResp.StatusCode)
	assert.Equal(t, "application/pdf", fileResp.Header.Get("Content-Type"))
	got := new(bytes.Buffer)
	_, err = got.ReadFrom(fileResp.Body)
	require.NoError(t, err)
	assert.Equal(t, pdf, got.Bytes())

	resp, body = s.do(t, http.MethodGet, "/api/tokens/recruiter@talencor.com", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	grants := body["items"].([]any)
	require.Len(t, grants, 1)
	assert.Equal(t, true, grants[0].(map[string]any)["isUsed"])
	assert.Equal(t, "https://portal.talencor.test/apply/"+token, grants[0].(map[string]any)["applicationUrl"])
}

func TestSubmitValidationErrors(t *testing.T) {
	s := newServer(t, nil)
	token := s.issue(t)

	body := submission(t, token, nil)
	delete(body, "fullName")
	body["termsAccepted"] = false

	resp, out := s.do(t, http.MethodPost, "/api/applications", body)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var fields []string
	for _, f := range out["fields"].([]any) {
		fields = append(fields, f.(map[string]any)["field"].(string))
	}
	assert.Contains(t, fields, "fullName")
	assert.Contains(t, fields, "termsAccepted")

	grant, err := s.store.Lookup(context.Background(), token)
	require.NoError(t, err)
	assert.False(t, grant.Consumed())
}

func TestSubmitAcceptsApplicationFormPayload(t *testing.T) {
	s := newServer(t, nil)
	token := s.issue(t)

	payload := `{
		"tokenId": "` + token + `",
		"fullName": "John Smith",
		"dateOfBirth": "1990-05-15",
		"sinNumber": "123-456-789",
		"streetAddress": "123 Main Street",
		"city": "Toronto",
		"province": "ON",
		"postalCode": "M5V 3A8",
		"majorIntersection": "Queen & Spadina",
		"mobileNumber": "(416) 555-0123",
		"email": "john.smith@email.com",
		"emergencyName": "Jane Smith",
		"emergencyContact": "(416) 555-0124",
		"emergencyRelationship": "Spouse",
		"legalStatus": "Canadian Citizen",
		"transportation": "Own Vehicle",
		"hasSafetyShoes": true,
		"hasForklifCert": true,
		"backgroundCheckConsent": true,
		"liftingCapability": "Up to 50 lbs",
		"jobType": "warehouse",
		"commitmentMonths": 12,
		"morningDays": ["Monday", "Tuesday"],
		"afternoonDays": [],
		"nightDays": [],
		"referralSource": "Online Job Board",
		"aptitudeAnswers": {"q1": "A", "q2": "B", "q3": "C", "q4": "A", "q5": "B"},
		"aptitudeScore": 85,
		"agreementName": "John Smith",
		"agreementDate": "2025-03-01",
		"termsAccepted": true,
		"uploadedDocuments": []
	}`
	req, err := http.NewRequest(http.MethodPost, s.srv.URL+"/api/applications", strings.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, body := s.send(t, req)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	app := body["application"].(map[string]any)
	assert.Equal(t, true, app["hasForklifCert"])
	assert.Equal(t, float64(0), app["aptitudeScore"])

	stored, err := s.store.Get(context.Background(), uint64(app["id"].(float64)))
	require.NoError(t, err)
	assert.True(t, stored.Applicant.HasForkliftCert)
}

func TestSubmitRejectsInventedAttachment(t *testing.T) {
	s := newServer(t, nil)
	token := s.issue(t)

	docs := []any{map[string]any{
		"id":   "applications/" + token + "/1741770000000-abc123-cv.pdf",
		"name": "cv.pdf",
		"url":  "/api/files/applications/" + token + "/1741770000000-abc123-cv.pdf",
		"size": 10,
		"type": "application/pdf",
	}}
	resp, body := s.do(t, http.MethodPost, "/api/applications", submission(t, token, docs))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation failed", body["error"])

	grant, err := s.store.Lookup(context.Background(), token)
	require.NoError(t, err)
	assert.False(t, grant.Consumed())
}

func TestUploadLimits(t *testing.T) {
	s := newServer(t, nil)
	token := s.issue(t)

	resp, _ := s.upload(t, "tk_unknown", part{name: "a.pdf", contentType: "application/pdf", data: pdf})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	parts := make([]part, 6)
	for i := range parts {
		parts[i] = part{name: "doc" + strconv.Itoa(i) + ".pdf", contentType: "application/pdf", data: pdf}
	}
	resp, _ = s.upload(t, token, parts...)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	big := bytes.Repeat([]byte{'0'}, 6<<20)
	copy(big, pdf)
	resp, body := s.upload(t, token,
		part{name: "big.pdf", contentType: "application/pdf", data: big},
		part{name: "small.pdf", contentType: "application/pdf", data: pdf},
	)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["files"], 1)
	rejected := body["rejected"].([]any)
	require.Len(t, rejected, 1)
	assert.Equal(t, intake.ErrFileTooLarge.Error(), rejected[0].(map[string]any)["error"])

	resp, _ = s.upload(t, token)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUploadOversizedPartsDoNotAbortBatch(t *testing.T) {
	s := newServer(t, nil)
	token := s.issue(t)

	huge := bytes.Repeat([]byte{'0'}, 14<<20)
	copy(huge, pdf)
	resp, body := s.upload(t, token,
		part{name: "scan1.pdf", contentType: "application/pdf", data: huge},
		part{name: "scan2.pdf", contentType: "application/pdf", data: huge},
		part{name: "resume.pdf", contentType: "application/pdf", data: pdf},
	)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	files := body["files"].([]any)
	require.Len(t, files, 1)
	assert.Equal(t, "resume.pdf", files[0].(map[string]any)["name"])

	rejected := body["rejected"].([]any)
	require.Len(t, rejected, 2)
	for _, r := range rejected {
		assert.Equal(t, intake.ErrFileTooLarge.Error(), r.(map[string]any)["error"])
	}

	stored, err := s.files.ListForToken(context.Background(), token)
	require.NoError(t, err)
	require.Len(t, stored, 1)
}

func TestUploadRequiresMultipart(t *testing.T) {
	s := newServer(t, nil)
	token := s.issue(t)

	resp, _ := s.do(t, http.MethodPost, "/api/upload/"+token, map[string]string{"file": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReview(t *testing.T) {
	s := newServer(t, nil)
	token := s.issue(t)
	resp, body := s.do(t, http.MethodPost, "/api/applications", submission(t, token, nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	id := strconv.FormatFloat(body["application"].(map[string]any)["id"].(float64), 'f', 0, 64)

	resp, body = s.do(t, http.MethodGet, "/api/applications?recruiterEmail=recruiter@talencor.com&status=pending", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["items"], 1)

	req, err := http.NewRequest(http.MethodPatch, s.srv.URL+"/api/applications/"+id,
		strings.NewReader(`{"status":"Reviewed","recruiterNotes":"  strong candidate "}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Recruiter-Email", "lead@talencor.com")
	resp, body = s.send(t, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "reviewed", body["status"])
	assert.Equal(t, "strong candidate", body["recruiterNotes"])

	s.pub.mu.Lock()
	last := s.pub.events[len(s.pub.events)-1]
	s.pub.mu.Unlock()
	reviewed, ok := last.(events.ApplicationReviewed)
	require.True(t, ok)
	assert.Equal(t, "lead@talencor.com", reviewed.Actor)
	assert.Equal(t, "pending", reviewed.Before.Status)
	assert.Equal(t, "reviewed", reviewed.After.Status)

	resp, body = s.do(t, http.MethodGet, "/api/applications/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "reviewed", body["status"])

	resp, _ = s.do(t, http.MethodGet, "/api/applications?recruiterEmail=recruiter@talencor.com&status=pending", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"unknown status", "/api/applications/" + id, `{"status":"hired"}`, http.StatusBadRequest},
		{"empty review", "/api/applications/" + id, `{}`, http.StatusBadRequest},
		{"unknown id", "/api/applications/999", `{"status":"completed"}`, http.StatusNotFound},
		{"bad id", "/api/applications/abc", `{"status":"completed"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodPatch, s.srv.URL+tt.path, strings.NewReader(tt.body))
			require.NoError(t, err)
			req.Header.Set("Content-Type", "application/json")
			resp, _ := s.send(t, req)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestAuditTrail(t *testing.T) {
	mem := store.NewMemory()
	files, err := intake.New(intake.NewMemoryBackend())
	require.NoError(t, err)
	local := events.NewLocal(zerolog.Nop(), 16)
	rec := &audit.MemoryRecorder{}
	ing, err := audit.NewIngestor(local, rec, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, ing.Start(context.Background()))
	defer ing.Close()

	g, err := gate.New(mem, mem, gate.WithPublisher(local), gate.WithUploads(files))
	require.NoError(t, err)
	api, err := New(g, mem, files, local, zerolog.Nop(), Options{Audit: rec})
	require.NoError(t, err)
	srv := httptest.NewServer(api.Routes())
	defer srv.Close()
	s := &testServer{srv: srv, store: mem, files: files}

	token := s.issue(t)
	resp, body := s.do(t, http.MethodPost, "/api/applications", submission(t, token, nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	id := strconv.FormatFloat(body["application"].(map[string]any)["id"].(float64), 'f', 0, 64)

	req, err := http.NewRequest(http.MethodPatch, srv.URL+"/api/applications/"+id, strings.NewReader(`{"status":"reviewed"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Recruiter-Email", "lead@talencor.com")
	resp, _ = s.send(t, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Close waits for queued events to reach the ingestor.
	local.Close()

	resp, body = s.do(t, http.MethodGet, "/api/applications/"+id+"/audit", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entries := body["items"].([]any)
	require.Len(t, entries, 2)
	assert.Equal(t, audit.ActionApplicationSubmitted, entries[0].(map[string]any)["action"])
	reviewed := entries[1].(map[string]any)
	assert.Equal(t, audit.ActionApplicationReviewed, reviewed["action"])
	assert.Equal(t, "lead@talencor.com", reviewed["actor"])

	resp, _ = s.do(t, http.MethodGet, "/api/applications/999/audit", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAuditTrailRouteNeedsRecorder(t *testing.T) {
	s := newServer(t, nil)
	resp, _ := s.do(t, http.MethodGet, "/api/applications/1/audit", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListApplicationsRequiresRecruiter(t *testing.T) {
	s := newServer(t, nil)

	resp, _ := s.do(t, http.MethodGet, "/api/applications", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = s.do(t, http.MethodGet, "/api/applications?recruiterEmail=r@talencor.com&status=lost", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := s.do(t, http.MethodGet, "/api/applications?recruiterEmail=r@talencor.com", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["items"])
}

func TestFileNotFound(t *testing.T) {
	s := newServer(t, nil)

	resp, _ := s.do(t, http.MethodGet, "/api/files/applications/tk_0123456789abcdef0123456789abcdef/1-abc123-x.pdf", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = s.do(t, http.MethodGet, "/api/files/../../etc/passwd", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAptitudeQuestionsHideAnswers(t *testing.T) {
	s := newServer(t, nil)

	resp, body := s.do(t, http.MethodGet, "/api/aptitude/questions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(5), body["total"])
	for _, q := range body["questions"].([]any) {
		_, hasAnswer := q.(map[string]any)["answer"]
		assert.False(t, hasAnswer)
	}
}

func TestHealthAndReadiness(t *testing.T) {
	s := newServer(t, map[string]Check{
		"store": func(context.Context) error { return nil },
		"bus":   func(context.Context) error { return errors.New("disconnected") },
	})

	resp, err := s.srv.Client().Get(s.srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := s.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, map[string]any{"bus": "disconnected"}, body["failed"])

	resp, err = s.srv.Client().Get(s.srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNewRequiresDependencies(t *testing.T) {
	mem := store.NewMemory()
	g, err := gate.New(mem, mem)
	require.NoError(t, err)
	files, err := intake.New(intake.NewMemoryBackend())
	require.NoError(t, err)

	_, err = New(nil, mem, files, nil, zerolog.Nop(), Options{})
	assert.Error(t, err)
	_, err = New(g, nil, files, nil, zerolog.Nop(), Options{})
	assert.Error(t, err)
	_, err = New(g, mem, nil, nil, zerolog.Nop(), Options{})
	assert.Error(t, err)

	api, err := New(g, mem, files, nil, zerolog.Nop(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 100, api.opts.RateLimitPerMinute)
	assert.Equal(t, 15*time.Minute, api.opts.FileURLTTL)
}
