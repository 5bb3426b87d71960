package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockPostgres(t *testing.T, now time.Time) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	orm, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:               logger.Default.LogMode(logger.Silent),
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)

	s, err := NewPostgres(nil, orm, WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	return s, mock
}

func TestPostgresIssue(t *testing.T) {
	s, mock := newMockPostgres(t, t0)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "token_grants"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	g, err := s.Issue(context.Background(), "r@talencor.com", "jane@example.com")
	require.NoError(t, err)
	assert.Equal(t, t0.Add(GrantTTL), g.ExpiresAt)
	assert.Equal(t, "jane@example.com", g.Recipient)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSubmitApplication(t *testing.T) {
	s, mock := newMockPostgres(t, t0)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "token_grants" SET "used_at"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO "applications"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))
	mock.ExpectCommit()

	app, err := s.SubmitApplication(context.Background(), Application{
		Token:           "tk_0123456789abcdef0123456789abcdef",
		RecruiterEmail:  "r@talencor.com",
		Applicant:       Applicant{FullName: "Jane Doe", Email: "jane@example.com"},
		AptitudeAnswers: map[string]string{"aptitude1": "60"},
		AptitudeScore:   1,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(42), app.ID)
	assert.Equal(t, StatusPending, app.Status)
	assert.Equal(t, t0, app.SubmittedAt)
	assert.NotNil(t, app.Attachments)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSubmitLosesRace(t *testing.T) {
	s, mock := newMockPostgres(t, t0)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "token_grants" SET "used_at"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := s.SubmitApplication(context.Background(), Application{Token: "tk_0123456789abcdef0123456789abcdef"})
	assert.ErrorIs(t, err, ErrGrantUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMarkUsed(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		count    int
		wantErr  error
	}{
		{name: "first use", affected: 1},
		{name: "already used", affected: 0, count: 1},
		{name: "unknown token", affected: 0, count: 0, wantErr: ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockPostgres(t, t0)

			mock.ExpectBegin()
			mock.ExpectExec(`UPDATE "token_grants" SET "used_at"`).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))
			mock.ExpectCommit()
			if tt.affected == 0 {
				mock.ExpectQuery(`SELECT count\(\*\) FROM "token_grants"`).
					WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(tt.count))
			}

			err := s.MarkUsed(context.Background(), "tk_0123456789abcdef0123456789abcdef")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresUpdateReview(t *testing.T) {
	s, mock := newMockPostgres(t, t0.Add(time.Hour))

	cols := []string{
		"id", "token_id", "recruiter_email", "full_name", "email", "applicant",
		"aptitude_score", "aptitude_answers", "attachments", "status",
		"recruiter_notes", "submitted_at", "updated_at",
	}
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "applications" WHERE "applications"."id" = \$1 .*FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			7, "tk_0123456789abcdef0123456789abcdef", "r@talencor.com", "Jane Doe", "jane@example.com",
			[]byte(`{"fullName":"Jane Doe","email":"jane@example.com"}`),
			5, []byte(`{"aptitude1":"60"}`), []byte(`[]`), "pending", "", t0, t0,
		))
	mock.ExpectExec(`UPDATE "applications" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	reviewed := StatusReviewed
	before, after, err := s.UpdateReview(context.Background(), 7, Review{Status: &reviewed})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, before.Status)
	assert.Equal(t, StatusReviewed, after.Status)
	assert.Equal(t, "Jane Doe", after.Applicant.FullName)
	assert.Equal(t, 5, after.AptitudeScore)
	assert.Equal(t, t0.Add(time.Hour), after.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateReviewNotFound(t *testing.T) {
	s, mock := newMockPostgres(t, t0)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "applications"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	notes := "n/a"
	_, _, err := s.UpdateReview(context.Background(), 99, Review{Notes: &notes})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRowDecode(t *testing.T) {
	notes := "strong candidate"
	row := applicationRow{
		ID:              3,
		TokenID:         "tk_x",
		RecruiterEmail:  "r@talencor.com",
		Applicant:       []byte(`{"fullName":"Jane Doe","jobType":"warehouse"}`),
		AptitudeScore:   3,
		AptitudeAnswers: []byte(`{"aptitude2":"Nail"}`),
		Attachments:     []byte(`[{"id":"applications/tk_x/1-abc-cv.pdf","name":"cv.pdf","size":10,"type":"application/pdf","url":"/api/files/applications/tk_x/1-abc-cv.pdf"}]`),
		Status:          "reviewed",
		RecruiterNotes:  &notes,
	}

	app, err := row.toApplication()
	require.NoError(t, err)
	assert.Equal(t, "warehouse", app.Applicant.JobType)
	assert.Equal(t, "Nail", app.AptitudeAnswers["aptitude2"])
	require.Len(t, app.Attachments, 1)
	assert.Equal(t, "cv.pdf", app.Attachments[0].Name)
	assert.Equal(t, "strong candidate", app.RecruiterNotes)

	row.Applicant = []byte(`{`)
	_, err = row.toApplication()
	assert.Error(t, err)
}
