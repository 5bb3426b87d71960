package store

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

type grantModel struct {
	ID             int64      `gorm:"primaryKey"`
	Token          string     `gorm:"column:token"`
	RecruiterEmail string     `gorm:"column:recruiter_email"`
	ApplicantEmail string     `gorm:"column:applicant_email"`
	ExpiresAt      time.Time  `gorm:"column:expires_at"`
	UsedAt         *time.Time `gorm:"column:used_at"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
}

func (grantModel) TableName() string { return "token_grants" }

func grantModelFrom(g Grant) grantModel {
	return grantModel{
		Token:          g.Token,
		RecruiterEmail: g.Issuer,
		ApplicantEmail: g.Recipient,
		ExpiresAt:      g.ExpiresAt,
		UsedAt:         g.UsedAt,
		CreatedAt:      g.IssuedAt,
	}
}

type applicationModel struct {
	ID              uint64                                `gorm:"primaryKey"`
	TokenID         string                                `gorm:"column:token_id"`
	RecruiterEmail  string                                `gorm:"column:recruiter_email"`
	FullName        string                                `gorm:"column:full_name"`
	Email           string                                `gorm:"column:email"`
	Applicant       datatypes.JSONType[Applicant]         `gorm:"column:applicant"`
	AptitudeScore   int                                   `gorm:"column:aptitude_score"`
	AptitudeAnswers datatypes.JSONType[map[string]string] `gorm:"column:aptitude_answers"`
	Attachments     datatypes.JSONSlice[Attachment]       `gorm:"column:attachments"`
	Status          string                                `gorm:"column:status"`
	RecruiterNotes  string                                `gorm:"column:recruiter_notes"`
	SubmittedAt     time.Time                             `gorm:"column:submitted_at"`
	UpdatedAt       time.Time                             `gorm:"column:updated_at"`
}

func (applicationModel) TableName() string { return "applications" }

func applicationModelFrom(a Application) applicationModel {
	return applicationModel{
		ID:              a.ID,
		TokenID:         a.Token,
		RecruiterEmail:  a.RecruiterEmail,
		FullName:        a.Applicant.FullName,
		Email:           a.Applicant.Email,
		Applicant:       datatypes.NewJSONType(a.Applicant),
		AptitudeScore:   a.AptitudeScore,
		AptitudeAnswers: datatypes.NewJSONType(a.AptitudeAnswers),
		Attachments:     datatypes.JSONSlice[Attachment](a.Attachments),
		Status:          string(a.Status),
		RecruiterNotes:  a.RecruiterNotes,
		SubmittedAt:     a.SubmittedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

func (m applicationModel) toApplication() Application {
	return Application{
		ID:              m.ID,
		Token:           m.TokenID,
		RecruiterEmail:  m.RecruiterEmail,
		Applicant:       m.Applicant.Data(),
		AptitudeAnswers: m.AptitudeAnswers.Data(),
		AptitudeScore:   m.AptitudeScore,
		Status:          Status(m.Status),
		RecruiterNotes:  m.RecruiterNotes,
		Attachments:     []Attachment(m.Attachments),
		SubmittedAt:     m.SubmittedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

// Rows scanned by pgxscan on the read path.

type grantRow struct {
	Token          string     `db:"token"`
	RecruiterEmail string     `db:"recruiter_email"`
	ApplicantEmail *string    `db:"applicant_email"`
	ExpiresAt      time.Time  `db:"expires_at"`
	UsedAt         *time.Time `db:"used_at"`
	CreatedAt      time.Time  `db:"created_at"`
}

func (r grantRow) toGrant() Grant {
	g := Grant{
		Token:     r.Token,
		Issuer:    r.RecruiterEmail,
		IssuedAt:  r.CreatedAt,
		ExpiresAt: r.ExpiresAt,
		UsedAt:    r.UsedAt,
	}
	if r.ApplicantEmail != nil {
		g.Recipient = *r.ApplicantEmail
	}
	return g
}

type applicationRow struct {
	ID              uint64    `db:"id"`
	TokenID         string    `db:"token_id"`
	RecruiterEmail  string    `db:"recruiter_email"`
	Applicant       []byte    `db:"applicant"`
	AptitudeScore   int       `db:"aptitude_score"`
	AptitudeAnswers []byte    `db:"aptitude_answers"`
	Attachments     []byte    `db:"attachments"`
	Status          string    `db:"status"`
	RecruiterNotes  *string   `db:"recruiter_notes"`
	SubmittedAt     time.Time `db:"submitted_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

func (r applicationRow) toApplication() (Application, error) {
	app := Application{
		ID:             r.ID,
		Token:          r.TokenID,
		RecruiterEmail: r.RecruiterEmail,
		AptitudeScore:  r.AptitudeScore,
		Status:         Status(r.Status),
		SubmittedAt:    r.SubmittedAt,
		UpdatedAt:      r.UpdatedAt,
		Attachments:    []Attachment{},
	}
	if r.RecruiterNotes != nil {
		app.RecruiterNotes = *r.RecruiterNotes
	}
	if err := json.Unmarshal(r.Applicant, &app.Applicant); err != nil {
		return Application{}, fmt.Errorf("decode applicant: %w", err)
	}
	if len(r.AptitudeAnswers) > 0 {
		if err := json.Unmarshal(r.AptitudeAnswers, &app.AptitudeAnswers); err != nil {
			return Application{}, fmt.Errorf("decode aptitude answers: %w", err)
		}
	}
	if len(r.Attachments) > 0 {
		if err := json.Unmarshal(r.Attachments, &app.Attachments); err != nil {
			return Application{}, fmt.Errorf("decode attachments: %w", err)
		}
	}
	return app, nil
}

const grantColumns = `token, recruiter_email, applicant_email, expires_at, used_at, created_at`

const applicationColumns = `id, token_id, recruiter_email, applicant, aptitude_score, aptitude_answers,
        attachments, status, recruiter_notes, submitted_at, updated_at`
