package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Status is the recruiter-facing review state of an application.
type Status string

const (
	StatusPending   Status = "pending"
	StatusReviewed  Status = "reviewed"
	StatusCompleted Status = "completed"
	StatusRejected  Status = "rejected"
)

// ParseStatus normalises s into a known Status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusReviewed, StatusCompleted, StatusRejected:
		return st, nil
	default:
		return "", fmt.Errorf("unknown status %q", s)
	}
}

// Attachment references a stored upload.
type Attachment struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
	Size int64  `json:"size"`
	Type string `json:"type"`
}

// Applicant holds every field the applicant fills in on the multi-step form.
type Applicant struct {
	FullName          string `json:"fullName" validate:"required,max=200"`
	DateOfBirth       string `json:"dateOfBirth" validate:"required,isodate"`
	SINNumber         string `json:"sinNumber" validate:"required,max=32"`
	StreetAddress     string `json:"streetAddress" validate:"required"`
	City              string `json:"city" validate:"required"`
	Province          string `json:"province" validate:"required"`
	PostalCode        string `json:"postalCode" validate:"required,max=16"`
	MajorIntersection string `json:"majorIntersection" validate:"required"`

	MobileNumber          string `json:"mobileNumber" validate:"required,max=32"`
	WhatsappNumber        string `json:"whatsappNumber,omitempty" validate:"omitempty,max=32"`
	Email                 string `json:"email" validate:"required,email"`
	EmergencyName         string `json:"emergencyName" validate:"required"`
	EmergencyContact      string `json:"emergencyContact" validate:"required"`
	EmergencyRelationship string `json:"emergencyRelationship" validate:"required"`

	LegalStatus   string          `json:"legalStatus" validate:"required"`
	ClassSchedule json.RawMessage `json:"classSchedule,omitempty"`

	Transportation         string `json:"transportation" validate:"required"`
	HasSafetyShoes         bool   `json:"hasSafetyShoes"`
	SafetyShoeType         string `json:"safetyShoeType,omitempty"`
	// Wire name as sent by the existing application form.
	HasForkliftCert        bool   `json:"hasForklifCert"`
	ForkliftValidity       string `json:"forkliftValidity,omitempty" validate:"omitempty,isodate"`
	BackgroundCheckConsent bool   `json:"backgroundCheckConsent"`

	LastCompanyName     string `json:"lastCompanyName,omitempty"`
	CompanyType         string `json:"companyType,omitempty"`
	JobResponsibilities string `json:"jobResponsibilities,omitempty"`
	AgencyOrDirect      string `json:"agencyOrDirect,omitempty"`
	ReasonForLeaving    string `json:"reasonForLeaving,omitempty"`

	LiftingCapability string `json:"liftingCapability" validate:"required"`

	JobType          string   `json:"jobType"`
	CommitmentMonths int      `json:"commitmentMonths" validate:"gte=0"`
	MorningDays      []string `json:"morningDays"`
	AfternoonDays    []string `json:"afternoonDays"`
	NightDays        []string `json:"nightDays"`

	ReferralSource         string `json:"referralSource" validate:"required"`
	ReferralPersonName     string `json:"referralPersonName,omitempty"`
	ReferralPersonContact  string `json:"referralPersonContact,omitempty"`
	ReferralRelationship   string `json:"referralRelationship,omitempty"`
	ReferralInternetSource string `json:"referralInternetSource,omitempty"`

	AgreementName string `json:"agreementName" validate:"required"`
	AgreementDate string `json:"agreementDate" validate:"required,isodate"`
	TermsAccepted bool   `json:"termsAccepted" validate:"eq=true"`
}

// Normalize trims free text and fills defaults.
func (a *Applicant) Normalize() {
	a.FullName = strings.TrimSpace(a.FullName)
	a.Email = strings.ToLower(strings.TrimSpace(a.Email))
	a.JobType = strings.TrimSpace(a.JobType)
	if a.JobType == "" {
		a.JobType = "general"
	}
	if a.MorningDays == nil {
		a.MorningDays = []string{}
	}
	if a.AfternoonDays == nil {
		a.AfternoonDays = []string{}
	}
	if a.NightDays == nil {
		a.NightDays = []string{}
	}
}

// Application is a submitted application record.
type Application struct {
	ID              uint64            `json:"id"`
	Token           string            `json:"tokenId"`
	RecruiterEmail  string            `json:"recruiterEmail"`
	Applicant       Applicant         `json:"applicant"`
	AptitudeAnswers map[string]string `json:"aptitudeAnswers"`
	AptitudeScore   int               `json:"aptitudeScore"`
	Status          Status            `json:"status"`
	RecruiterNotes  string            `json:"recruiterNotes"`
	Attachments     []Attachment      `json:"uploadedDocuments"`
	SubmittedAt     time.Time         `json:"submittedAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// Review carries the recruiter-editable fields. Nil fields are left unchanged.
type Review struct {
	Status *Status
	Notes  *string
}

// Empty reports whether the review changes nothing.
func (r Review) Empty() bool {
	return r.Status == nil && r.Notes == nil
}

func (r Review) apply(app *Application) {
	if r.Status != nil {
		app.Status = *r.Status
	}
	if r.Notes != nil {
		app.RecruiterNotes = *r.Notes
	}
}

// ListFilter narrows Applications.List.
type ListFilter struct {
	RecruiterEmail string
	Status         Status
	Limit          int
}

func (a Application) clone() Application {
	out := a
	if a.AptitudeAnswers != nil {
		out.AptitudeAnswers = make(map[string]string, len(a.AptitudeAnswers))
		for k, v := range a.AptitudeAnswers {
			out.AptitudeAnswers[k] = v
		}
	}
	out.Attachments = copySlice(a.Attachments)
	out.Applicant.MorningDays = copySlice(a.Applicant.MorningDays)
	out.Applicant.AfternoonDays = copySlice(a.Applicant.AfternoonDays)
	out.Applicant.NightDays = copySlice(a.Applicant.NightDays)
	out.Applicant.ClassSchedule = copySlice(a.Applicant.ClassSchedule)
	return out
}

func copySlice[S ~[]E, E any](s S) S {
	if s == nil {
		return nil
	}
	return append(make(S, 0, len(s)), s...)
}
