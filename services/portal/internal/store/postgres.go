package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"talencor/pkg/db"
)

const issueAttempts = 3

// Postgres stores grants and applications in PostgreSQL. Writes go through GORM,
// reads through pgx with scany.
type Postgres struct {
	pool *pgxpool.Pool
	orm  *gorm.DB
	now  func() time.Time
}

var _ Store = (*Postgres)(nil)

// NewPostgres wires a Postgres store over a shared pool and ORM session.
func NewPostgres(pool *pgxpool.Pool, orm *gorm.DB, opts ...Option) (*Postgres, error) {
	if orm == nil {
		return nil, errors.New("store: orm is required")
	}
	o := buildOptions(opts)
	return &Postgres{pool: pool, orm: orm, now: o.now}, nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	if s.pool == nil {
		return errors.New("store: no pool")
	}
	return db.Ping(ctx, s.pool)
}

func (s *Postgres) Issue(ctx context.Context, issuer, recipient string) (Grant, error) {
	ctx, cancel := context.WithTimeout(ctx, db.DefaultTimeout)
	defer cancel()

	var lastErr error
	for range issueAttempts {
		g, err := newGrant(issuer, recipient, s.now().UTC())
		if err != nil {
			return Grant{}, err
		}
		model := grantModelFrom(g)
		if err := s.orm.WithContext(ctx).Create(&model).Error; err != nil {
			if isUniqueViolation(err) {
				lastErr = err
				continue
			}
			return Grant{}, fmt.Errorf("insert grant: %w", err)
		}
		return g, nil
	}
	return Grant{}, fmt.Errorf("insert grant: %w", lastErr)
}

func (s *Postgres) Lookup(ctx context.Context, token string) (Grant, error) {
	var row grantRow
	err := db.Get(ctx, s.pool, &row, `SELECT `+grantColumns+` FROM token_grants WHERE token = $1`, token)
	if err != nil {
		if db.NotFound(err) {
			return Grant{}, ErrNotFound
		}
		return Grant{}, fmt.Errorf("lookup grant: %w", err)
	}
	return row.toGrant(), nil
}

func (s *Postgres) ListByIssuer(ctx context.Context, issuer string) ([]Grant, error) {
	var rows []grantRow
	err := db.Select(ctx, s.pool, &rows, `
        SELECT `+grantColumns+`
        FROM token_grants
        WHERE lower(recruiter_email) = lower($1)
        ORDER BY created_at DESC, id DESC`, issuer)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	out := make([]Grant, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toGrant())
	}
	return out, nil
}

func (s *Postgres) MarkUsed(ctx context.Context, token string) error {
	ctx, cancel := context.WithTimeout(ctx, db.DefaultTimeout)
	defer cancel()

	res := s.orm.WithContext(ctx).
		Model(&grantModel{}).
		Where("token = ? AND used_at IS NULL", token).
		Update("used_at", s.now().UTC())
	if res.Error != nil {
		return fmt.Errorf("mark grant used: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := s.orm.WithContext(ctx).Model(&grantModel{}).Where("token = ?", token).Count(&count).Error; err != nil {
		return fmt.Errorf("mark grant used: %w", err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) ListExpiredUnused(ctx context.Context, from, to time.Time) ([]Grant, error) {
	var rows []grantRow
	err := db.Select(ctx, s.pool, &rows, `
        SELECT `+grantColumns+`
        FROM token_grants
        WHERE used_at IS NULL AND expires_at >= $1 AND expires_at < $2
        ORDER BY expires_at`, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("list expired grants: %w", err)
	}
	out := make([]Grant, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toGrant())
	}
	return out, nil
}

// SubmitApplication consumes the grant with a conditional update and inserts the
// record in the same transaction. A grant that is missing, consumed or expired
// affects no rows and yields ErrGrantUnavailable.
func (s *Postgres) SubmitApplication(ctx context.Context, app Application) (Application, error) {
	ctx, cancel := context.WithTimeout(ctx, db.DefaultTimeout)
	defer cancel()

	now := s.now().UTC()
	if app.Status == "" {
		app.Status = StatusPending
	}
	if app.Attachments == nil {
		app.Attachments = []Attachment{}
	}
	app.SubmittedAt = now
	app.UpdatedAt = now
	model := applicationModelFrom(app)

	err := s.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&grantModel{}).
			Where("token = ? AND used_at IS NULL AND expires_at > ?", app.Token, now).
			Update("used_at", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrGrantUnavailable
		}
		return tx.Create(&model).Error
	})
	if err != nil {
		if errors.Is(err, ErrGrantUnavailable) {
			return Application{}, err
		}
		if isUniqueViolation(err) {
			return Application{}, ErrGrantUnavailable
		}
		return Application{}, fmt.Errorf("submit application: %w", err)
	}

	app.ID = model.ID
	return app, nil
}

func (s *Postgres) Get(ctx context.Context, id uint64) (Application, error) {
	return s.getOne(ctx, `SELECT `+applicationColumns+` FROM applications WHERE id = $1`, id)
}

func (s *Postgres) GetByToken(ctx context.Context, token string) (Application, error) {
	return s.getOne(ctx, `SELECT `+applicationColumns+` FROM applications WHERE token_id = $1`, token)
}

func (s *Postgres) getOne(ctx context.Context, query string, arg any) (Application, error) {
	var row applicationRow
	if err := db.Get(ctx, s.pool, &row, query, arg); err != nil {
		if db.NotFound(err) {
			return Application{}, ErrNotFound
		}
		return Application{}, fmt.Errorf("get application: %w", err)
	}
	return row.toApplication()
}

func (s *Postgres) List(ctx context.Context, filter ListFilter) ([]Application, error) {
	var (
		where []string
		args  []any
	)
	if filter.RecruiterEmail != "" {
		args = append(args, filter.RecruiterEmail)
		where = append(where, fmt.Sprintf("lower(recruiter_email) = lower($%d)", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + applicationColumns + ` FROM applications`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY submitted_at DESC, id DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	var rows []applicationRow
	if err := db.Select(ctx, s.pool, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}

	out := make([]Application, 0, len(rows))
	for _, r := range rows {
		app, err := r.toApplication()
		if err != nil {
			return nil, err
		}
		out = append(out, app)
	}
	return out, nil
}

func (s *Postgres) UpdateReview(ctx context.Context, id uint64, r Review) (Application, Application, error) {
	ctx, cancel := context.WithTimeout(ctx, db.DefaultTimeout)
	defer cancel()

	var before, after Application
	err := s.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m applicationModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&m, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		before = m.toApplication()
		after = before.clone()
		r.apply(&after)
		after.UpdatedAt = s.now().UTC()

		return tx.Model(&m).Updates(map[string]any{
			"status":          string(after.Status),
			"recruiter_notes": after.RecruiterNotes,
			"updated_at":      after.UpdatedAt,
		}).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Application{}, Application{}, err
		}
		return Application{}, Application{}, fmt.Errorf("update review: %w", err)
	}
	return before, after, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
