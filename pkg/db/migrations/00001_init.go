package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// All returns the schema migrations in version order.
func All() []*goose.Migration {
	return []*goose.Migration{
		goose.NewGoMigration(1, &goose.GoFunc{RunTx: upInit}, &goose.GoFunc{RunTx: downInit}),
	}
}

type TokenGrant struct {
	ID             int64      `gorm:"type:bigserial;primaryKey"`
	Token          string     `gorm:"type:text;uniqueIndex;not null"`
	RecruiterEmail string     `gorm:"type:text;index;not null"`
	ApplicantEmail string     `gorm:"type:text"`
	ExpiresAt      time.Time  `gorm:"type:timestamptz;not null;index"`
	UsedAt         *time.Time `gorm:"type:timestamptz"`
	CreatedAt      time.Time  `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

type Application struct {
	ID              int64          `gorm:"type:bigserial;primaryKey"`
	TokenID         string         `gorm:"type:text;uniqueIndex;not null"`
	RecruiterEmail  string         `gorm:"type:text;index;not null"`
	FullName        string         `gorm:"type:text;not null"`
	Email           string         `gorm:"type:text;not null"`
	Applicant       datatypes.JSON `gorm:"type:jsonb;not null"`
	AptitudeScore   int            `gorm:"type:integer;not null"`
	AptitudeAnswers datatypes.JSON `gorm:"type:jsonb;not null"`
	Attachments     datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'::jsonb"`
	Status          string         `gorm:"type:text;not null;default:'pending';index"`
	RecruiterNotes  string         `gorm:"type:text"`
	SubmittedAt     time.Time      `gorm:"type:timestamptz;not null;default:now()"`
	UpdatedAt       time.Time      `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
	Grant           TokenGrant     `gorm:"foreignKey:TokenID;references:Token;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

type Audit struct {
	ID      int64             `gorm:"type:bigserial;primaryKey"`
	Actor   string            `gorm:"type:text;not null"`
	Action  string            `gorm:"type:text;not null"`
	Obj     string            `gorm:"type:text"`
	Details datatypes.JSONMap `gorm:"type:jsonb"`
	At      time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func (Audit) TableName() string { return "audit" }

func openTx(tx *sql.Tx) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
}

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := openTx(tx)
	if err != nil {
		return err
	}

	// AutoMigrate also creates the applications.token_id foreign key from the Grant relation.
	return gormDB.WithContext(ctx).AutoMigrate(
		&TokenGrant{},
		&Application{},
		&Audit{},
	)
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := openTx(tx)
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Migrator().DropTable(
		&Audit{},
		&Application{},
		&TokenGrant{},
	)
}
