package database

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/dentalops/dentalflow/internal/config"
	"github.com/dentalops/dentalflow/internal/domain"
	"github.com/dentalops/dentalflow/internal/domain/appointment"
	"github.com/dentalops/dentalflow/internal/domain/availability"
)

func Connect(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		PrepareStmt:                              true,
		DisableForeignKeyConstraintWhenMigrating: false,
		DisableAutomaticPing:                     false,
	}

	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  cfg.DSN(),
		PreferSimpleProtocol: false,
	}), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	// Configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return db, nil
}

func Migrate(db *gorm.DB, log *zap.Logger) error {
	log.Info("running database migrations")
	start := time.Now()

	schemas := []string{"clinical", "audit"} // logical namespace
	for _, schema := range schemas {
		if err := db.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)).Error; err != nil {
			return fmt.Errorf("creating schema %s: %w", schema, err)
		}
	}

	models := []any{
		&domain.AuditLog{},
		&appointment.Appointment{},
		&appointment.StatusHistoryEntry{},
		&availability.Window{},
	}

	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("auto-migrating models: %w", err)
	}

	if err := createConstraints(db); err != nil {
		return fmt.Errorf("creating constraints: %w", err)
	}

	log.Info("migrations completed", zap.Duration("duration", time.Since(start)))
	return nil
}

// createConstraints adds what AutoMigrate cannot express. The exclusion
// constraint is the database-level backstop for double bookings: no two
// calendar-occupying appointments may hold overlapping booked ranges for the
// same practitioner, regardless of what the application layer believed.
func createConstraints(db *gorm.DB) error {
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS btree_gist").Error; err != nil {
		return fmt.Errorf("creating btree_gist extension: %w", err)
	}

	statements := []string{
		`ALTER TABLE clinical.appointments
			DROP CONSTRAINT IF EXISTS appointments_no_overlap`,
		`ALTER TABLE clinical.appointments
			ADD CONSTRAINT appointments_no_overlap
			EXCLUDE USING gist (
				practitioner_id WITH =,
				tstzrange(booked_start, booked_end) WITH &&
			)
			WHERE (status IN ('booked', 'arrived', 'ongoing', 'completed'))`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_practitioner_calendar
			ON clinical.appointments (practitioner_id, booked_start)
			WHERE status IN ('booked', 'arrived', 'ongoing', 'completed')`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_patient_status
			ON clinical.appointments (patient_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_status_history_appointment
			ON clinical.appointment_status_history (appointment_id, changed_at DESC)`,
	}

	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}

	return nil
}
