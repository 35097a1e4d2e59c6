package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/yungbote/socratica-backend/internal/logger"
	"github.com/yungbote/socratica-backend/internal/types"
	"github.com/yungbote/socratica-backend/internal/utils"
)

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostgresService(log *logger.Logger) (*PostgresService, error) {
	serviceLog := log.With("service", "PostgresService")

	postgresHost := utils.GetEnv("POSTGRES_HOST", "localhost", log)
	postgresPort := utils.GetEnv("POSTGRES_PORT", "5432", log)
	postgresUser := utils.GetEnv("POSTGRES_USER", "postgres", log)
	postgresPassword := utils.GetEnv("POSTGRES_PASSWORD", "", log)
	postgresName := utils.GetEnv("POSTGRES_NAME", "socratica", log)

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", postgresUser, postgresPassword, postgresHost, postgresPort, postgresName)

	serviceLog.Info("Connecting to Postgres...")
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		serviceLog.Error("Failed to connect to Postgres", "error", err)
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := gdb.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		serviceLog.Error("Failed to enable uuid-ossp extension", "error", err)
		return nil, fmt.Errorf("failed to enable uuid-ossp extension: %w", err)
	}

	return &PostgresService{db: gdb, log: serviceLog}, nil
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	err := s.db.AutoMigrate(
		&types.User{},
		&types.UserToken{},
		&types.Session{},
		&types.Phase{},
		&types.Term{},
		&types.Message{},
		&types.FollowUp{},
	)
	if err != nil {
		s.log.Error("Auto migration failed for postgres tables", "error", err)
		return err
	}

	// Cascade deletes flow session -> phases/terms/messages/follow-ups so a
	// future delete-session endpoint cannot strand child rows.
	constraints := []struct {
		name string
		stmt string
	}{
		{"fk_user_token_user_id", `ALTER TABLE "user_token" ADD CONSTRAINT "fk_user_token_user_id" FOREIGN KEY ("user_id") REFERENCES "user"("id") ON DELETE CASCADE`},
		{"fk_session_user_id", `ALTER TABLE "session" ADD CONSTRAINT "fk_session_user_id" FOREIGN KEY ("user_id") REFERENCES "user"("id") ON DELETE CASCADE`},
		{"fk_phase_session_id", `ALTER TABLE "phase" ADD CONSTRAINT "fk_phase_session_id" FOREIGN KEY ("session_id") REFERENCES "session"("id") ON DELETE CASCADE`},
		{"fk_term_session_id", `ALTER TABLE "term" ADD CONSTRAINT "fk_term_session_id" FOREIGN KEY ("session_id") REFERENCES "session"("id") ON DELETE CASCADE`},
		{"fk_message_session_id", `ALTER TABLE "message" ADD CONSTRAINT "fk_message_session_id" FOREIGN KEY ("session_id") REFERENCES "session"("id") ON DELETE CASCADE`},
		{"fk_follow_up_session_id", `ALTER TABLE "follow_up" ADD CONSTRAINT "fk_follow_up_session_id" FOREIGN KEY ("session_id") REFERENCES "session"("id") ON DELETE CASCADE`},
		{"fk_follow_up_message_id", `ALTER TABLE "follow_up" ADD CONSTRAINT "fk_follow_up_message_id" FOREIGN KEY ("message_id") REFERENCES "message"("id") ON DELETE CASCADE`},
	}
	for _, c := range constraints {
		stmt := fmt.Sprintf(`
			DO $$ BEGIN
				IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = '%s') THEN
					%s;
				END IF;
			END $$;
		`, c.name, c.stmt)
		if err := s.db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to add %s: %w", c.name, err)
		}
	}
	return nil
}

func (s *PostgresService) DB() *gorm.DB {
	return s.db
}
