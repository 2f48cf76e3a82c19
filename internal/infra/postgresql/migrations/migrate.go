package migrations

import (
	"github.com/claimdesk/notify-engine/internal/domain"
	"github.com/claimdesk/notify-engine/internal/repository"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_notification_jobs",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&domain.NotificationJob{}); err != nil {
					return err
				}
				indexes := []string{
					// Idempotent enqueue: at most one non-terminal job per
					// (channel, dedupe_key). SENT and exhausted FAILED rows fall
					// outside the index so the same business event can notify
					// again after it resolved.
					`CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_channel_dedupe_key ON notification_jobs (channel, dedupe_key) WHERE ` + repository.DedupeIndexPredicate,
					// Claim candidate scan.
					`CREATE INDEX IF NOT EXISTS idx_jobs_claimable ON notification_jobs (scheduled_at, created_at) WHERE status IN ('QUEUED', 'FAILED')`,
					`CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON notification_jobs (status, created_at)`,
					`CREATE INDEX IF NOT EXISTS idx_jobs_event_code ON notification_jobs (event_code)`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&domain.NotificationJob{})
			},
		},
		{
			ID: "000002_create_notification_logs",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&domain.NotificationLog{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_logs_job_id ON notification_logs (job_id)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&domain.NotificationLog{})
			},
		},
		{
			ID: "000003_create_template_mappings",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&domain.TemplateMapping{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_mappings_event_channel ON template_mappings (event_code, channel)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&domain.TemplateMapping{})
			},
		},
	})

	return m.Migrate()
}
