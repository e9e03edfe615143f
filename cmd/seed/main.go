package main

import (
	"context"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/boring-ventures/vivir-feliz/internal/appointment"
	"github.com/boring-ventures/vivir-feliz/internal/config"
	"github.com/boring-ventures/vivir-feliz/internal/db"
	"github.com/boring-ventures/vivir-feliz/internal/logging"
)

const (
	therapistCount    = 8
	consultationCount = 200
	interviewCount    = 100
	blockedPerSched   = 2
)

var allCategories = []appointment.Category{
	appointment.CategoryConsultation,
	appointment.CategoryInterview,
	appointment.CategorySession,
	appointment.CategoryFollowUp,
}

var workDays = []appointment.DayOfWeek{
	appointment.Monday,
	appointment.Tuesday,
	appointment.Wednesday,
	appointment.Thursday,
	appointment.Friday,
}

var blockReasons = []string{"training", "medical leave", "school visit", "team meeting", "holiday"}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config load error: " + err.Error())
	}

	logger := logging.New(cfg.IsProduction(), cfg.LogLevel).Named("seed")
	defer func() { _ = logger.Sync() }()
	logger.Info("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	gofakeit.Seed(time.Now().UnixNano())
	today := time.Now().In(cfg.ClinicTimezone)

	if err := seedProviders(ctx, pool, logger, today); err != nil {
		logger.Fatal("seed providers", zap.Error(err))
	}
	if err := seedRequests(ctx, pool, logger, "consultation_requests", consultationCount); err != nil {
		logger.Fatal("seed consultation requests", zap.Error(err))
	}
	if err := seedRequests(ctx, pool, logger, "interview_requests", interviewCount); err != nil {
		logger.Fatal("seed interview requests", zap.Error(err))
	}

	logger.Info("seed complete")
}

func seedProviders(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger, today time.Time) error {
	logger.Info("seeding providers", zap.Int("therapists", therapistCount))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// a coordinator without a usable role, to show up nowhere in availability
	if _, err := insertProvider(ctx, tx, gofakeit.Name(), appointment.RoleCoordinator); err != nil {
		return err
	}

	for i := 0; i < therapistCount; i++ {
		providerID, err := insertProvider(ctx, tx, gofakeit.Name(), appointment.RoleTherapist)
		if err != nil {
			return err
		}

		scheduleID := uuid.New()
		slot := []int{45, 60}[gofakeit.Number(0, 1)]
		brk := []int{0, 15}[gofakeit.Number(0, 1)]
		if _, err := tx.Exec(ctx, `
			INSERT INTO schedules (id, provider_id, slot_minutes, break_minutes, active, timezone, created_at, updated_at)
			VALUES ($1, $2, $3, $4, true, $5, now(), now())
		`, scheduleID, providerID, slot, brk, today.Location().String()); err != nil {
			return err
		}

		for _, day := range workDays {
			for _, w := range [][2]string{{"08:00", "12:00"}, {"14:00", "18:00"}} {
				if _, err := tx.Exec(ctx, `
					INSERT INTO weekly_windows (id, schedule_id, day_of_week, start_time, end_time, categories, available)
					VALUES ($1, $2, $3, $4::time, $5::time, $6, true)
				`, uuid.New(), scheduleID, string(day), w[0], w[1], randomCategories()); err != nil {
					return err
				}
			}
		}

		if gofakeit.Bool() {
			if _, err := tx.Exec(ctx, `
				INSERT INTO rest_periods (id, schedule_id, day_of_week, start_time, end_time)
				VALUES ($1, $2, $3, '10:00'::time, '11:00'::time)
			`, uuid.New(), scheduleID, string(workDays[gofakeit.Number(0, len(workDays)-1)])); err != nil {
				return err
			}
		}

		for j := 0; j < blockedPerSched; j++ {
			date := today.AddDate(0, 0, gofakeit.Number(1, 30))
			start, end := "00:00", "24:00"
			if gofakeit.Bool() {
				start, end = "08:00", "12:00"
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO blocked_intervals (id, schedule_id, date, start_time, end_time, reason, recurring)
				VALUES ($1, $2, $3, $4::time, $5::time, $6, false)
			`, uuid.New(), scheduleID, appointment.FormatDate(date), start, end,
				blockReasons[gofakeit.Number(0, len(blockReasons)-1)]); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	logger.Info("providers seeded")
	return nil
}

func insertProvider(ctx context.Context, tx pgx.Tx, name string, role appointment.ProviderRole) (uuid.UUID, error) {
	id := uuid.New()
	_, err := tx.Exec(ctx, `
		INSERT INTO providers (id, name, role, active, created_at, updated_at)
		VALUES ($1, $2, $3, true, now(), now())
	`, id, name, string(role))
	return id, err
}

func randomCategories() []string {
	var out []string
	for _, c := range allCategories {
		if gofakeit.Bool() {
			out = append(out, string(c))
		}
	}
	if len(out) == 0 {
		out = append(out, string(appointment.CategoryConsultation))
	}
	return out
}

func seedRequests(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger, table string, count int) error {
	logger.Info("seeding intake requests", zap.String("table", table), zap.Int("count", count))

	batch := &pgx.Batch{}
	for i := 0; i < count; i++ {
		parent := gofakeit.LastName()
		batch.Queue(`
			INSERT INTO `+table+` (id, child_name, responsible_name, phone, email, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, 'pending', now(), now())
		`, uuid.New(), gofakeit.FirstName()+" "+parent, gofakeit.FirstName()+" "+parent, gofakeit.Phone(), gofakeit.Email())
	}

	if err := pool.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}

	logger.Info("intake requests seeded", zap.String("table", table))
	return nil
}
