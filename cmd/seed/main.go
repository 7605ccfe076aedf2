// Package main seeds the demo transactional tables the built-in reports
// project from. It is idempotent: tables are recreated and refilled on every
// run.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/Masterminds/squirrel"

	"analytica/internal/config"
	"analytica/internal/infrastructure/storage/postgres"
	"analytica/pkg/logger"
)

var schema = []string{
	`DROP TABLE IF EXISTS asset_depreciation_line, account_asset,
		membership_line, res_partner, hr_leave, hr_employee CASCADE`,

	`CREATE TABLE res_partner (
		id   bigserial PRIMARY KEY,
		name text NOT NULL
	)`,

	`CREATE TABLE hr_employee (
		id   bigserial PRIMARY KEY,
		name text NOT NULL
	)`,

	`CREATE TABLE account_asset (
		id            bigserial PRIMARY KEY,
		name          text NOT NULL,
		purchase_date date NOT NULL,
		currency      text NOT NULL DEFAULT 'EUR',
		gross_value   numeric(16,2) NOT NULL
	)`,

	`CREATE TABLE asset_depreciation_line (
		id       bigserial PRIMARY KEY,
		asset_id bigint NOT NULL REFERENCES account_asset(id),
		amount   numeric(16,2) NOT NULL
	)`,

	`CREATE TABLE membership_line (
		id         bigserial PRIMARY KEY,
		partner_id bigint NOT NULL REFERENCES res_partner(id),
		state      text,
		date_from  date NOT NULL,
		currency   text NOT NULL DEFAULT 'EUR',
		amount     numeric(16,2) NOT NULL
	)`,

	`CREATE TABLE hr_leave (
		id             bigserial PRIMARY KEY,
		employee_id    bigint NOT NULL REFERENCES hr_employee(id),
		leave_type     text NOT NULL,
		date_from      timestamp NOT NULL,
		number_of_days numeric(6,1) NOT NULL
	)`,
}

func main() {
	configPath := flag.String("config", "", "optional config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Development: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(cfg.DatabaseURL))
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			log.Fatalw("schema statement failed", "error", err, "stmt", stmt)
		}
	}
	log.Info("transactional tables created")

	if err := seedData(ctx, pool); err != nil {
		log.Fatalw("seeding failed", "error", err)
	}
	log.Info("sample data inserted")
}

func seedData(ctx context.Context, pool *postgres.Pool) error {
	builder := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

	inserts := []squirrel.InsertBuilder{
		builder.Insert("res_partner").Columns("name").
			Values("Alpha Industries").
			Values("Beta Trading").
			Values("Gamma Services").
			Values("Delta Logistics"),

		builder.Insert("hr_employee").Columns("name").
			Values("Ivanov").
			Values("Petrova").
			Values("Sidorov"),

		// Five assets purchased across two years.
		builder.Insert("account_asset").
			Columns("name", "purchase_date", "currency", "gross_value").
			Values("Lathe", "2025-02-10", "EUR", 12000).
			Values("Press", "2025-06-01", "EUR", 8000).
			Values("Truck", "2025-09-15", "EUR", 30000).
			Values("Server rack", "2024-03-20", "EUR", 5000).
			Values("Forklift", "2024-11-05", "USD", 15000),

		// Thirteen depreciation lines spread over the five assets.
		builder.Insert("asset_depreciation_line").Columns("asset_id", "amount").
			Values(1, 1000).Values(1, 1000).Values(1, 1000).
			Values(2, 800).Values(2, 800).
			Values(3, 2500).Values(3, 2500).Values(3, 2500).
			Values(4, 500).Values(4, 500).Values(4, 500).
			Values(5, 1500).Values(5, 1500),

		// Four membership lines, one with an unset state.
		builder.Insert("membership_line").
			Columns("partner_id", "state", "date_from", "currency", "amount").
			Values(1, "paid", "2026-01-15", "EUR", 100).
			Values(2, "paid", "2026-02-01", "EUR", 100).
			Values(3, "cancel", "2026-03-10", "EUR", 100).
			Values(4, nil, "2026-04-01", "EUR", 100),

		// Six leaves over March, April and May.
		builder.Insert("hr_leave").
			Columns("employee_id", "leave_type", "date_from", "number_of_days").
			Values(1, "vacation", "2026-03-02 09:00:00", 5).
			Values(1, "sick", "2026-03-18 09:00:00", 2).
			Values(2, "vacation", "2026-04-06 09:00:00", 10).
			Values(2, "unpaid", "2026-04-20 09:00:00", 1).
			Values(3, "vacation", "2026-05-11 09:00:00", 5).
			Values(3, "sick", "2026-05-25 09:00:00", 3),
	}

	for _, ins := range inserts {
		sql, args, err := ins.ToSql()
		if err != nil {
			return fmt.Errorf("build insert: %w", err)
		}
		if _, err := pool.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("insert failed: %w", err)
		}
	}
	return nil
}
