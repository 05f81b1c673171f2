package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/roomdesk/api/internal/auth"
	"github.com/roomdesk/api/internal/config"
	"github.com/roomdesk/api/internal/database"
	"github.com/roomdesk/api/internal/enum"
	"github.com/roomdesk/api/internal/logging"
	"go.uber.org/zap"
)

type serviceSeed struct {
	name string
	// technician name -> price, commission
	offers map[string][2]string
}

var (
	roomNames       = []string{"Room 1", "Room 2", "Room 3", "VIP"}
	technicianNames = []string{"Ayu", "Dewi", "Rina"}
	serviceSeeds    = []serviceSeed{
		{name: "Full Body Massage", offers: map[string][2]string{
			"Ayu": {"150000", "30000"}, "Dewi": {"150000", "30000"}, "Rina": {"175000", "40000"},
		}},
		{name: "Foot Reflexology", offers: map[string][2]string{
			"Ayu": {"90000", "20000"}, "Rina": {"90000", "20000"},
		}},
		{name: "Hot Stone", offers: map[string][2]string{
			"Dewi": {"200000", "50000"},
		}},
	}
)

func main() {
	_ = godotenv.Load()

	skipCatalog := flag.Bool("token-only", false, "only print a development token")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of the printed token")
	flag.Parse()

	cfg := config.Load()
	logger, err := logging.New(cfg.LogLevel, "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	if !*skipCatalog {
		if err := seed(context.Background(), cfg, logger); err != nil {
			logger.Fatal("seed failed", zap.Error(err))
		}
	}

	owner := auth.Staff{ID: uuid.New(), Name: "Dev Owner", Role: enum.RoleOwner}
	token, err := auth.GenerateToken(cfg.JWTSecret, owner, *tokenTTL)
	if err != nil {
		logger.Fatal("generate token", zap.Error(err))
	}
	fmt.Println("Development token (OWNER):")
	fmt.Println(token)
}

func seed(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	if err := database.Migrate(pool); err != nil {
		return err
	}

	var existing int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM rooms`).Scan(&existing); err != nil {
		return fmt.Errorf("count rooms: %w", err)
	}
	if existing > 0 {
		logger.Info("catalog already seeded, skipping", zap.Int("rooms", existing))
		return nil
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var ruleID uuid.UUID
	err = tx.QueryRow(ctx,
		`INSERT INTO company_commission_rules (name, commission_type, commission_rate, is_default)
		 VALUES ('House share', $1, 50, true) RETURNING id`,
		enum.CommissionTypeProfit,
	).Scan(&ruleID)
	if err != nil {
		return fmt.Errorf("insert default rule: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO company_commission_rules (name, commission_type, commission_rate)
		 VALUES ('Walk-in revenue', $1, 30)`,
		enum.CommissionTypeRevenue,
	); err != nil {
		return fmt.Errorf("insert revenue rule: %w", err)
	}

	for _, name := range roomNames {
		if _, err := tx.Exec(ctx, `INSERT INTO rooms (name) VALUES ($1)`, name); err != nil {
			return fmt.Errorf("insert room %q: %w", name, err)
		}
	}
	if _, err := tx.Exec(ctx, `INSERT INTO rooms (name, is_temporary) VALUES ('Overflow sofa', true)`); err != nil {
		return fmt.Errorf("insert temporary room: %w", err)
	}

	techIDs := make(map[string]uuid.UUID, len(technicianNames))
	for _, name := range technicianNames {
		var id uuid.UUID
		if err := tx.QueryRow(ctx, `INSERT INTO technicians (name) VALUES ($1) RETURNING id`, name).Scan(&id); err != nil {
			return fmt.Errorf("insert technician %q: %w", name, err)
		}
		techIDs[name] = id
	}

	for _, s := range serviceSeeds {
		if err := insertService(ctx, tx, s, techIDs, ruleID); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO salespersons (name, commission_type, commission_rate)
		 VALUES ('Budi', $1, 10), ('Sari', $2, 15000)`,
		enum.SalespersonCommissionPercentage, enum.SalespersonCommissionFixed,
	); err != nil {
		return fmt.Errorf("insert salespersons: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	logger.Info("seeded catalog",
		zap.Int("rooms", len(roomNames)+1),
		zap.Int("technicians", len(technicianNames)),
		zap.Int("services", len(serviceSeeds)),
	)
	return nil
}

func insertService(ctx context.Context, tx pgx.Tx, s serviceSeed, techIDs map[string]uuid.UUID, ruleID uuid.UUID) error {
	var serviceID uuid.UUID
	if err := tx.QueryRow(ctx, `INSERT INTO services (name) VALUES ($1) RETURNING id`, s.name).Scan(&serviceID); err != nil {
		return fmt.Errorf("insert service %q: %w", s.name, err)
	}
	for tech, offer := range s.offers {
		_, err := tx.Exec(ctx,
			`INSERT INTO technician_services (technician_id, service_id, price, commission, company_commission_rule_id)
			 VALUES ($1, $2, $3::text::numeric, $4::text::numeric, $5)`,
			techIDs[tech], serviceID, offer[0], offer[1], ruleID,
		)
		if err != nil {
			return fmt.Errorf("assign %q to %q: %w", s.name, tech, err)
		}
	}
	return nil
}
