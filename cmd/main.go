package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/KAsare1/Stockalerts-server/cmd/api"
	"github.com/KAsare1/Stockalerts-server/cmd/config"
	"github.com/KAsare1/Stockalerts-server/cmd/utils"
	"github.com/KAsare1/Stockalerts-server/db"
	"github.com/KAsare1/Stockalerts-server/service/billing"
	"github.com/KAsare1/Stockalerts-server/service/cache"
	"github.com/KAsare1/Stockalerts-server/service/coaching"
	"github.com/KAsare1/Stockalerts-server/service/metrics"
	"github.com/KAsare1/Stockalerts-server/service/notifications"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	log, err := utils.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(1)
	}

	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "serve":
		err = startServer(cfg, log)
	case "migrate":
		err = runMigrations(cfg, log)
	case "seed":
		err = runSeed(cfg, log)
	case "clear-db":
		err = runDatabaseClear(cfg, log)
	default:
		log.Fatalf("Unknown command: %s", command)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func openDatabase(cfg *config.Config, log *logrus.Logger) (*gorm.DB, error) {
	conn, err := db.NewPSQLStorage(cfg.Database.URL, db.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("database initialization error: %w", err)
	}
	log.Info("Connected to the database")
	return conn, nil
}

func closeDatabase(conn *gorm.DB, log *logrus.Logger) {
	sqlDB, err := conn.DB()
	if err != nil {
		return
	}
	sqlDB.Close()
	log.Info("Database connection closed")
}

func runMigrations(cfg *config.Config, log *logrus.Logger) error {
	conn, err := openDatabase(cfg, log)
	if err != nil {
		return err
	}
	defer closeDatabase(conn, log)
	return db.Migrate(conn, log)
}

func seedAdmin(cfg *config.Config) db.SeedAdmin {
	return db.SeedAdmin{Email: cfg.Admin.Email, Username: cfg.Admin.Username, Password: cfg.Admin.Password}
}

func runSeed(cfg *config.Config, log *logrus.Logger) error {
	conn, err := openDatabase(cfg, log)
	if err != nil {
		return err
	}
	defer closeDatabase(conn, log)

	if _, err := db.Seed(context.Background(), db.NewGormStorage(conn, log), seedAdmin(cfg), log); err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	return nil
}

func runDatabaseClear(cfg *config.Config, log *logrus.Logger) error {
	conn, err := openDatabase(cfg, log)
	if err != nil {
		return err
	}
	defer closeDatabase(conn, log)

	log.Info("Preparing to clear database...")

	var confirmation string
	fmt.Print("Are you sure you want to clear the database? (yes/no): ")
	fmt.Scanln(&confirmation)
	if confirmation != "yes" {
		log.Info("Database clearing cancelled.")
		return nil
	}

	var tableNames string
	fmt.Print("Enter table names to clear (comma separated) or leave blank to clear all: ")
	fmt.Scanln(&tableNames)

	var tables []interface{}
	if tableNames != "" {
		for _, name := range strings.Split(tableNames, ",") {
			table, ok := db.TableByName(strings.TrimSpace(name))
			if !ok {
				log.Warnf("Unknown table: %s", name)
				continue
			}
			tables = append(tables, table)
		}
		if len(tables) == 0 {
			return fmt.Errorf("no known tables in %q", tableNames)
		}
	}

	if err := db.DropTables(conn, log, tables); err != nil {
		return fmt.Errorf("error clearing database: %w", err)
	}
	log.Info("Database cleared successfully")
	return nil
}

func startServer(cfg *config.Config, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store db.Storage
	if cfg.Database.URL != "" {
		conn, err := openDatabase(cfg, log)
		if err != nil {
			return err
		}
		defer closeDatabase(conn, log)
		if err := db.Migrate(conn, log); err != nil {
			return err
		}
		store = db.NewGormStorage(conn, log)
	} else {
		log.Warn("DB_URL not set, using in-memory storage")
		store = db.NewMemStorage()
	}
	if _, err := db.Seed(ctx, store, seedAdmin(cfg), log); err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	var appCache cache.Cache = cache.NewMemoryCache()
	if cfg.Redis.Addr != "" {
		rc, err := cache.NewRedisCache(ctx, cache.RedisConfig{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err != nil {
			return err
		}
		defer rc.Close()
		appCache = rc
		log.Infof("Using redis cache at %s", cfg.Redis.Addr)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	deps := api.Deps{
		Store:   store,
		Cache:   appCache,
		Metrics: metrics.New(reg),
		Pusher:  notifications.NewExpoPusher(log),
	}
	if cfg.SMTP.Host != "" {
		deps.Mailer = notifications.NewSMTPMailer(notifications.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
	} else {
		log.Warn("SMTP_HOST not set, email notifications disabled")
	}
	if cfg.Stream.APIKey != "" {
		chat, err := coaching.NewStreamChat(cfg.Stream.APIKey, cfg.Stream.APISecret, 0)
		if err != nil {
			return err
		}
		deps.Chat = chat
	}
	if cfg.Stripe.SecretKey != "" {
		deps.Gateway = billing.NewStripeGateway(cfg.Stripe.SecretKey, cfg.Stripe.SuccessURL, cfg.Stripe.CancelURL)
	} else {
		log.Warn("STRIPE_SECRET_KEY not set, billing disabled")
	}

	server, err := api.NewApiServer(cfg, deps, log)
	if err != nil {
		return err
	}
	return server.Run(ctx)
}
