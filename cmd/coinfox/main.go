package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"

	"github.com/ManuelReschke/CoinFox/app/controllers"
	"github.com/ManuelReschke/CoinFox/internal/pkg/cache"
	"github.com/ManuelReschke/CoinFox/internal/pkg/database"
	"github.com/ManuelReschke/CoinFox/internal/pkg/env"
	"github.com/ManuelReschke/CoinFox/internal/pkg/events"
	"github.com/ManuelReschke/CoinFox/internal/pkg/jobs"
	"github.com/ManuelReschke/CoinFox/internal/pkg/middleware"
	"github.com/ManuelReschke/CoinFox/internal/pkg/payment"
	"github.com/ManuelReschke/CoinFox/internal/pkg/paymongo"
	"github.com/ManuelReschke/CoinFox/internal/pkg/router"
	"github.com/ManuelReschke/CoinFox/internal/pkg/s3export"
)

// Application is the wired server plus what has to be stopped on exit.
type Application struct {
	App       *fiber.App
	Jobs      *jobs.Manager
	Publisher events.Publisher
}

func main() {
	application := NewApplication()
	application.Jobs.Start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
		if err := application.App.Listen(addr); err != nil {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	log.Print("shutting down")
	application.Shutdown(10 * time.Second)
}

func NewApplication() *Application {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	paymentCfg, err := payment.LoadConfig()
	if err != nil {
		log.Fatalf("payment config: %v", err)
	}
	if !paymentCfg.HasWebhookSecret() {
		log.Print("WARNING: PAYMONGO_WEBHOOK_SECRET is empty, every webhook will be answered with 500")
	}

	publisher := events.NewPublisherFromEnv()
	db := database.GetDB()
	svc := payment.NewServiceFromDB(paymentCfg, db, cache.GetClient(), publisher)

	manager := jobs.NewManager(jobs.Config{
		ReconcileInterval: env.GetEnvDuration("RECONCILE_INTERVAL", 15*time.Minute),
		ExportInterval:    env.GetEnvDuration("EXPORT_INTERVAL", time.Hour),
	}, svc.NewReconciler(), newLedgerExporter(db))

	// Define possible base paths
	basePaths := []string{
		"./",     // Current directory
		"../../", // From cmd/coinfox to project root
	}
	basePath := "./"
	for _, path := range basePaths {
		if _, err := os.Stat(path + "docs/openapi.yml"); err == nil {
			basePath = path
			break
		}
	}

	// init fiber app
	app := fiber.New(fiber.Config{
		AppName:   "CoinFox",
		BodyLimit: 1 << 20, // webhook payloads are small
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// SWAGGER / OPENAPI
	app.Use(swagger.New(swagger.Config{
		BasePath: "/docs/api/",
		FilePath: basePath + "docs/openapi.yml",
		Path:     "v1",
	}))

	// ROUTER
	router.InstallRouter(app, router.Dependencies{
		Controllers: &controllers.Controllers{
			Main: controllers.NewMainController(map[string]controllers.HealthCheck{
				"database": controllers.DatabaseCheck(db),
				"cache":    controllers.CacheCheck(),
			}),
			Payment: controllers.NewPaymentController(svc, paymongo.NewClientFromEnv()),
			Balance: controllers.NewBalanceController(svc),
		},
		Admin:          middleware.AdminCredentialsFromEnv(),
		LimiterStorage: middleware.NewLimiterStorage(),
	})

	return &Application{App: app, Jobs: manager, Publisher: publisher}
}

// newLedgerExporter returns nil when S3 export is disabled or misconfigured.
func newLedgerExporter(db *gorm.DB) jobs.DayExporter {
	cfg, err := s3export.LoadConfig()
	if err != nil {
		log.Printf("ledger export disabled: %v", err)
		return nil
	}
	if !cfg.IsEnabled() {
		return nil
	}
	client, err := s3export.NewClient(context.Background(), cfg)
	if err != nil {
		log.Printf("ledger export disabled: %v", err)
		return nil
	}
	return s3export.NewExporter(cfg, payment.NewRepository(db), client)
}

func (a *Application) Shutdown(timeout time.Duration) {
	a.Jobs.Stop()
	if err := a.App.ShutdownWithTimeout(timeout); err != nil {
		log.Printf("server shutdown: %v", err)
	}
	if err := a.Publisher.Close(); err != nil {
		log.Printf("close publisher: %v", err)
	}
}
