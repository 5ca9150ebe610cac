package main // Entry point package

import (
	"context" // context for background workers
	"log"     // Logging library

	"github.com/labstack/echo/v4" // Echo web framework

	"github.com/granjafresh/ovostock/internal/cache"
	"github.com/granjafresh/ovostock/internal/config"
	"github.com/granjafresh/ovostock/internal/database"
	"github.com/granjafresh/ovostock/internal/handler"
	"github.com/granjafresh/ovostock/internal/ledger"
	"github.com/granjafresh/ovostock/internal/payment"
	"github.com/granjafresh/ovostock/internal/queue"
	"github.com/granjafresh/ovostock/internal/repository"
	"github.com/granjafresh/ovostock/internal/router"
	queue_publisher "github.com/granjafresh/ovostock/internal/service"
	"github.com/granjafresh/ovostock/internal/validity"
)

func main() {
	cfg := config.Load() // Load environment config

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}

	// Repositories over the shared pool.
	itemRepo := repository.NewItemRepo(db)
	reservationRepo := repository.NewReservationRepo(db)
	movementRepo := repository.NewStockMovementRepo(db)
	chargeRepo := repository.NewPaymentChargeRepo(db)

	// Redis backs the availability cache and the purchase rate limiter.
	// A failed connection degrades both rather than stopping the server.
	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Printf("redis unavailable; cache and rate limiting disabled")
	}
	availCache := cache.NewAvailabilityCache(config.LoadCacheConfig(), rdb, itemRepo)

	// The ledger serializes every stock mutation and invalidates the
	// availability cache after each one.
	ldg := ledger.New(db, itemRepo, reservationRepo, movementRepo, cfg.HoldWindow)
	ldg.OnMutation(availCache.InvalidateItem)

	// External collaborators: logistics (ETA, fees, restock cadence)
	// and the PIX payment provider, all with bounded timeouts.
	etaClient := validity.NewETAClient(cfg.LogisticsURL, cfg.ProviderTimeout)
	restockClient := validity.NewRestockClient(cfg.LogisticsURL, cfg.ProviderTimeout)
	feeClient := payment.NewFeeClient(cfg.LogisticsURL, cfg.ProviderTimeout)
	pixClient := payment.NewPixClient(cfg.PixBaseURL, cfg.PixAccessToken, cfg.PixMerchantKey, cfg.ProviderTimeout)

	evaluator := validity.NewEvaluator(etaClient, restockClient, itemRepo)
	issuer := payment.NewIssuer(pixClient, feeClient, chargeRepo)

	publisher := queue_publisher.NewPublisher(cfg.AMQPURL)
	settlement := payment.NewSettlement(itemRepo, reservationRepo, chargeRepo, ldg, publisher, publisher)

	// Background workers: the expiry sweeper reclaims unpaid holds and
	// the delivery consumer logs emitted delivery requests locally.
	sweeper := ledger.NewSweeper(ldg, reservationRepo, chargeRepo, cfg.SweepInterval, cfg.SweepBatchSize)
	go sweeper.Run(context.Background())
	go func() {
		if err := queue.StartDeliveryConsumer(); err != nil {
			log.Printf("delivery consumer stopped: %v", err)
		}
	}()

	e := echo.New() // Create Echo instance
	router.RegisterRoutes(e)
	router.RegisterPurchase(e,
		handler.NewPurchaseHandler(itemRepo, reservationRepo, chargeRepo, ldg, evaluator, issuer),
		handler.NewAvailabilityHandler(availCache),
		handler.NewWebhookHandler(settlement),
		rdb,
	)

	addr := ":" + cfg.Port                                // Address string with port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env) // Print startup info

	if err := e.Start(addr); err != nil { // Start HTTP server
		log.Fatal(err) // Log and exit if server fails
	}
}
