package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/appetiteclub/apt/middleware"
	"github.com/joho/godotenv"

	"github.com/appetiteclub/pos/pkg"
	"github.com/appetiteclub/pos/pkg/event"
	"github.com/appetiteclub/pos/services/order/internal/lifecycle"
	"github.com/appetiteclub/pos/services/order/internal/lock"
	"github.com/appetiteclub/pos/services/order/internal/lockstore"
	"github.com/appetiteclub/pos/services/order/internal/mongo"
)

const (
	appNamespace = "ORDER"
	appName      = "order"
	appVersion   = "0.1.0"
)

func main() {
	// A missing .env is fine, the environment and flags still apply.
	_ = godotenv.Load()

	config, err := apt.LoadConfig(appNamespace, os.Args[1:])
	if err != nil {
		log.Fatalf("%s(%s) cannot setup: %v", appName, appVersion, err)
	}

	logLevel, _ := config.GetString("log.level")
	logger := apt.NewLogger(logLevel)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)
	defer stop()

	seedCtx, cancelSeeds := context.WithCancel(ctx)
	defer cancelSeeds()

	terminalID := config.GetStringOrDef("terminal.id", "")
	if terminalID == "" {
		host, _ := os.Hostname()
		terminalID = host
	}
	logger = logger.With("terminal", terminalID)

	baseRepo := mongo.NewBaseRepo(config, logger)
	err = baseRepo.Start(ctx)
	if err != nil {
		log.Fatalf("%s(%s) cannot start base repository: %v", appName, appVersion, err)
	}

	db := baseRepo.GetDatabase()
	if db == nil {
		log.Fatalf("%s(%s) cannot initialize repository database: %v", appName, appVersion, errors.New("repository database is nil"))
	}

	orderRepo := mongo.NewOrderRepo(db)
	numberer := mongo.NewOrderNumberer(db)

	natsURL := config.GetStringOrDef("nats.url", "nats://localhost:4222")

	pub, err := pkg.NewNATSPublisher(natsURL, appName+"-"+terminalID, logger)
	if err != nil {
		log.Fatalf("%s(%s) cannot connect to NATS publisher: %v", appName, appVersion, err)
	}

	sub, err := pkg.NewNATSSubscriber(natsURL, appName+"-"+terminalID, logger)
	if err != nil {
		log.Fatalf("%s(%s) cannot connect to NATS subscriber: %v", appName, appVersion, err)
	}

	lockStore, closeLockStore, err := lockstore.Open(ctx, config, db)
	if err != nil {
		log.Fatalf("%s(%s) cannot create lock store: %v", appName, appVersion, err)
	}

	lockTTL, err := parseDuration(config.GetStringOrDef("locks.ttl", "0s"))
	if err != nil {
		log.Fatalf("%s(%s) invalid locks.ttl: %v", appName, appVersion, err)
	}

	registry := lock.NewRegistry(lockStore, lock.Options{Holder: terminalID, TTL: lockTTL}, pub, logger)

	engine := lifecycle.NewEngine(lifecycle.EngineDeps{
		Repo:      orderRepo,
		Locks:     registry,
		Numbers:   numberer,
		Publisher: pub,
		Printer:   lifecycle.NewPrintPublisher(pub, logger),
		Notifier:  lifecycle.NewVoidPublisher(pub),
	}, logger)

	// Change notifications come from a durable stream when enabled, so a
	// terminal that reconnects catches up on what it missed.
	var changes events.Subscriber = sub
	var stream *pkg.NATSStream
	if enabled(config, "nats.stream.enabled") {
		stream, err = pkg.NewNATSStream(ctx, pkg.NATSStreamConfig{
			URL:               natsURL,
			StreamName:        config.GetStringOrDef("nats.stream.name", "POS_ORDERS"),
			Topic:             event.OrderChangesTopic,
			ConsumerName:      "order-view-" + terminalID,
			InactiveThreshold: 72 * time.Hour,
		}, logger)
		if err != nil {
			log.Fatalf("%s(%s) cannot create NATS stream: %v", appName, appVersion, err)
		}
		changes = stream
	}

	views := lifecycle.NewOrderViewCache(orderRepo, logger)
	changeSub := lifecycle.NewOrderChangeSubscriber(changes, sub, views, logger)

	handler := lifecycle.NewHandler(engine, views, logger)

	lockLifecycle := apt.LifecycleHooks{
		OnStart: registry.Start,
		OnStop: func(ctx context.Context) error {
			released, err := registry.ReleaseHeld(ctx)
			if released > 0 {
				logger.Info("released held locks", "count", released)
			}
			if closeLockStore != nil {
				if closeErr := closeLockStore(); closeErr != nil && err == nil {
					err = closeErr
				}
			}
			return err
		},
	}

	viewLifecycle := apt.LifecycleHooks{
		OnStart: changeSub.Start,
	}

	publisherLifecycle := apt.LifecycleHooks{
		OnStop: func(context.Context) error {
			return pub.Close()
		},
	}

	subLifecycle := apt.LifecycleHooks{
		OnStop: func(context.Context) error {
			if stream != nil {
				if err := stream.Close(); err != nil {
					logger.Error("cannot close NATS stream", "error", err)
				}
			}
			return sub.Close()
		},
	}

	// Setup demo seeding if enabled
	demoEnabled := enabled(config, "seeding.demo")
	var seedHooks apt.LifecycleHooks
	if demoEnabled {
		logger.Info("Demo seeding enabled for order service")
		seedHooks = apt.LifecycleHooks{
			OnStart: lifecycle.DemoSeedingFunc(seedCtx, engine, db, logger),
			OnStop: func(context.Context) error {
				cancelSeeds()
				return nil
			},
		}
	}

	stack := middleware.DefaultStack(middleware.StackOptions{
		Logger:      logger,
		DisableCORS: true,
	})
	stack = append(stack, middleware.InternalOnly())

	lifecycles := []interface{}{
		apt.LifecycleHooks{OnStop: baseRepo.Stop},
		lockLifecycle,
		viewLifecycle,
		publisherLifecycle,
		subLifecycle,
	}
	if demoEnabled {
		lifecycles = append(lifecycles, seedHooks)
	}

	options := []apt.Option{
		apt.WithConfig(config),
		apt.WithLogger(logger),
		apt.WithHTTPMiddleware(stack...),
		apt.WithHTTPServerModules("web.port", handler),
		apt.WithLifecycle(lifecycles...),
		apt.WithHealthChecks(appName),
	}

	ms := apt.NewMicro(options...)
	logger.Infof("Starting %s(%s)", appName, appVersion)

	err = ms.Run(ctx)
	if err != nil {
		_ = baseRepo.Stop(context.Background())
		log.Fatalf("%s(%s) stopped: %v", appName, appVersion, err)
	}

	logger.Infof("%s(%s) stopped", appName, appVersion)
}

func parseDuration(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must not be negative: %s", raw)
	}
	return d, nil
}

func enabled(config *apt.Config, key string) bool {
	on, _ := strconv.ParseBool(config.GetStringOrDef(key, "false"))
	return on
}
