package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/appetiteclub/apt"
	"github.com/joho/godotenv"

	"github.com/appetiteclub/pos/services/order/cmd/utils/internal/commands"
)

const (
	appName    = "pos-utils"
	appVersion = "0.1.0"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	_ = godotenv.Load()

	flags, args := splitArgs(os.Args[2:])
	config, err := apt.LoadConfig("UTILS", flags)
	if err != nil {
		log.Fatalf("Cannot load config: %v", err)
	}

	logLevel := config.GetStringOrDef("log.level", "info")
	logger := apt.NewLogger(logLevel)

	ctx := context.Background()
	command := os.Args[1]

	switch command {
	case "seed-demo":
		if err := commands.SeedDemo(ctx, config, logger); err != nil {
			log.Fatalf("Demo seeding failed: %v", err)
		}
		logger.Info("Demo seeding completed successfully")

	case "clear-demo":
		if err := commands.ClearDemo(ctx, config, logger); err != nil {
			log.Fatalf("Clear demo data failed: %v", err)
		}
		logger.Info("Demo data cleared successfully")

	case "list-locks":
		if err := commands.ListLocks(ctx, config, logger, os.Stdout); err != nil {
			log.Fatalf("List locks failed: %v", err)
		}

	case "clear-locks":
		target, err := commands.ParseLockTarget(args)
		if err != nil {
			fmt.Printf("%v\n\n", err)
			printUsage()
			os.Exit(1)
		}
		n, err := commands.ClearLocks(ctx, config, logger, target)
		if err != nil {
			log.Fatalf("Clear locks failed: %v", err)
		}
		logger.Info("Locks cleared", "count", n)

	case "reset-db":
		if err := commands.ResetDB(ctx, config, logger); err != nil {
			log.Fatalf("Database reset failed: %v", err)
		}
		logger.Info("Database reset completed successfully")

	case "version":
		fmt.Printf("%s version %s\n", appName, appVersion)

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

// splitArgs separates config flags from positional arguments.
func splitArgs(in []string) (flags, args []string) {
	for _, a := range in {
		if strings.HasPrefix(a, "-") {
			flags = append(flags, a)
			continue
		}
		args = append(args, a)
	}
	return flags, args
}

func printUsage() {
	fmt.Printf(`%s - POS order utility commands

Usage:
  %s <command> [arguments] [options]

Commands:
  seed-demo              Drive the demo orders through the order engine
  clear-demo             Remove demo orders and their seed marker
  list-locks             Print every order claim and its holder
  clear-locks <target>   Remove claims left by terminals that never came back
                         target: an order id, holder=<terminal>, or all
  reset-db               Drop the order database (USE WITH CAUTION)
  version                Print version information
  help                   Show this help message

Environment Variables:
  UTILS_DB_MONGO_URL     MongoDB connection URL (default: mongodb://localhost:27017)
  UTILS_DB_MONGO_NAME    Order database name (default: pos_order)
  UTILS_LOCKS_BACKEND    Claim store: mongo, redis or memory (default: mongo)
  UTILS_REDIS_URL        Redis URL when the claim store is redis
  UTILS_NATS_URL         When set, lock clears are announced to the terminals
  UTILS_LOG_LEVEL        Log level: debug, info, warn, error (default: info)

Examples:
  %s seed-demo
  %s list-locks
  %s clear-locks holder=terminal-3
  UTILS_LOCKS_BACKEND=redis %s clear-locks all

`, appName, appName, appName, appName, appName, appName)
}
