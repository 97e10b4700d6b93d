package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"airamed/internal/app"
	"airamed/internal/config"
)

// FUNCTIONAL DISCOVERY: Main entry point with comprehensive error handling and signal management
// Graceful shutdown on SIGINT/SIGTERM ensures the active dashboard and storage close cleanly
func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

// configPath resolves the configuration file: -config wins over AIRAMED_CONFIG_FILE
func configPath(args []string) (string, error) {
	fs := flag.NewFlagSet("airamed", flag.ContinueOnError)
	path := fs.String("config", os.Getenv("AIRAMED_CONFIG_FILE"), "path to a JSON configuration file")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	return *path, nil
}

// ARCHITECTURAL DISCOVERY: Separate run function enables testing and error handling
func run(args []string) error {
	// STEP 1: Load configuration with precedence (file > env > defaults)
	path, err := configPath(args)
	if err != nil {
		return err
	}
	cfg, err := config.LoadConfigWithPrecedence(path)
	if err != nil {
		return err
	}

	// STEP 2: Create application with configuration
	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	// STEP 3: Setup signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// STEP 4: Start application
	if err := application.Start(ctx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = application.Stop(shutdownCtx)
		return fmt.Errorf("application error: %w", err)
	}

	// STEP 5: Wait for shutdown signal
	<-ctx.Done()
	log.Printf("Shutdown requested, stopping gracefully")

	// FUNCTIONAL DISCOVERY: Timeout context prevents hanging shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}
