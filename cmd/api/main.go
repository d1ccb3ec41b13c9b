package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"drtdispatch/internal/api"
	"drtdispatch/internal/buildinfo"
	"drtdispatch/internal/config"
	"drtdispatch/internal/integrations"
	"drtdispatch/internal/integrations/csvdir"
	"drtdispatch/internal/metrics"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (default $DRT_CONFIG)")
	matrixDir := flag.String("matrix-dir", os.Getenv("DRT_MATRIX_DIR"), "directory of <dataset>.csv files imported at startup")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found (using environment variables)")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	metrics.RegisterDefault()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := api.OpenStore(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	if *matrixDir != "" {
		if err := integrations.ImportAll(ctx, csvdir.New(*matrixDir), st); err != nil {
			log.Fatalf("failed to import matrices: %v", err)
		}
	}
	broker := api.OpenBroker(ctx, cfg.Redis)

	srvDeps, err := api.NewServer(cfg, st, broker)
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}
	go srvDeps.NewWebhookWorker().Run(ctx)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           srvDeps.Handler(),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("http shutdown: %v", err)
		}
		if err := srvDeps.Shutdown(shutdownCtx); err != nil {
			log.Printf("runs shutdown: %v", err)
		}
	}()

	log.Printf("API listening addr=%s version=%s", srv.Addr, buildinfo.Version)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
	<-ctx.Done()
}
