package main

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/farmlink/marketplace/internal/api"
	"github.com/farmlink/marketplace/internal/auth"
	"github.com/farmlink/marketplace/internal/config"
	"github.com/farmlink/marketplace/internal/database"
	"github.com/farmlink/marketplace/internal/events"
	"github.com/farmlink/marketplace/internal/service"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		slog.Error("connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	slog.Info("connected to database")

	var publisher *events.Publisher
	if cfg.Events.Enabled {
		conn, pub, err := events.Connect(cfg.Events.AMQPURL, cfg.Events.Exchange)
		if err != nil {
			slog.Error("connect to broker", "error", err)
			os.Exit(1)
		}
		defer conn.Close()
		publisher = pub
		slog.Info("connected to broker", "exchange", cfg.Events.Exchange)
	}

	tokens := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	handler := api.NewHandler(
		service.NewAccountService(db, tokens),
		service.NewProductService(db),
		service.NewOrderService(db, publisher),
		service.NewPaymentService(db, publisher),
		service.NewReviewService(db),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      api.NewRouter(handler, tokens),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	slog.Info("server starting", "port", cfg.Server.Port)
	if err := server.ListenAndServe(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
