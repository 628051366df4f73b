package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"pointsarena/server/internal/auth"
	"pointsarena/server/internal/config"
	httpapi "pointsarena/server/internal/http"
	"pointsarena/server/internal/ledger"
	"pointsarena/server/internal/logging"
)

const proofLeeway = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	//1.- Choose the ledger backing: durable SQLite when a path is configured,
	// an in-process store otherwise.
	var store ledger.Store
	if cfg.LedgerPath != "" {
		sqliteStore, err := ledger.OpenSQLite(cfg.LedgerPath)
		if err != nil {
			logger.Fatal("open ledger", logging.String("path", cfg.LedgerPath), logging.Error(err))
		}
		store = sqliteStore
		logger.Info("ledger ready", logging.String("path", cfg.LedgerPath))
	} else {
		store = ledger.NewMemoryStore()
		logger.Warn("ledger is in-memory; balances reset on restart")
	}
	defer store.Close()

	//2.- Choose the login verifier: signed proofs when a secret is present.
	var verifier auth.Verifier
	if cfg.AuthSecret != "" {
		hmacVerifier, err := auth.NewHMACVerifier(cfg.AuthSecret, proofLeeway)
		if err != nil {
			logger.Fatal("configure verifier", logging.Error(err))
		}
		verifier = hmacVerifier
	} else {
		verifier = auth.AllowAll{}
		logger.Warn("ARENA_AUTH_SECRET not set; accepting unsigned login proofs")
	}

	server := NewServer(cfg, logger, store, verifier)
	go server.Run()
	defer server.Stop()

	handlers := httpapi.NewHandlerSet(httpapi.Options{
		Logger:          logger,
		Status:          server,
		Stats:           server.Stats,
		Ledger:          store,
		AdminToken:      cfg.AdminToken,
		RateLimiter:     httpapi.NewSlidingWindowLimiter(cfg.AdminRateWindow, cfg.AdminRateBurst, nil),
		StartingBalance: cfg.StartingBalance,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", server.ServeWS)
	handlers.Register(mux)

	logger.Info("arena listening",
		logging.String("addr", cfg.Address),
		logging.String("url", listenerURL(cfg.Address, false)),
		logging.Int("max_clients", cfg.MaxClients))

	traced := logging.HTTPTraceMiddleware(logger)(mux)
	if err := http.ListenAndServe(cfg.Address, traced); err != nil {
		logger.Fatal("http server stopped", logging.Error(err))
	}
}
