// cmd/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/safarypto/safarypto/internal/api"
	"github.com/safarypto/safarypto/internal/chain"
	"github.com/safarypto/safarypto/internal/config"
	"github.com/safarypto/safarypto/internal/custody"
	"github.com/safarypto/safarypto/internal/db"
	"github.com/safarypto/safarypto/internal/ledger"
	"github.com/safarypto/safarypto/internal/logging"
	"github.com/safarypto/safarypto/internal/mpesa"
	"github.com/safarypto/safarypto/internal/rates"
	"github.com/safarypto/safarypto/internal/wallet"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.Error("failed to load configuration", zap.Error(err))
		os.Exit(1)
	}

	logging.Init(cfg.Debug)
	defer logging.Sync()

	gdb, err := db.Open(cfg.DatabaseURL, cfg.MigrationsPath)
	if err != nil {
		logging.Error("failed to connect to database", zap.Error(err))
		os.Exit(1)
	}
	defer func() { _ = db.Close(gdb) }()
	db.CheckLedgerIndexes(gdb)

	keeper, err := custody.NewKeeper(cfg.EncryptionKey)
	if err != nil {
		logging.Error("failed to initialize key custody", zap.Error(err))
		os.Exit(1)
	}

	chainClient, err := chain.NewClient(cfg.Chain)
	if err != nil {
		logging.Error("failed to connect to chain node", zap.Error(err))
		os.Exit(1)
	}

	txLedger := ledger.New(gdb)
	wallets := wallet.NewService(gdb, txLedger, chainClient, keeper, rates.DefaultTable())
	deposits := mpesa.NewService(mpesa.NewClient(cfg.Mpesa), txLedger, gdb)

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	api.NewHandler(wallets, deposits).Register(router)

	server := &http.Server{Addr: cfg.ListenAddr, Handler: router}
	go func() {
		logging.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("server stopped", zap.Error(err))
			os.Exit(1)
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	logging.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logging.Error("shutdown error", zap.Error(err))
	}
}
