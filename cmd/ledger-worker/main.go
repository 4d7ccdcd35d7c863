package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/BearBump/shipledger/config"
	"github.com/BearBump/shipledger/internal/logger"
	"go.uber.org/zap"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		panic(err)
	}
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}
	if err := cfg.Ledger.Validate(); err != nil {
		panic(fmt.Sprintf("invalid config: %v", err))
	}

	log, err := logger.New(cfg.Log, "ledger-worker")
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var current atomic.Pointer[workerState]
	go func() {
		err := runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr:    cfg.Ledger.WorkerHTTPAddr,
			swaggerPath: os.Getenv("workerSwaggerPath"),
			state:       &current,
			cfg:         cfg,
		})
		if err != nil && ctx.Err() == nil {
			log.Error("worker http server stopped", zap.Error(err))
		}
	}()

	err = RunLedgerWorker(ctx, cfg, defaultWorkerFactories(), log, current.Store)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("ledger-worker stopped", zap.Error(err))
		panic(err)
	}
}
