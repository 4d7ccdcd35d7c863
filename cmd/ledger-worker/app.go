package main

import (
	"context"

	"github.com/BearBump/shipledger/config"
	"github.com/BearBump/shipledger/internal/broker/kafka"
	"github.com/BearBump/shipledger/internal/cache"
	"github.com/BearBump/shipledger/internal/cache/rediscache"
	"github.com/BearBump/shipledger/internal/services/ledger"
	"github.com/BearBump/shipledger/internal/services/warmer"
	"github.com/BearBump/shipledger/internal/storage"
	"github.com/BearBump/shipledger/internal/storage/pgledger"
	"go.uber.org/zap"
)

type workerFactories struct {
	newStorage  func(cfg *config.Config) (st storage.Store, closeFn func(), err error)
	newCache    func(cfg *config.Config) (c cache.BytesCache, closeFn func())
	newConsumer func(cfg *config.Config, topic, group string, log *zap.Logger) (c warmer.Consumer, closeFn func())
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (storage.Store, func(), error) {
			st, err := pgledger.New(cfg.Database.ConnString())
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newCache: func(cfg *config.Config) (cache.BytesCache, func()) {
			rc := rediscache.New(cfg.Redis.Addr())
			return rc, func() { _ = rc.Close() }
		},
		newConsumer: func(cfg *config.Config, topic, group string, log *zap.Logger) (warmer.Consumer, func()) {
			c := kafka.NewShipmentConsumer(cfg.Kafka.Brokers(), topic, group).WithLogger(log)
			return c, func() { _ = c.Close() }
		},
	}
}

// workerState is what the HTTP side reads once the pipeline is assembled.
type workerState struct {
	warmer   *warmer.Warmer
	consumer warmer.Consumer
}

type consumerStatser interface {
	Stats() kafka.ConsumerStats
}

// RunLedgerWorker блокируется до отмены ctx или ошибки консьюмера.
// onReady получает собранное состояние, чтобы HTTP мог отдавать статистику.
func RunLedgerWorker(ctx context.Context, cfg *config.Config, f workerFactories, log *zap.Logger, onReady func(*workerState)) error {
	topic := cfg.Kafka.ShipmentUpdatedTopicName
	if topic == "" {
		topic = "shipment.updated"
	}
	group := cfg.Ledger.KafkaConsumerGroup
	if group == "" {
		group = "ledger-worker"
	}
	ttl := cfg.Ledger.LookupCacheTTL()
	if ttl == 0 {
		log.Warn("lookup cache disabled by ledger.lookup_cache_ttl_seconds: messages are consumed without warming")
	}

	st, closeStore, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	c, closeCache := f.newCache(cfg)
	if closeCache != nil {
		defer closeCache()
	}

	consumer, closeConsumer := f.newConsumer(cfg, topic, group, log)
	if closeConsumer != nil {
		defer closeConsumer()
	}

	svc := ledger.New(st, c, ttl).WithLogger(log)
	w := warmer.New(consumer, svc, log)
	if onReady != nil {
		onReady(&workerState{warmer: w, consumer: consumer})
	}

	log.Info("ledger-worker consuming",
		zap.String("topic", topic),
		zap.String("group", group),
		zap.Duration("view_ttl", ttl))
	return w.Run(ctx)
}
