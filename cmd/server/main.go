package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"color-server/common"
	"color-server/common/logger"
	"color-server/internal/config"
	"color-server/internal/controller/api"
	"color-server/internal/game"
	infrds "color-server/internal/infra/redis"
	"color-server/internal/infra/rocketmq"
	"color-server/internal/service"
	"color-server/internal/store"
	"color-server/internal/worker"
	"color-server/routers"

	beego "github.com/beego/beego/v2/server/web"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	config.SetCurrent(cfg)
	logger.InitLogger(cfg.Server.LogLevel)
	defer logger.Sync()

	if err := game.ValidatePayoutTable(); err != nil {
		logger.Fatalf("payout table invalid, refusing to start", zap.Error(err))
	}

	st := openStore(cfg)

	infrds.Init(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err := infrds.Ping(ctx, 2*time.Second); err != nil {
		logger.Warn("redis unavailable, cache/lease/rate limit degraded", zap.Error(err))
		infrds.Use(nil)
	}
	defer infrds.Close()

	var pubs []worker.Publisher
	producer, err := rocketmq.NewProducer(rocketmq.Options{
		Endpoint:    cfg.RocketMQ.Endpoint,
		AccessKey:   cfg.RocketMQ.AccessKey,
		SecretKey:   cfg.RocketMQ.SecretKey,
		TopicPrefix: cfg.RocketMQ.TopicPrefix,
		Topics:      service.Topics(),
	})
	if err != nil {
		logger.Warn("rocketmq producer disabled", zap.Error(err))
	}
	if producer != nil {
		pubs = append(pubs, producer)
		defer producer.Close()
	}
	if rdb := infrds.Client(); rdb != nil {
		pubs = append(pubs, infrds.NewPubSub(rdb))
	}

	rounds := service.NewRoundService(st)
	settle := service.NewSettleService(st)
	pipeline := service.NewPipeline(rounds, settle)
	wallets := service.NewWalletService(st)
	bets := service.NewBetService(st)
	admin := service.NewAdminService(st, rounds, pipeline, wallets)

	sched := worker.NewRoundScheduler(rounds, pipeline, config.CurrentGame)
	admin.SetNotifier(sched.Kick)
	sched.Start(ctx)

	var wg sync.WaitGroup
	worker.NewOutboxDispatcher(st, pubs...).Start(ctx, &wg)

	if err := config.StartWatch(ctx, func(oldCfg, newCfg *config.Config) {
		if oldCfg == nil || oldCfg.Server.LogLevel != newCfg.Server.LogLevel {
			logger.SetLevel(newCfg.Server.LogLevel)
			logger.Info("log level changed", zap.String("level", newCfg.Server.LogLevel))
		}
	}); err != nil {
		logger.Warn("config watch disabled", zap.Error(err))
	}

	var promSrv *http.Server
	if cfg.Observability.EnableProm && cfg.Observability.PromAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		promSrv = &http.Server{Addr: cfg.Observability.PromAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := promSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	api.Bind(api.Deps{Store: st, Rounds: rounds, Bets: bets, Settle: settle, Wallets: wallets, Admin: admin})
	routers.Register(cfg)
	beego.BConfig.CopyRequestBody = true
	beego.BConfig.RecoverPanic = true
	beego.BConfig.Listen.HTTPPort = cfg.Server.Port
	go beego.Run()
	logger.Info("color-server started", zap.Int("port", cfg.Server.Port), zap.Int("tracks", len(cfg.Game.Tracks)))

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if beego.BeeApp.Server != nil {
		_ = beego.BeeApp.Server.Shutdown(shutdownCtx)
	}
	if promSrv != nil {
		_ = promSrv.Shutdown(shutdownCtx)
	}
	// 调度器等待进行中的流水线跑完当前阶段
	sched.Wait()
	wg.Wait()
	logger.Info("bye")
}

// openStore DSN 为空时使用内存存储
func openStore(cfg *config.Config) store.Store {
	if cfg.Database.DSN == "" {
		logger.Warn("database.dsn empty, using in-memory store: single process, every transaction serialized, not for production")
		return store.NewMemory()
	}
	db := common.InitDB(cfg.Database.DSN, cfg.Database.MaxIdleConns, cfg.Database.MaxOpenConns,
		time.Duration(cfg.Database.ConnMaxLifetimeSec)*time.Second)
	return store.NewMySQL(db)
}
