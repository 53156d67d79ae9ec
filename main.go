package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/anchel/voucher-seckill/config"
	"github.com/anchel/voucher-seckill/lib/cache"
	"github.com/anchel/voucher-seckill/lib/lock"
	"github.com/anchel/voucher-seckill/metrics"
	"github.com/anchel/voucher-seckill/mongodb"
	"github.com/anchel/voucher-seckill/mysqldb"
	"github.com/anchel/voucher-seckill/redisclient"
	"github.com/anchel/voucher-seckill/server"
	"github.com/anchel/voucher-seckill/service"
	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

func main() {

	log.SetLevel(log.WarnLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error("config.Load error", "err", err)
		return
	}
	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// workers outlive rootCtx so they can drain after the listeners stop
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	wgRoot := sync.WaitGroup{}

	// init redis
	rdb, err := redisclient.NewRedis(rootCtx, cfg.Redis)
	if err != nil {
		log.Error("init redis error", "err", err)
		return
	}
	defer rdb.Close()

	// init mysql
	db, err := mysqldb.Open(rootCtx, cfg.Mysql)
	if err != nil {
		log.Error("mysqldb.Open error", "err", err)
		return
	}
	defer db.Close()
	store := mysqldb.NewStore(db)
	if err := store.Migrate(rootCtx); err != nil {
		log.Error("mysqldb.Migrate error", "err", err)
		return
	}

	// init mongodb
	mc, err := mongodb.InitMongoDB(rootCtx, cfg.Mongo)
	if err != nil {
		log.Error("mongodb.InitMongoDB error", "err", err)
		return
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mc.Disconnect(ctx); err != nil {
			log.Error("mongodb Disconnect error", "err", err)
		}
	}()

	cacheClient := cache.New(rdb, lock.NewLocker(rdb), cache.Options{
		NullTTL:        cfg.Cache.NullTTL,
		RebuildWorkers: cfg.Cache.RebuildWorkers,
	})
	defer cacheClient.Close()

	svc := service.NewSeckillService(rdb, cacheClient, store, service.NewDeadLetterSink(rdb), service.OptionsFromConfig(cfg.Seckill))
	shops := service.NewShopService(rdb, cacheClient, store, cfg.Cache.ShopTTL)

	wgWorkers := sync.WaitGroup{}
	wgWorkers.Add(1)
	go func() {
		defer wgWorkers.Done()
		svc.StartReadJoinQueue(workerCtx)
	}()

	wgRoot.Add(1)
	go func() {
		defer wgRoot.Done()
		svc.Windows().Run(rootCtx, time.Hour)
	}()

	wgRoot.Add(1)
	go func() {
		defer wgRoot.Done()
		service.StartSubscribeDeadLetter(rootCtx, rdb, nil)
	}()

	go func() {
		signalChan := make(chan os.Signal, 1)
		signal.Notify(signalChan, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
		<-signalChan
		cancel()
	}()

	lis, err := net.Listen("tcp", net.JoinHostPort("", cfg.GrpcPort))
	if err != nil {
		log.Error("failed to listen", "err", err)
		cancel()
		wgRoot.Wait()
		stopWorkers()
		wgWorkers.Wait()
		return
	}
	s := server.NewGRPCServer(server.NewSeckillServer(svc, shops))
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler()}

	g, gctx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		log.Info("server listening", "addr", lis.Addr())
		return s.Serve(lis)
	})
	g.Go(func() error {
		log.Info("metrics listening", "addr", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.GracefulStop()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(ctx)
	})
	if err := g.Wait(); err != nil {
		log.Error("serve error", "err", err)
	}
	cancel()
	wgRoot.Wait()

	// no new admissions past this point; persist what is queued
	stopWorkers()
	wgWorkers.Wait()

	log.Info("server exit")
}
