package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PriceKeeper/pkg/api"
	"PriceKeeper/pkg/collector"
	"PriceKeeper/pkg/config"
	"PriceKeeper/pkg/database"
	"PriceKeeper/pkg/engine"
	"PriceKeeper/pkg/messaging"
	"PriceKeeper/pkg/monitor"
	"PriceKeeper/pkg/repository"
	"PriceKeeper/pkg/scheduler"
	"PriceKeeper/pkg/updater"

	"github.com/joho/godotenv"
)

func main() {
	log.Println("启动调价服务...")

	if err := godotenv.Load(); err != nil {
		log.Println("未找到 .env 文件, 使用系统环境变量")
	}

	cfg, err := config.LoadConfig(config.GetDefaultConfigPath())
	if err != nil {
		log.Fatalf("加载配置失败: %v\n", err)
	}

	alert := monitor.LogAlert
	if cfg.Monitor.AlertWebhookURL != "" {
		alert = monitor.NewNotificationService(cfg.Monitor.AlertWebhookURL).AlertFunc()
	}
	mon := monitor.NewMonitor(alert)

	var (
		recorders []updater.Recorder
		db        *database.TimescaleDB
		audit     api.AuditReader
	)
	if cfg.Database.Enabled {
		db, err = database.NewTimescaleDB(cfg)
		if err != nil {
			log.Fatalf("连接数据库失败: %v\n", err)
		}
		defer db.Close()
		recorders = append(recorders, db.PriceUpdate())
		audit = db.PriceUpdate()
		mon.RegisterComponent(monitor.ComponentDatabase)
	}

	var natsClient *messaging.NATSClient
	if cfg.NATS.Enabled {
		natsClient, err = messaging.NewNATSClient(cfg.NATS.URL)
		if err != nil {
			log.Printf("警告: 连接NATS失败, 不发布事件: %v", err)
			natsClient = nil
		} else {
			defer natsClient.Close()
			recorders = append(recorders, natsClient)
		}
	}

	var modelStore engine.ModelStore
	if cfg.Filter.ModelStore == config.ModelStoreDatabase {
		modelStore = db.Model()
	} else {
		modelStore = engine.NewFileModelStore(cfg.Filter.ModelPath)
	}

	filterOpts := engine.DefaultFilterOptions()
	filterOpts.MinDataPoints = cfg.Filter.MinDataPoints
	filterOpts.TrainingInterval = cfg.Filter.TrainingInterval
	filter := engine.NewQualityFilter(repository.NewRestrictionStore(), modelStore, filterOpts)
	if natsClient != nil {
		filter.OnBotsFlagged(natsClient.PublishBotFlags)
	}

	gateway := collector.NewBinanceGateway(collector.NewBinanceClient(
		cfg.Binance.APIKey,
		cfg.Binance.APISecret,
		cfg.Binance.BaseURL,
		cfg.Binance.Timeout,
	))

	ctrl := updater.NewController(gateway, engine.NewPriceSelector(filter), updater.Options{
		AdjustmentPercent:     cfg.Updater.AdjustmentPercent,
		FallbackMarginPercent: cfg.Updater.FallbackMarginPercent,
		ThresholdPercent:      cfg.Updater.ThresholdPercent,
		PricePrecision:        cfg.Updater.PricePrecision,
		PageSize:              cfg.Binance.PageSize,
		RequestTimeout:        cfg.Binance.Timeout,
		StopTimeout:           cfg.Updater.StopTimeout,
	}, mon, recorders...)

	sched := scheduler.NewScheduler(mon, filter)
	sched.AddProbe(monitor.ComponentGateway, func(ctx context.Context) error {
		_, err := gateway.FetchOwnNickname(ctx)
		return err
	})
	if db != nil {
		sched.AddProbe(monitor.ComponentDatabase, db.Ping)
		sched.SetPurger(db.PriceUpdate(), cfg.Database.RetentionDays)
	}
	if natsClient != nil {
		sched.AddProbe(monitor.ComponentMessaging, natsClient.Ping)
	}
	if err := sched.Start(); err != nil {
		log.Fatalf("启动调度器失败: %v\n", err)
	}
	defer sched.Stop()

	handlers := api.NewHandlers(api.HandlerDeps{
		Updater:         ctrl,
		Filter:          filter,
		Gateway:         gateway,
		Monitor:         mon,
		Audit:           audit,
		Leaderboard:     gateway,
		DefaultInterval: cfg.Updater.IntervalSeconds,
		RequestTimeout:  cfg.Binance.Timeout,
		PageSize:        cfg.Binance.PageSize,
	})
	server := api.NewServer(cfg.API.Port, cfg.API.ReadTimeout, cfg.API.WriteTimeout)
	server.SetupRoutes(handlers)
	server.Start()

	if cfg.Updater.Autostart {
		if err := ctrl.Start(cfg.Updater.IntervalSeconds); err != nil {
			log.Printf("自动启动调价器失败: %v", err)
		}
	}

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("正在关闭调价服务...")

	if ctrl.Status().Running {
		ctrl.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("服务器关闭失败: %v", err)
	}
}
