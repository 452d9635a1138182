package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"PriceKeeper/pkg/collector"
	"PriceKeeper/pkg/config"
	"PriceKeeper/pkg/engine"
	"PriceKeeper/pkg/repository"
	"PriceKeeper/pkg/updater"

	"github.com/joho/godotenv"
)

// readOnlyModelStore 加载已有模型，新训练的模型不落盘
type readOnlyModelStore struct {
	engine.ModelStore
}

func (readOnlyModelStore) SaveModel([]byte) error {
	log.Println("[模拟] 跳过保存模型")
	return nil
}

func main() {
	var (
		configPath = flag.String("config", config.GetDefaultConfigPath(), "配置文件路径")
		timeout    = flag.Duration("timeout", time.Minute, "整个周期的超时时间")
	)
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("未找到 .env 文件, 使用系统环境变量")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v\n", err)
	}

	live := collector.NewBinanceGateway(collector.NewBinanceClient(
		cfg.Binance.APIKey,
		cfg.Binance.APISecret,
		cfg.Binance.BaseURL,
		cfg.Binance.Timeout,
	))
	gateway := collector.NewDryRunGateway(live)

	filterOpts := engine.DefaultFilterOptions()
	filterOpts.MinDataPoints = cfg.Filter.MinDataPoints
	filterOpts.TrainingInterval = cfg.Filter.TrainingInterval
	filter := engine.NewQualityFilter(
		repository.NewRestrictionStore(),
		readOnlyModelStore{engine.NewFileModelStore(cfg.Filter.ModelPath)},
		filterOpts,
	)

	ctrl := updater.NewController(gateway, engine.NewPriceSelector(filter), updater.Options{
		AdjustmentPercent:     cfg.Updater.AdjustmentPercent,
		FallbackMarginPercent: cfg.Updater.FallbackMarginPercent,
		ThresholdPercent:      cfg.Updater.ThresholdPercent,
		PricePrecision:        cfg.Updater.PricePrecision,
		PageSize:              cfg.Binance.PageSize,
		RequestTimeout:        cfg.Binance.Timeout,
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := ctrl.RunOnce(ctx); err != nil {
		log.Fatalf("模拟调价失败: %v\n", err)
	}

	planned := gateway.Planned()
	if len(planned) == 0 {
		fmt.Println("没有需要调整的广告")
		return
	}
	fmt.Printf("计划调整 %d 个广告:\n", len(planned))
	for _, p := range planned {
		fmt.Printf("  %s -> %s\n", p.ListingID, p.Price.String())
	}
}
