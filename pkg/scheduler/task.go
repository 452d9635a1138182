package scheduler

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"PriceKeeper/pkg/engine"
	"PriceKeeper/pkg/monitor"

	"github.com/robfig/cron/v3"
)

const probeTimeout = 10 * time.Second

// Purger 审计记录清理
type Purger interface {
	DeleteOldData(ctx context.Context, days int) (int64, error)
}

// Probe 组件探测函数
type Probe func(ctx context.Context) error

// Scheduler 维护任务调度器
type Scheduler struct {
	cron          *cron.Cron
	monitor       *monitor.Monitor
	filter        *engine.QualityFilter
	probes        map[string]Probe
	purger        Purger
	retentionDays int
}

// NewScheduler 创建任务调度器
func NewScheduler(mon *monitor.Monitor, filter *engine.QualityFilter) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		monitor: mon,
		filter:  filter,
		probes:  make(map[string]Probe),
	}
}

// AddProbe 注册组件健康探测
func (s *Scheduler) AddProbe(component string, probe Probe) {
	s.monitor.RegisterComponent(component)
	s.probes[component] = probe
}

// SetPurger 启用审计记录清理
func (s *Scheduler) SetPurger(p Purger, retentionDays int) {
	s.purger = p
	s.retentionDays = retentionDays
}

// Start 启动调度器
func (s *Scheduler) Start() error {
	// 每5分钟检查组件健康状态
	if _, err := s.cron.AddFunc("@every 5m", s.RunHealthCheck); err != nil {
		return fmt.Errorf("注册健康检查任务失败: %w", err)
	}
	// 每小时报告模型状态
	if _, err := s.cron.AddFunc("@every 1h", s.ReportModel); err != nil {
		return fmt.Errorf("注册模型报告任务失败: %w", err)
	}
	if s.purger != nil && s.retentionDays > 0 {
		if _, err := s.cron.AddFunc("@daily", s.PurgeAudit); err != nil {
			return fmt.Errorf("注册清理任务失败: %w", err)
		}
	}
	s.cron.Start()
	log.Printf("调度器已启动, 共 %d 个任务", len(s.cron.Entries()))
	return nil
}

// Stop 停止调度器，等待运行中的任务结束
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RunHealthCheck 探测所有已注册组件
func (s *Scheduler) RunHealthCheck() {
	log.Println("检查组件健康状态...")
	names := make([]string, 0, len(s.probes))
	for name := range s.probes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s.monitor.Check(context.Background(), name, probeTimeout, s.probes[name])
	}
}

// PurgeAudit 删除过期的调价记录
func (s *Scheduler) PurgeAudit() {
	if s.purger == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := s.purger.DeleteOldData(ctx, s.retentionDays)
	if err != nil {
		log.Printf("清理调价记录失败: %v", err)
		return
	}
	log.Printf("已清理 %d 条 %d 天前的调价记录", n, s.retentionDays)
}

// ReportModel 记录模型状态
func (s *Scheduler) ReportModel() {
	info := s.filter.ModelInfo()
	if !info.Trained {
		s.monitor.UpdateStatus(monitor.ComponentModel, monitor.StatusDegraded,
			fmt.Sprintf("模型未训练, 已积累 %d 条报价", info.HistorySize))
		log.Printf("异常检测模型未训练, 历史报价 %d 条", info.HistorySize)
		return
	}
	s.monitor.UpdateStatus(monitor.ComponentModel, monitor.StatusHealthy, "")
	log.Printf("异常检测模型: 训练于 %s, 样本 %d, 历史报价 %d, 疑似机器人 %d",
		info.TrainedAt.Format(time.RFC3339), info.Samples, info.HistorySize, len(s.filter.SuspectedBots()))
}
