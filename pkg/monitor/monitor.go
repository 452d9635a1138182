package monitor

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

// 组件状态
const (
	StatusUnknown   = "unknown"
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// 组件名称
const (
	ComponentGateway   = "gateway"
	ComponentUpdater   = "updater"
	ComponentDatabase  = "database"
	ComponentMessaging = "messaging"
	ComponentModel     = "model"
)

// HealthStatus 健康状态
type HealthStatus struct {
	Component   string    `json:"component"`
	Status      string    `json:"status"`
	LastChecked time.Time `json:"last_checked"`
	Message     string    `json:"message,omitempty"`
}

// Monitor 组件健康登记表
type Monitor struct {
	components map[string]*HealthStatus
	mutex      sync.RWMutex
	alertFunc  func(component, status, message string)
}

// NewMonitor 创建新的监控系统
func NewMonitor(alertFunc func(component, status, message string)) *Monitor {
	return &Monitor{
		components: make(map[string]*HealthStatus),
		alertFunc:  alertFunc,
	}
}

// LogAlert 默认告警：写日志
func LogAlert(component, status, message string) {
	log.Printf("警告: 组件 %s 状态变为 %s: %s", component, status, message)
}

// RegisterComponent 注册组件
func (m *Monitor) RegisterComponent(component string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.components[component]; exists {
		return
	}
	m.components[component] = &HealthStatus{
		Component:   component,
		Status:      StatusUnknown,
		LastChecked: time.Now(),
	}
}

// UpdateStatus 更新组件状态，变为非健康时触发告警
func (m *Monitor) UpdateStatus(component, status, message string) {
	m.mutex.Lock()
	s, exists := m.components[component]
	if !exists {
		s = &HealthStatus{Component: component}
		m.components[component] = s
	}
	oldStatus := s.Status
	s.Status = status
	s.LastChecked = time.Now()
	s.Message = message
	alert := m.alertFunc
	m.mutex.Unlock()

	if oldStatus != status && status != StatusHealthy && alert != nil {
		alert(component, status, message)
	}
}

// GetStatus 获取组件状态副本
func (m *Monitor) GetStatus(component string) *HealthStatus {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if status, exists := m.components[component]; exists {
		cp := *status
		return &cp
	}
	return nil
}

// GetAllStatus 获取所有组件状态，按名称排序
func (m *Monitor) GetAllStatus() []HealthStatus {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	statuses := make([]HealthStatus, 0, len(m.components))
	for _, status := range m.components {
		statuses = append(statuses, *status)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Component < statuses[j].Component })
	return statuses
}

// Overall 任一组件不健康即为不健康，任一降级即为降级
func (m *Monitor) Overall() string {
	overall := StatusHealthy
	for _, s := range m.GetAllStatus() {
		switch s.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			overall = StatusDegraded
		}
	}
	return overall
}

// Check 执行一次探测并记录结果
func (m *Monitor) Check(ctx context.Context, component string, timeout time.Duration, probe func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := probe(ctx); err != nil {
		m.UpdateStatus(component, StatusUnhealthy, fmt.Sprintf("探测失败: %v", err))
		return
	}
	m.UpdateStatus(component, StatusHealthy, "")
}
