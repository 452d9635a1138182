package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// NotificationService 告警 webhook 通知
type NotificationService struct {
	webhookURL string
	client     *http.Client
}

// NewNotificationService 创建通知服务
func NewNotificationService(webhookURL string) *NotificationService {
	return &NotificationService{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 5 * time.Second},
	}
}

// formatAlertMessage 格式化告警消息
func formatAlertMessage(component, status, message string, at time.Time) string {
	return fmt.Sprintf(`🚨 PriceKeeper 组件告警

🔧 组件：%s
⚡ 状态：%s
📝 详情：%s

⏰ 时间：%s`, component, status, message, at.Format("2006-01-02 15:04:05"))
}

// SendAlert 发送告警
func (ns *NotificationService) SendAlert(ctx context.Context, component, status, message string) error {
	payload, err := json.Marshal(map[string]string{
		"text":      formatAlertMessage(component, status, message, time.Now()),
		"component": component,
		"status":    status,
	})
	if err != nil {
		return fmt.Errorf("序列化告警失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ns.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("创建告警请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := ns.client.Do(req)
	if err != nil {
		return fmt.Errorf("发送告警失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("告警 webhook 返回状态码 %d", resp.StatusCode)
	}
	return nil
}

// AlertFunc 先写日志再异步推送，可直接传给 NewMonitor
func (ns *NotificationService) AlertFunc() func(component, status, message string) {
	return func(component, status, message string) {
		LogAlert(component, status, message)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := ns.SendAlert(ctx, component, status, message); err != nil {
				log.Printf("警告: %v", err)
			}
		}()
	}
}
