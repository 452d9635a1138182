package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"PriceKeeper/pkg/model"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// 主题与流
const (
	StreamPriceUpdates   = "PRICE_UPDATES"
	SubjectPriceUpdates  = "price_updates"
	SubjectBotFlagged    = "restrictions.bot_flagged"
	defaultPublishWindow = 5 * time.Second
)

// publisher JetStream 发布能力
type publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// NATSClient NATS JetStream 事件发布
type NATSClient struct {
	conn      *nats.Conn
	jetStream publisher
	natsURL   string
}

// NewNATSClient 创建新的NATS客户端
func NewNATSClient(natsURL string) (*NATSClient, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("pricekeeper"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1), // 无限重连
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Printf("NATS连接断开: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Println("NATS重新连接成功")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("连接NATS失败: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("创建JetStream失败: %w", err)
	}

	if err := setupStreams(js); err != nil {
		log.Printf("警告: 设置Streams失败: %v", err)
	}

	return &NATSClient{conn: nc, jetStream: js, natsURL: natsURL}, nil
}

func setupStreams(js jetstream.JetStream) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := jetstream.StreamConfig{
		Name:        StreamPriceUpdates,
		Subjects:    []string{SubjectPriceUpdates + ".*", "restrictions.*"},
		Description: "调价与疑似机器人事件",
		Retention:   jetstream.LimitsPolicy,
		MaxMsgs:     100000,
		MaxBytes:    100 * 1024 * 1024, // 100MB
		MaxAge:      7 * 24 * time.Hour,
	}
	if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
		return fmt.Errorf("创建/更新Stream %s 失败: %w", cfg.Name, err)
	}
	log.Printf("Stream %s 设置成功", cfg.Name)
	return nil
}

// PriceUpdateSubject 按资产划分的调价主题
func PriceUpdateSubject(asset string) string {
	asset = strings.ToLower(strings.TrimSpace(asset))
	if asset == "" {
		asset = "unknown"
	}
	return SubjectPriceUpdates + "." + asset
}

// Publish 发布消息到指定主题
func (c *NATSClient) Publish(ctx context.Context, subject string, data interface{}) error {
	var payload []byte
	var err error

	switch v := data.(type) {
	case []byte:
		payload = v
	case string:
		payload = []byte(v)
	default:
		payload, err = json.Marshal(data)
		if err != nil {
			return fmt.Errorf("序列化数据失败: %w", err)
		}
	}

	if _, err = c.jetStream.Publish(ctx, subject, payload); err != nil {
		return fmt.Errorf("发布消息到 %s 失败: %w", subject, err)
	}
	log.Printf("发布消息到主题: %s, 数据大小: %d bytes", subject, len(payload))
	return nil
}

// RecordPriceUpdate 作为调价控制器的记录器
func (c *NATSClient) RecordPriceUpdate(ctx context.Context, event model.PriceUpdateEvent) error {
	return c.Publish(ctx, PriceUpdateSubject(event.Asset), event)
}

// PublishBotFlags 发布新标记的疑似机器人
func (c *NATSClient) PublishBotFlags(ids []string) {
	if len(ids) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultPublishWindow)
	defer cancel()

	event := model.BotFlagEvent{AdvertiserIDs: ids, FlaggedAt: time.Now().UTC()}
	if err := c.Publish(ctx, SubjectBotFlagged, event); err != nil {
		log.Printf("警告: %v", err)
	}
}

// Close 关闭连接
func (c *NATSClient) Close() error {
	log.Println("正在关闭NATS连接...")
	if c.conn != nil {
		if err := c.conn.Drain(); err != nil {
			c.conn.Close()
		}
	}
	log.Println("NATS连接已关闭")
	return nil
}

// IsConnected 检查连接状态
func (c *NATSClient) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Ping 健康检查
func (c *NATSClient) Ping(ctx context.Context) error {
	if !c.IsConnected() {
		return fmt.Errorf("NATS未连接: %s", c.natsURL)
	}
	return c.conn.FlushWithContext(ctx)
}
