package collector

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"PriceKeeper/pkg/apperr"
	"PriceKeeper/pkg/metrics"
)

// BinanceClient 币安 C2C SAPI 签名客户端
type BinanceClient struct {
	APIKey    string
	APISecret string
	BaseURL   string
	Client    *http.Client

	now func() time.Time
}

// binanceResponse 通用响应信封
type binanceResponse struct {
	Code    interface{}     `json:"code"`
	Message string          `json:"message"`
	Msg     string          `json:"msg"`
	Data    json.RawMessage `json:"data"`
	Success *bool           `json:"success"`
}

// NewBinanceClient 创建新的币安客户端
func NewBinanceClient(apiKey, apiSecret, baseURL string, timeout time.Duration) *BinanceClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &BinanceClient{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
		Client: &http.Client{
			Timeout: timeout,
		},
		now: time.Now,
	}
}

// sign HMAC-SHA256 十六进制签名
func (c *BinanceClient) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.APISecret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

// Execute 执行签名请求
// params 进入查询串并参与签名，body 非空时以 JSON 发送
func (c *BinanceClient) Execute(ctx context.Context, method, endpoint string, params url.Values, body interface{}) (*binanceResponse, error) {
	start := time.Now()
	resp, err := c.execute(ctx, method, endpoint, params, body)
	result := "success"
	if err != nil {
		result = "failure"
	}
	metrics.GatewayRequestDuration.WithLabelValues(endpoint, result).Observe(time.Since(start).Seconds())
	return resp, err
}

func (c *BinanceClient) execute(ctx context.Context, method, endpoint string, params url.Values, body interface{}) (*binanceResponse, error) {
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	query := q.Encode()
	fullURL := fmt.Sprintf("%s%s?%s&signature=%s", c.BaseURL, endpoint, query, c.sign(query))

	var reader io.Reader
	if body != nil {
		reqBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("序列化请求失败: %w", err)
		}
		reader = bytes.NewReader(reqBody)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	httpReq.Header.Set("X-MBX-APIKEY", c.APIKey)
	httpReq.Header.Set("clientType", "web")
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(httpReq)
	if err != nil {
		return nil, apperr.Transport(endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Transport(endpoint, fmt.Errorf("读取响应体失败: %w", err))
	}

	var out binanceResponse
	decodeErr := json.Unmarshal(respBody, &out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := string(respBody)
		if decodeErr == nil && out.Msg != "" {
			detail = out.Msg
		} else if decodeErr == nil && out.Message != "" {
			detail = out.Message
		}
		return nil, apperr.Transport(endpoint, fmt.Errorf("API返回状态码 %d: %s", resp.StatusCode, detail))
	}
	if decodeErr != nil {
		return nil, apperr.Data("解析 %s 响应失败: %v", endpoint, decodeErr)
	}
	if out.Msg != "" {
		return nil, apperr.Transport(endpoint, fmt.Errorf("API返回错误: %s", out.Msg))
	}
	return &out, nil
}
