package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"rail-gateway/models"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "rail-gateway/core"

const (
	// HeaderAPIHost 上游要求的 host 标识头
	HeaderAPIHost = "x-rapidapi-host"
	// HeaderAPIKey 上游鉴权头
	HeaderAPIKey = "x-rapidapi-key"

	maxBodyBytes = 10 << 20
)

// 单次尝试的结果分类
const (
	ResultSuccess        = "success"
	ResultTransportError = "transport_error"
	ResultHTTPStatus     = "http_status"
	ResultInvalidJSON    = "invalid_json"
	ResultQuotaExceeded  = "quota_exceeded"
)

// Outcome 对调用方暴露的统一结果，不携带任何错误细节
type Outcome struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

// attemptResult 单次尝试的内部结果
type attemptResult struct {
	result     string
	statusCode int
	data       any
	err        error
}

// RotatingClient 带 Key 轮换重试的上游客户端
type RotatingClient struct {
	rotator  *KeyRotator
	client   HTTPDoer
	detector QuotaDetector
	logger   *logrus.Logger
	metrics  *Metrics
	recorder AttemptRecorder
	tracer   trace.Tracer
}

// Option RotatingClient 的可选配置
type Option func(*RotatingClient)

// WithHTTPClient 替换 HTTP 发送实现
func WithHTTPClient(doer HTTPDoer) Option {
	return func(c *RotatingClient) {
		c.client = doer
	}
}

// WithQuotaDetector 替换配额耗尽判定策略
func WithQuotaDetector(d QuotaDetector) Option {
	return func(c *RotatingClient) {
		c.detector = d
	}
}

func WithLogger(logger *logrus.Logger) Option {
	return func(c *RotatingClient) {
		c.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(c *RotatingClient) {
		c.metrics = m
	}
}

// WithRecorder 每次尝试都会交给 recorder 记录
func WithRecorder(r AttemptRecorder) Option {
	return func(c *RotatingClient) {
		c.recorder = r
	}
}

// WithTracerProvider 默认使用全局 TracerProvider
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *RotatingClient) {
		c.tracer = tp.Tracer(tracerName)
	}
}

// NewRotatingClient 创建客户端，rotator 由调用方持有并可在多个客户端间共享
func NewRotatingClient(rotator *KeyRotator, opts ...Option) *RotatingClient {
	c := &RotatingClient{
		rotator:  rotator,
		client:   NewHTTPClient(DefaultRequestTimeout),
		detector: NewMessageContainsDetector(DefaultQuotaSubstring),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.SetOutput(io.Discard)
	}
	if c.rotator == nil {
		c.rotator = NewKeyRotator(nil)
	}
	if c.tracer == nil {
		c.tracer = otel.GetTracerProvider().Tracer(tracerName)
	}
	return c
}

// Fetch 以 GET 请求 rawURL，失败时轮换 Key 重试，每个 Key 至多一次
//
// 传输错误、非 2xx、非法 JSON、配额耗尽都算作失败的尝试：游标推进一格后继续。
// 所有错误都在内部吸收，调用方只拿到 Outcome。
func (c *RotatingClient) Fetch(ctx context.Context, rawURL string) Outcome {
	ctx, span := c.tracer.Start(ctx, "rail.fetch")
	defer span.End()

	maxAttempts := c.rotator.Size()
	span.SetAttributes(attribute.Int("rail.key_pool_size", maxAttempts))
	if maxAttempts == 0 {
		c.logger.Error("No API keys configured, request not sent")
		c.metrics.recordFetch(false)
		span.SetStatus(codes.Error, "no api keys")
		return Outcome{}
	}

	target, err := url.Parse(rawURL)
	if err != nil || target.Host == "" {
		c.logger.Errorf("Invalid upstream URL %q: %v", rawURL, err)
		c.metrics.recordFetch(false)
		span.SetStatus(codes.Error, "invalid url")
		return Outcome{}
	}
	span.SetAttributes(attribute.String("rail.upstream_host", target.Host), attribute.String("rail.upstream_path", target.Path))

	requestID := RequestIDFromContext(ctx)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		keyIndex, key, _ := c.rotator.Current()
		prefix := KeyPrefix(key)

		start := time.Now()
		res := c.attempt(ctx, rawURL, target.Host, key)
		elapsed := time.Since(start)

		c.metrics.recordAttempt(res.result, elapsed)
		c.record(&models.AttemptLog{
			CreatedAt:  start,
			RequestID:  requestID,
			KeyPrefix:  prefix,
			KeyIndex:   keyIndex,
			Attempt:    attempt + 1,
			Host:       target.Host,
			Path:       target.Path,
			StatusCode: res.statusCode,
			Result:     res.result,
			Duration:   elapsed.Milliseconds(),
			ErrorMsg:   errString(res.err),
		})

		span.AddEvent("attempt", trace.WithAttributes(
			attribute.String("rail.key_prefix", prefix),
			attribute.Int("rail.attempt", attempt+1),
			attribute.String("rail.result", res.result),
			attribute.Int("http.status_code", res.statusCode),
		))

		if res.result == ResultSuccess {
			c.logger.WithFields(logrus.Fields{
				"request_id": requestID,
				"key":        prefix,
				"attempt":    attempt + 1,
				"latency":    elapsed,
			}).Debugf("Upstream %s succeeded", target.Host)
			c.metrics.recordFetch(true)
			span.SetAttributes(attribute.Int("rail.attempts", attempt+1))
			return Outcome{Success: true, Data: res.data}
		}

		switch res.result {
		case ResultQuotaExceeded:
			c.logger.Warnf("API key %s quota exceeded. Trying next key.", prefix)
		case ResultHTTPStatus:
			c.logger.Errorf("API request failed with status %d for key %s", res.statusCode, prefix)
		case ResultInvalidJSON:
			c.logger.Errorf("Invalid JSON body from %s for key %s: %v", target.Host, prefix, res.err)
		default:
			c.logger.Errorf("Fetch failed with key %s: %v", prefix, res.err)
		}

		next := c.rotator.Advance()
		c.metrics.recordRotation()
		c.logger.Debugf("🔄 Attempt %d/%d failed (%s), rotated key cursor to %d", attempt+1, maxAttempts, res.result, next)
	}

	c.logger.Errorf("All %d API keys failed or have exceeded their quotas", maxAttempts)
	c.metrics.recordFetch(false)
	span.SetAttributes(attribute.Int("rail.attempts", maxAttempts))
	span.SetStatus(codes.Error, "all api keys failed")
	return Outcome{}
}

// attempt 用单个 Key 发送一次请求并分类结果
func (c *RotatingClient) attempt(ctx context.Context, rawURL, host, key string) attemptResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return attemptResult{result: ResultTransportError, err: err}
	}
	req.Header.Set(HeaderAPIHost, host)
	req.Header.Set(HeaderAPIKey, key)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return attemptResult{result: ResultTransportError, err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// 读完 body 以便复用连接
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return attemptResult{
			result:     ResultHTTPStatus,
			statusCode: resp.StatusCode,
			err:        fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return attemptResult{result: ResultTransportError, statusCode: resp.StatusCode, err: err}
	}

	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return attemptResult{result: ResultInvalidJSON, statusCode: resp.StatusCode, err: err}
	}

	if c.detector != nil && c.detector.Exceeded(data) {
		return attemptResult{result: ResultQuotaExceeded, statusCode: resp.StatusCode}
	}

	return attemptResult{result: ResultSuccess, statusCode: resp.StatusCode, data: data}
}

func (c *RotatingClient) record(log *models.AttemptLog) {
	if c.recorder == nil {
		return
	}
	c.recorder.Record(log)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
