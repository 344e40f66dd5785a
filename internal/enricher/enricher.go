package enricher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"moby-monitor/internal/config"
	"moby-monitor/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ErrDisabled LLM 凭据未配置，增强功能关闭
var ErrDisabled = errors.New("enrichment disabled: LLM credentials not set")

const systemPrompt = "You are an industrial IoT equipment monitoring expert."

// chatMessage OpenAI 风格的对话消息
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Enricher 报警分析增强器：调用 LLM 生成情况摘要与处置建议
// 永远不在通知关键路径上，失败/超时只导致事件缺少 analysis
type Enricher struct {
	config     *config.Config
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewEnricher 创建增强器
func NewEnricher(cfg *config.Config, logger *zap.Logger) *Enricher {
	client := resty.New().
		SetTimeout(cfg.LLM.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.LLM.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.LLM.APIKey)
	}

	return &Enricher{
		config:     cfg,
		httpClient: client,
		logger:     logger,
	}
}

// Enabled 端点和 Key 都配置时才启用
func (e *Enricher) Enabled() bool {
	return e.config.LLM.APIURL != "" && e.config.LLM.APIKey != ""
}

// Enrich 为报警事件生成分析文本
// recent 为近期读数上下文（可为空）；硬超时由 httpClient 与 ctx 共同约束
func (e *Enricher) Enrich(ctx context.Context, event *models.AlertEvent, recent []models.Reading) (string, error) {
	if !e.Enabled() {
		return "", ErrDisabled
	}

	request := chatRequest{
		Model: e.config.LLM.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildPrompt(event, recent)},
		},
		Temperature: 0.3,
		MaxTokens:   200,
	}

	var response chatResponse
	resp, err := e.httpClient.R().
		SetContext(ctx).
		SetBody(request).
		SetResult(&response).
		Post(e.config.LLM.APIURL)

	if err != nil {
		return "", fmt.Errorf("failed to call LLM API: %w", err)
	}
	if resp.StatusCode() != 200 {
		return "", fmt.Errorf("LLM API error: status %d", resp.StatusCode())
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("LLM API returned no choices")
	}

	analysis := strings.TrimSpace(response.Choices[0].Message.Content)
	e.logger.Info("Alert analysis generated",
		zap.String("event_id", event.EventID),
		zap.Int("analysis_len", len(analysis)),
	)
	return analysis, nil
}

func buildPrompt(event *models.AlertEvent, recent []models.Reading) string {
	var b strings.Builder
	b.WriteString("Analyze the following IoT sensor alert and summarize it concisely:\n\n")
	b.WriteString(fmt.Sprintf("- Sensor: %s\n", event.SensorType))
	b.WriteString(fmt.Sprintf("- Severity: %s\n", event.Severity.String()))
	b.WriteString(fmt.Sprintf("- Metric: %s\n", event.Metric))
	b.WriteString(fmt.Sprintf("- Current value: %.2f\n", event.Value))
	b.WriteString(fmt.Sprintf("- Threshold: %.2f\n", event.Threshold))
	b.WriteString(fmt.Sprintf("- Triggered at: %s\n", event.TriggeredAt.Format(time.RFC3339)))

	if stats, ok := summarize(recent, event.Metric); ok {
		b.WriteString(fmt.Sprintf("\nRecent %s readings (%d samples): min=%.2f max=%.2f mean=%.2f\n",
			event.Metric, stats.count, stats.min, stats.max, stats.mean))
	}

	b.WriteString("\nDescribe the situation and recommend actions in 1-2 sentences.")
	return b.String()
}

type metricStats struct {
	count    int
	min, max float64
	mean     float64
}

func summarize(readings []models.Reading, metric string) (metricStats, bool) {
	var stats metricStats
	var sum float64
	for _, r := range readings {
		v, ok := r.Field(metric)
		if !ok {
			continue
		}
		if stats.count == 0 || v < stats.min {
			stats.min = v
		}
		if stats.count == 0 || v > stats.max {
			stats.max = v
		}
		sum += v
		stats.count++
	}
	if stats.count == 0 {
		return stats, false
	}
	stats.mean = sum / float64(stats.count)
	return stats, true
}
