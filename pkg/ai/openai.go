package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	aiDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "classmark",
		Subsystem: "ai",
		Name:      "grading_duration_seconds",
		Help:      "Duration of AI grading requests",
	}, []string{"model"})

	aiFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "classmark",
		Subsystem: "ai",
		Name:      "grading_failures_total",
		Help:      "Number of AI grading failures",
	}, []string{"model"})
)

// OpenAIConfig defines configuration options for the OpenAI grader.
type OpenAIConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
	Logger      zerolog.Logger
}

// OpenAIGrader implements Grader against the OpenAI chat completion API.
type OpenAIGrader struct {
	client  *openai.Client
	cfg     OpenAIConfig
	tracer  trace.Tracer
	logger  zerolog.Logger
	timeout time.Duration
}

// NewOpenAIGrader builds a new grader using the provided configuration.
func NewOpenAIGrader(cfg OpenAIConfig) (*OpenAIGrader, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}

	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}

	tracer := otel.Tracer("github.com/classmark/classmark-api/pkg/ai/openai")
	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	config := openai.DefaultConfig(cfg.APIKey)
	client := openai.NewClientWithConfig(config)

	return &OpenAIGrader{
		client:  client,
		cfg:     cfg,
		tracer:  tracer,
		logger:  logger,
		timeout: cfg.Timeout,
	}, nil
}

// Grade sends one submission's answers to OpenAI and parses the per-question awards.
func (g *OpenAIGrader) Grade(parent context.Context, items []GradeItem) (GradeResult, error) {
	ctx, span := g.tracer.Start(parent, "openai.grade", trace.WithAttributes(
		attribute.String("model", g.cfg.Model),
		attribute.Int("questions", len(items)),
	))
	defer span.End()

	if len(items) == 0 {
		return GradeResult{}, fmt.Errorf("nothing to grade")
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	request := openai.ChatCompletionRequest{
		Model:       g.cfg.Model,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: graderSystemPrompt(),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildGradingPrompt(items),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}

	resp, err := g.client.CreateChatCompletion(ctx, request)
	duration := time.Since(start)
	aiDuration.WithLabelValues(g.cfg.Model).Observe(duration.Seconds())
	if err != nil {
		aiFailures.WithLabelValues(g.cfg.Model).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return GradeResult{}, fmt.Errorf("openai grade: %w", err)
	}

	if len(resp.Choices) == 0 {
		err := fmt.Errorf("no choices returned from openai")
		aiFailures.WithLabelValues(g.cfg.Model).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return GradeResult{}, err
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	result, err := parseGradeResponse(content, items)
	if err != nil {
		aiFailures.WithLabelValues(g.cfg.Model).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return GradeResult{}, err
	}

	return result, nil
}

func graderSystemPrompt() string {
	return "You are an exam grader. For every question you receive, award marks between 0 and the stated maximum, giving part" +
		"ial credit per the grading guidelines when present. Respond with a JSON object of the form {\"answers\": [{\"question_id" +
		"\": <id>, \"marks\": <number>, \"feedback\": <string>}]} covering every question."
}

func buildGradingPrompt(items []GradeItem) string {
	builder := strings.Builder{}
	for i, item := range items {
		if i > 0 {
			builder.WriteString("\n\n")
		}
		builder.WriteString("# Question ")
		builder.WriteString(strconv.FormatUint(uint64(item.QuestionID), 10))
		builder.WriteString(" (max ")
		builder.WriteString(strconv.Itoa(item.Marks))
		builder.WriteString(" marks)\n")
		builder.WriteString(item.Question)
		builder.WriteString("\n\n## Reference Answer\n")
		builder.WriteString(item.ReferenceAnswer)
		if item.Guidelines != "" {
			builder.WriteString("\n\n## Grading Guidelines\n")
			builder.WriteString(item.Guidelines)
		}
		builder.WriteString("\n\n## Student Answer\n")
		builder.WriteString(item.StudentAnswer)
	}
	builder.WriteString("\n\nReturn JSON.")
	return builder.String()
}

// parseGradeResponse decodes the model output and clamps each award into the
// question's valid range. Awards for unknown question ids are dropped.
func parseGradeResponse(content string, items []GradeItem) (GradeResult, error) {
	type payload struct {
		Answers []Award `json:"answers"`
	}

	var data payload
	if err := json.Unmarshal([]byte(content), &data); err != nil {
		return GradeResult{}, fmt.Errorf("parse grading json: %w", err)
	}

	maxByQuestion := make(map[uint]float64, len(items))
	for _, item := range items {
		maxByQuestion[item.QuestionID] = float64(item.Marks)
	}

	awards := make([]Award, 0, len(data.Answers))
	for _, award := range data.Answers {
		max, ok := maxByQuestion[award.QuestionID]
		if !ok {
			continue
		}
		if award.Marks < 0 {
			award.Marks = 0
		}
		if award.Marks > max {
			award.Marks = max
		}
		awards = append(awards, award)
	}

	return GradeResult{
		Awards: awards,
		Raw:    json.RawMessage(content),
	}, nil
}
