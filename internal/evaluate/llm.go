package evaluate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/joelkehle/gamerank/internal/logging"
)

const (
	DefaultModel = "claude-haiku-4-5"
	systemPrompt = "You are a game industry analyst scoring new releases and updates for a Japanese ranking digest. Score conservatively and do not invent facts. Return strict JSON only."
)

var statusCodeRe = regexp.MustCompile(`(?:status(?:\s+code)?[:=\s]+)(\d{3})`)

// failureClass labels a transport error for logging and retry decisions.
type failureClass string

const (
	failureTimeout   failureClass = "timeout"
	failureRateLimit failureClass = "rate_limited"
	failureServer    failureClass = "server"
	failureClient    failureClass = "client"
)

func (c failureClass) retryable() bool { return c != failureClient }

// LLMCaller is the scoring oracle.
type LLMCaller interface {
	GenerateJSON(ctx context.Context, prompt string) (string, error)
	ModelName() string
}

type AnthropicMessager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

type AnthropicCaller struct {
	messages AnthropicMessager
	model    string
}

type AnthropicClientCreator func(apiKey string) AnthropicMessager

func defaultAnthropicCreator(apiKey string) AnthropicMessager {
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &c.Messages
}

var newAnthropicClient AnthropicClientCreator = defaultAnthropicCreator

func NewAnthropicCaller(apiKey, model string) (*AnthropicCaller, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("anthropic api key not configured")
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}
	return &AnthropicCaller{messages: newAnthropicClient(apiKey), model: model}, nil
}

func (a *AnthropicCaller) ModelName() string { return a.model }

func (a *AnthropicCaller) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	resp, err := a.messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   1024,
		System:      []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
		Temperature: anthropic.Float(0.3),
	})
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String(), nil
}

// Executor sends a prompt and decodes the JSON answer, retrying transient
// transport failures and feeding parse or validation errors back to the
// model.
type Executor struct {
	caller      LLMCaller
	maxAttempts int
	log         *logging.Logger
	sleep       func(time.Duration)
}

func NewExecutor(caller LLMCaller, maxAttempts int, log *logging.Logger) *Executor {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Executor{caller: caller, maxAttempts: maxAttempts, log: logging.OrNop(log), sleep: time.Sleep}
}

func (e *Executor) ModelName() string {
	if e == nil || e.caller == nil {
		return DefaultModel
	}
	return e.caller.ModelName()
}

// Run returns the number of attempts used.
func (e *Executor) Run(ctx context.Context, task, prompt string, out any, validate func() error) (int, error) {
	feedback := ""
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		last := attempt == e.maxAttempts
		fullPrompt := prompt
		if feedback != "" {
			fullPrompt += "\n\n" + feedback
		}

		attemptStart := time.Now()
		raw, err := e.caller.GenerateJSON(ctx, fullPrompt)
		if err != nil {
			class := classifyTransportError(err)
			e.log.Warn("evaluate llm_transport_error", "task", task, "attempt", attempt, "class", string(class), "elapsed_ms", time.Since(attemptStart).Milliseconds(), "err", err)
			if class.retryable() && !last && ctx.Err() == nil {
				e.sleep(backoffDelay(attempt))
				continue
			}
			return attempt, fmt.Errorf("%s transport failure: %w", task, err)
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			e.log.Warn("evaluate llm_empty", "task", task, "attempt", attempt)
			if !last {
				feedback = "Your previous response was empty. Return valid JSON only."
				continue
			}
			return attempt, fmt.Errorf("%s failed: empty response", task)
		}

		clean := stripCodeFences(raw)
		resetTarget(out)
		if err := json.Unmarshal([]byte(clean), out); err != nil {
			e.log.Warn("evaluate llm_json_error", "task", task, "attempt", attempt, "err", err)
			if !last {
				feedback = "Your previous response was not valid JSON. Return valid JSON only."
				continue
			}
			return attempt, fmt.Errorf("%s failed json parse: %w", task, err)
		}
		if err := validate(); err != nil {
			e.log.Warn("evaluate llm_validation_error", "task", task, "attempt", attempt, "err", err)
			if !last {
				feedback = fmt.Sprintf("Your response failed validation: %s. Fix and return valid JSON only.", err)
				continue
			}
			return attempt, fmt.Errorf("%s failed validation: %w", task, err)
		}
		e.log.Debug("evaluate llm_success", "task", task, "attempt", attempt, "elapsed_ms", time.Since(attemptStart).Milliseconds())
		return attempt, nil
	}
	return e.maxAttempts, fmt.Errorf("%s failed after retries", task)
}

// resetTarget zeroes the decode target so a rejected answer cannot leak
// fields into the next attempt.
func resetTarget(out any) {
	if v := reflect.ValueOf(out); v.Kind() == reflect.Pointer && !v.IsNil() {
		v.Elem().SetZero()
	}
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		parts := strings.SplitN(s, "\n", 2)
		if len(parts) == 2 {
			s = parts[1]
		}
		s = strings.TrimPrefix(s, "json")
		s = strings.TrimSpace(strings.TrimSuffix(s, "```"))
	}
	return s
}

func classifyTransportError(err error) failureClass {
	if errors.Is(err, context.DeadlineExceeded) {
		return failureTimeout
	}
	if errors.Is(err, context.Canceled) {
		return failureClient
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return failureTimeout
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.StatusCode)
	}
	msg := strings.ToLower(err.Error())
	if m := statusCodeRe.FindStringSubmatch(msg); len(m) == 2 {
		code, _ := strconv.Atoi(m[1])
		return classifyStatus(code)
	}
	if strings.Contains(msg, "rate limit") || strings.Contains(msg, "overloaded") {
		return failureRateLimit
	}
	return failureServer
}

func classifyStatus(code int) failureClass {
	switch {
	case code == http.StatusTooManyRequests:
		return failureRateLimit
	case code == http.StatusRequestTimeout:
		return failureTimeout
	case code >= 400 && code < 500:
		return failureClient
	default:
		return failureServer
	}
}

// backoffDelay doubles from one second and caps at four.
func backoffDelay(attempt int) time.Duration {
	return time.Second << min(max(attempt-1, 0), 2)
}
