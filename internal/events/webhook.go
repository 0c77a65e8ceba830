package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"entity-api/internal/config"
)

// Webhook is one compiled outbound subscription.
type Webhook struct {
	URL       string
	Method    string
	Kinds     []string
	Entity    string
	Headers   map[string]string
	Timeout   time.Duration
	condition *vm.Program
}

// NewWebhook compiles the optional condition. It sees the event as `event`
// with fields kind, entity, actor_id, key and payload.
func NewWebhook(cfg config.WebhookConfig) (*Webhook, error) {
	wh := &Webhook{
		URL:     cfg.URL,
		Method:  strings.ToUpper(cfg.Method),
		Kinds:   cfg.Kinds,
		Entity:  cfg.Entity,
		Headers: cfg.Headers,
		Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
	}
	if wh.Method == "" {
		wh.Method = http.MethodPost
	}
	if wh.Timeout <= 0 {
		wh.Timeout = 10 * time.Second
	}
	if cfg.Condition != "" {
		prog, err := expr.Compile(cfg.Condition, expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("compile webhook condition: %w", err)
		}
		wh.condition = prog
	}
	return wh, nil
}

// Matches applies the kind, entity and condition filters.
func (wh *Webhook) Matches(e Event) (bool, error) {
	if len(wh.Kinds) > 0 && !containsFold(wh.Kinds, string(e.Kind)) {
		return false, nil
	}
	if wh.Entity != "" && wh.Entity != e.Entity {
		return false, nil
	}
	if wh.condition == nil {
		return true, nil
	}
	env := map[string]any{
		"event": map[string]any{
			"kind":     string(e.Kind),
			"entity":   e.Entity,
			"actor_id": e.ActorID,
			"key":      e.Key,
			"payload":  e.Payload,
		},
	}
	result, err := expr.Run(wh.condition, env)
	if err != nil {
		return false, fmt.Errorf("evaluate webhook condition: %w", err)
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("webhook condition did not return bool")
	}
	return b, nil
}

// WebhookSink posts matching events to their endpoints in the background.
type WebhookSink struct {
	hooks  []*Webhook
	client *http.Client
	logger *slog.Logger
	wg     sync.WaitGroup
}

func NewWebhookSink(cfgs []config.WebhookConfig, logger *slog.Logger) (*WebhookSink, error) {
	s := &WebhookSink{client: &http.Client{}, logger: logger}
	for _, c := range cfgs {
		wh, err := NewWebhook(c)
		if err != nil {
			return nil, fmt.Errorf("webhook %s: %w", c.URL, err)
		}
		s.hooks = append(s.hooks, wh)
	}
	return s, nil
}

func (s *WebhookSink) Emit(ctx context.Context, e Event) {
	if len(s.hooks) == 0 {
		return
	}
	body, err := json.Marshal(e)
	if err != nil {
		s.logger.ErrorContext(ctx, "marshal webhook event", "kind", string(e.Kind), "error", err)
		return
	}
	for _, wh := range s.hooks {
		fire, err := wh.Matches(e)
		if err != nil {
			s.logger.ErrorContext(ctx, "webhook condition", "url", wh.URL, "error", err)
			continue
		}
		if !fire {
			continue
		}
		s.wg.Add(1)
		go func(wh *Webhook) {
			defer s.wg.Done()
			s.deliver(wh, e, body)
		}(wh)
	}
}

// Wait blocks until in-flight deliveries finish.
func (s *WebhookSink) Wait() {
	s.wg.Wait()
}

func (s *WebhookSink) deliver(wh *Webhook, e Event, body []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), wh.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, wh.Method, wh.URL, bytes.NewReader(body))
	if err != nil {
		s.logger.Error("build webhook request", "url", wh.URL, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range ResolveHeaders(wh.Headers) {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Error("webhook delivery", "url", wh.URL, "event", e.ID, "error", err)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.logger.Warn("webhook rejected", "url", wh.URL, "event", e.ID, "status", resp.StatusCode)
		return
	}
	s.logger.Debug("webhook delivered", "url", wh.URL, "event", e.ID, "status", resp.StatusCode)
}

// ResolveHeaders replaces {{env.VAR_NAME}} in header values with os env values.
func ResolveHeaders(headers map[string]string) map[string]string {
	resolved := make(map[string]string, len(headers))
	for k, v := range headers {
		resolved[k] = resolveEnvVars(v)
	}
	return resolved
}

func resolveEnvVars(s string) string {
	for {
		start := strings.Index(s, "{{env.")
		if start == -1 {
			return s
		}
		end := strings.Index(s[start:], "}}")
		if end == -1 {
			return s
		}
		end += start
		s = s[:start] + os.Getenv(s[start+6:end]) + s[end+2:]
	}
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
