package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/samcharles93/nhrun/internal/config"
	"github.com/samcharles93/nhrun/internal/logger"
	"github.com/samcharles93/nhrun/internal/runmode"
)

// HTTP dispatches runs to a remote engine service.
//
//	POST {BaseURL}/v1/train     {"dispatch_id", "config"}
//	POST {BaseURL}/v1/evaluate  {"dispatch_id", "config", "run_dir", "period", "epoch"}
//
// The call returns once the service has accepted or finished the run; a
// non-2xx status is an error.
type HTTP struct {
	BaseURL string
	Client  *http.Client
	// Timeout bounds each call when Client is nil. Zero waits for the
	// engine as long as it takes.
	Timeout time.Duration
	Log     logger.Logger
}

type TrainRequest struct {
	DispatchID string         `json:"dispatch_id"`
	Config     map[string]any `json:"config"`
}

type EvaluateRequest struct {
	DispatchID string         `json:"dispatch_id"`
	Config     map[string]any `json:"config"`
	RunDir     string         `json:"run_dir"`
	Period     string         `json:"period"`
	Epoch      *int           `json:"epoch,omitempty"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (h HTTP) StartTraining(ctx context.Context, cfg config.RunConfig) error {
	req := TrainRequest{DispatchID: newDispatchID(), Config: cfg.Map()}
	return h.post(ctx, "/v1/train", req.DispatchID, req)
}

func (h HTTP) StartEvaluation(ctx context.Context, cfg config.RunConfig, runDir string, epoch *int, period runmode.Period) error {
	req := EvaluateRequest{
		DispatchID: newDispatchID(),
		Config:     cfg.Map(),
		RunDir:     runDir,
		Period:     string(period),
		Epoch:      epoch,
	}
	return h.post(ctx, "/v1/evaluate", req.DispatchID, req)
}

func (h HTTP) post(ctx context.Context, path, id string, body any) error {
	if strings.TrimSpace(h.BaseURL) == "" {
		return fmt.Errorf("engine: no engine url configured")
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("engine: encode request: %w", err)
	}

	url := strings.TrimRight(h.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("engine: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", id)

	log := h.logger(ctx).With("dispatch_id", id)
	log.Debug("posting run to engine", "url", url)

	resp, err := h.client().Do(req)
	if err != nil {
		return fmt.Errorf("engine: post %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("engine: read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("engine: %s returned %d: %s", url, resp.StatusCode, errorMessage(data))
	}
	log.Debug("engine accepted run", "status", resp.StatusCode)
	return nil
}

func (h HTTP) client() *http.Client {
	if h.Client != nil {
		return h.Client
	}
	return &http.Client{Timeout: h.Timeout}
}

func (h HTTP) logger(ctx context.Context) logger.Logger {
	if h.Log != nil {
		return h.Log
	}
	return logger.FromContext(ctx)
}

func errorMessage(body []byte) string {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return "empty response"
	}
	return msg
}
