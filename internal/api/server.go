// Package api exposes run dispatch over HTTP for schedulers that cannot
// shell out to the CLI.
package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/nhrun/internal/config"
	"github.com/samcharles93/nhrun/internal/device"
	"github.com/samcharles93/nhrun/internal/runmode"
)

// Dispatcher composes and runs requests. *runmode.Controller implements it.
type Dispatcher interface {
	Run(ctx context.Context, req runmode.Request) (config.RunConfig, error)
	Compose(req runmode.Request) (config.RunConfig, error)
}

type ComposeResponse struct {
	Mode   string         `json:"mode"`
	Config map[string]any `json:"config"`
}

type RunListResponse struct {
	Object string      `json:"object"`
	Data   []RunRecord `json:"data"`
}

type PlatformResponse struct {
	MPS        bool   `json:"mps"`
	CUDA       bool   `json:"cuda"`
	AutoDevice string `json:"auto_device"`
}

type Server struct {
	dispatcher Dispatcher
	store      *RunStore
	platform   device.Platform
	clock      func() time.Time

	// mu serialises dispatches; the run directories behind them assume a
	// single writer.
	mu sync.Mutex
}

func NewServer(dispatcher Dispatcher, store *RunStore, platform device.Platform) *Server {
	if store == nil {
		store = NewRunStore()
	}
	if platform == nil {
		platform = device.Host()
	}
	return &Server{
		dispatcher: dispatcher,
		store:      store,
		platform:   platform,
		clock:      time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/runs", s.handleCreateRun)
	e.GET("/v1/runs", s.handleListRuns)
	e.POST("/v1/runs/compose", s.handleCompose)
	e.GET("/v1/runs/:id", s.handleGetRun)
	e.DELETE("/v1/runs/:id", s.handleDeleteRun)
	e.GET("/v1/platform", s.handlePlatform)
}

func (s *Server) handleCreateRun(c *echo.Context) error {
	req, err := decodeRequest(c)
	if err != nil {
		return writeDispatchError(c, err)
	}

	created := s.clock()
	// The run outlives a client that disconnects while the engine works.
	ctx := context.WithoutCancel(c.Request().Context())
	s.mu.Lock()
	cfg, err := s.dispatcher.Run(ctx, req)
	s.mu.Unlock()

	if err != nil {
		// Requests that never reached the engine are not recorded.
		if errors.Is(err, runmode.ErrEngine) {
			s.store.Create(req, cfg.Device, err, created)
		}
		return writeDispatchError(c, err)
	}
	return c.JSON(http.StatusOK, s.store.Create(req, cfg.Device, nil, created))
}

func (s *Server) handleListRuns(c *echo.Context) error {
	return c.JSON(http.StatusOK, RunListResponse{Object: "list", Data: s.store.List()})
}

func (s *Server) handleGetRun(c *echo.Context) error {
	rec, ok := s.store.Get(c.Param("id"))
	if !ok {
		return writeError(c, http.StatusNotFound, "not_found_error", "run not found")
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) handleDeleteRun(c *echo.Context) error {
	id := c.Param("id")
	if !s.store.Delete(id) {
		return writeError(c, http.StatusNotFound, "not_found_error", "run not found")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"id":      id,
		"object":  "run.deleted",
		"deleted": true,
	})
}

func (s *Server) handleCompose(c *echo.Context) error {
	req, err := decodeRequest(c)
	if err != nil {
		return writeDispatchError(c, err)
	}
	cfg, err := s.dispatcher.Compose(req)
	if err != nil {
		return writeDispatchError(c, err)
	}
	return c.JSON(http.StatusOK, ComposeResponse{Mode: string(req.Mode), Config: cfg.Map()})
}

func (s *Server) handlePlatform(c *echo.Context) error {
	return c.JSON(http.StatusOK, PlatformResponse{
		MPS:        s.platform.HasMPS(),
		CUDA:       s.platform.HasCUDA(),
		AutoDevice: device.Auto(s.platform),
	})
}

func decodeRequest(c *echo.Context) (runmode.Request, error) {
	req, err := decodeJSON[runmode.Request](c.Request().Body)
	if err != nil {
		return runmode.Request{}, err
	}
	if _, err := runmode.ParseMode(string(req.Mode)); err != nil {
		return runmode.Request{}, newInvalidRequest(err.Error())
	}
	if req.Period == "" {
		req.Period = runmode.PeriodTest
	}
	return req, nil
}
