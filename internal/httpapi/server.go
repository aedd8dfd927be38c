// Package httpapi is the HTTP control surface: status, peak queries, the
// unified control action endpoint, and recorder session start/stop.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/davdef/airlift-node-sub001/internal/compose"
	"github.com/davdef/airlift-node-sub001/internal/config"
	"github.com/davdef/airlift-node-sub001/internal/node"
	"github.com/davdef/airlift-node-sub001/internal/recorder"
)

// Server is the Echo application wrapping a Node and a recorder Manager.
type Server struct {
	echo     *echo.Echo
	node     *node.Node
	recorder *recorder.Manager
}

// New constructs an Echo app with the full control-plane route set.
func New(n *node.Node, rec *recorder.Manager) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger())

	s := &Server{echo: e, node: n, recorder: rec}
	s.registerRoutes()
	return s
}

func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			slog.Info("http request",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"status", c.Response().Status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return nil
		}
	}
}

// Echo exposes the underlying Echo instance for tests and for mounting the
// WebSocket handler alongside it.
func (s *Server) Echo() *echo.Echo { return s.echo }

func (s *Server) registerRoutes() {
	s.echo.GET("/api/status", s.handleStatus)
	s.echo.GET("/api/peaks", s.handlePeaks)
	s.echo.GET("/api/history", s.handleHistory)
	s.echo.POST("/api/control", s.handleControl)
	s.echo.POST("/api/recorder/start", s.handleRecorderStart)
	s.echo.POST("/api/recorder/stop/:id", s.handleRecorderStop)
}

// Run starts Echo and blocks until ctx cancellation or a startup failure.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		return nil
	}
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.node.Status())
}

type peaksResponse struct {
	OK    bool   `json:"ok"`
	Start *int64 `json:"start"`
	End   *int64 `json:"end"`
}

func (s *Server) handlePeaks(c echo.Context) error {
	flowName := c.QueryParam("flow")
	start, end, ok := s.node.History().Bounds(flowName)
	resp := peaksResponse{OK: ok}
	if ok {
		resp.Start = &start
		resp.End = &end
	}
	return c.JSON(http.StatusOK, resp)
}

type historyEntry struct {
	TS      int64   `json:"ts"`
	PeakL   float32 `json:"peak_l"`
	PeakR   float32 `json:"peak_r"`
	Silence bool    `json:"silence"`
}

func (s *Server) handleHistory(c echo.Context) error {
	from, err := strconv.ParseInt(c.QueryParam("from"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "from is required and must be an integer")
	}
	to, err := strconv.ParseInt(c.QueryParam("to"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "to is required and must be an integer")
	}
	if from >= to {
		return echo.NewHTTPError(http.StatusBadRequest, "from must be less than to")
	}

	samples := s.node.History().Range(c.QueryParam("flow"), from, to)
	entries := make([]historyEntry, 0, len(samples))
	for _, smp := range samples {
		entries = append(entries, historyEntry{TS: smp.TSMillis, PeakL: smp.PeakL, PeakR: smp.PeakR, Silence: smp.Silence})
	}
	return c.JSON(http.StatusOK, entries)
}

type controlRequest struct {
	Action     string                 `json:"action"`
	Target     string                 `json:"target"`
	Parameters map[string]interface{} `json:"parameters"`
}

type controlResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func (s *Server) handleControl(c echo.Context) error {
	var req controlRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid control request body")
	}

	ctx := c.Request().Context()
	var err error

	switch req.Action {
	case "start":
		err = s.node.Start(ctx)
	case "stop":
		s.node.Stop()
	case "restart":
		err = s.node.Restart(ctx)
	case "reload", "config.reload":
		err = s.reloadConfig(ctx, req)
	case "config.import":
		err = s.importConfig(ctx, req)
	case "flow.start":
		err = s.node.StartFlow(ctx, req.Target)
	case "flow.stop":
		err = s.node.StopFlow(req.Target)
	case "flow.restart":
		err = s.node.RestartFlow(ctx, req.Target)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown action: "+req.Action)
	}

	if err != nil {
		if errors.Is(err, node.ErrUnknownFlow) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return c.JSON(http.StatusOK, controlResponse{OK: false, Error: err.Error()})
	}
	return c.JSON(http.StatusOK, controlResponse{OK: true})
}

// reloadConfig re-reads the path named in parameters.path, records any
// issues the loader found, and rebuilds the node's producers and flows from
// the freshly loaded config, the same stop/compose.Apply/start sequence
// cmd/airliftd's fsnotify watch callback runs on a file change.
func (s *Server) reloadConfig(ctx context.Context, req controlRequest) error {
	path, _ := req.Parameters["path"].(string)
	if path == "" {
		return errors.New("control: reload requires parameters.path")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	return s.applyConfig(ctx, cfg)
}

// importConfig parses the TOML payload in parameters.toml and rebuilds the
// node from it the same way reloadConfig does for a file path.
func (s *Server) importConfig(ctx context.Context, req controlRequest) error {
	toml, _ := req.Parameters["toml"].(string)
	if toml == "" {
		return errors.New("control: config.import requires parameters.toml")
	}
	cfg, err := config.Parse([]byte(toml))
	if err != nil {
		return err
	}
	return s.applyConfig(ctx, cfg)
}

// applyConfig records cfg's validation issues and recomposes the node
// against it: stop whatever is currently running, rebuild producers/flows
// via compose.Apply against the node's own registry, then start again.
func (s *Server) applyConfig(ctx context.Context, cfg config.Config) error {
	s.applyIssues(cfg)
	s.node.Stop()
	s.node.Reset()
	if err := compose.Apply(ctx, cfg, s.node.Registry(), s.node); err != nil {
		return fmt.Errorf("control: rebuild node: %w", err)
	}
	return s.node.Start(ctx)
}

func (s *Server) applyIssues(cfg config.Config) {
	issues := cfg.Validate()
	out := make([]node.ConfigurationIssue, 0, len(issues))
	for _, iss := range issues {
		out = append(out, node.ConfigurationIssue{Key: iss.Key, Message: iss.Message})
	}
	s.node.SetConfigurationIssues(out)
}

type recorderStartResponse struct {
	ProducerID string `json:"producer_id"`
}

func (s *Server) handleRecorderStart(c echo.Context) error {
	sess, err := s.recorder.Start(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, recorderStartResponse{ProducerID: sess.ID})
}

func (s *Server) handleRecorderStop(c echo.Context) error {
	id := c.Param("id")
	if err := s.recorder.Stop(id); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "unknown recorder session")
	}
	return c.NoContent(http.StatusOK)
}
