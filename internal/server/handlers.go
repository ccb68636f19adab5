package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/v0xg/screenpilot/internal/ai"
	"github.com/v0xg/screenpilot/internal/executor"
	"github.com/v0xg/screenpilot/internal/observe"
	"github.com/v0xg/screenpilot/internal/task"
)

type startTaskRequest struct {
	Query string `json:"query"`
}

type queryRequest struct {
	ScreenshotDataURL string            `json:"screenshotDataUrl"`
	Query             string            `json:"query"`
	HTMLSnippet       string            `json:"htmlSnippet"`
	PreviousActions   []executor.Action `json:"previousActions"`
	Phase             int               `json:"phase"`
}

type errorRequest struct {
	ScreenshotDataURL string            `json:"screenshotDataUrl"`
	Query             string            `json:"query"`
	HTMLSnippet       string            `json:"htmlSnippet"`
	PreviousActions   []executor.Action `json:"previousActions"`
	LastAction        *executor.Action  `json:"lastAction"`
	Error             string            `json:"error"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":   "Server is running",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"services":  gin.H{"automation": "active", "extension": "active"},
	})
}

func (s *Server) handleConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"provider":     s.cfg.Model.Provider,
		"model":        s.cfg.Model.Name,
		"maxBatchSize": s.cfg.Task.MaxBatchSize,
		"maxPhases":    s.cfg.Task.MaxPhases,
		"maxBodySize":  maxBodyBytes,
		"features": gin.H{
			"errorRecovery":   true,
			"contextAnalysis": true,
			"htmlProcessing":  true,
		},
	})
}

func (s *Server) handleStartTask(c *gin.Context) {
	var req startTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
		return
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		c.JSON(http.StatusBadRequest, errorBody("missing query"))
		return
	}

	id, err := s.deps.Tasks.StartTask(query)
	switch {
	case errors.Is(err, task.ErrTaskActive):
		c.JSON(http.StatusConflict, errorBody(err.Error()))
	case err != nil:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, errorBody("failed to start task"))
	default:
		s.logger.Info("task started", zap.String("task_id", id), zap.String("query", query))
		c.JSON(http.StatusAccepted, gin.H{"taskId": id})
	}
}

func (s *Server) handleCloseTask(c *gin.Context) {
	err := s.deps.Tasks.CloseTask()
	switch {
	case errors.Is(err, task.ErrNoTask):
		c.JSON(http.StatusNotFound, errorBody(err.Error()))
	case err != nil:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, errorBody("failed to close browser"))
	default:
		c.JSON(http.StatusOK, gin.H{"message": "Browser closed"})
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	recent := s.cfg.Task.HistoryWindow
	if v := c.Query("recent"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, errorBody("recent must be a non-negative integer"))
			return
		}
		recent = n
	}
	st, ok := s.deps.Tasks.Status(recent)
	if !ok {
		c.JSON(http.StatusNotFound, errorBody(task.ErrNoTask.Error()))
		return
	}
	c.JSON(http.StatusOK, st)
}

// handleLiveQuery plans against the server-side browser page, or against
// a screenshot supplied in the request
func (s *Server) handleLiveQuery(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		c.JSON(http.StatusBadRequest, errorBody("missing query"))
		return
	}

	q := ai.Query{Task: req.Query, PreviousActions: req.PreviousActions, Phase: req.Phase}
	if req.ScreenshotDataURL != "" {
		if !s.fillFromRequest(c, &q.Screenshot, &q.ScreenshotMIME, &q.DOMDigest, req.ScreenshotDataURL, req.HTMLSnippet) {
			return
		}
	} else {
		obs, ok := s.observeLive(c)
		if !ok {
			return
		}
		q.Screenshot, q.ScreenshotMIME, q.DOMDigest = obs.Screenshot, "image/png", obs.DOMDigest
	}
	s.plan(c, "processQuery", func(ctx context.Context) (executor.Batch, error) {
		return s.deps.Planner.ProcessQuery(ctx, q)
	})
}

func (s *Server) handleExtensionQuery(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
		return
	}
	if req.ScreenshotDataURL == "" || strings.TrimSpace(req.Query) == "" {
		c.JSON(http.StatusBadRequest, errorBody("missing required fields: screenshotDataUrl and query"))
		return
	}

	q := ai.Query{Task: req.Query, PreviousActions: req.PreviousActions, Phase: req.Phase}
	if !s.fillFromRequest(c, &q.Screenshot, &q.ScreenshotMIME, &q.DOMDigest, req.ScreenshotDataURL, req.HTMLSnippet) {
		return
	}
	s.logger.Debug("extension query",
		zap.Int("phase", req.Phase),
		zap.Int("previous_actions", len(req.PreviousActions)),
		zap.Int("digest_chars", len(q.DOMDigest)))
	s.plan(c, "processQuery", func(ctx context.Context) (executor.Batch, error) {
		return s.deps.Planner.ProcessQuery(ctx, q)
	})
}

func (s *Server) handleExtensionError(c *gin.Context) {
	var req errorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
		return
	}
	if req.ScreenshotDataURL == "" || strings.TrimSpace(req.Query) == "" || req.LastAction == nil || req.Error == "" {
		c.JSON(http.StatusBadRequest, errorBody("missing required fields for error recovery"))
		return
	}

	q := ai.ErrorQuery{
		Task:            req.Query,
		PreviousActions: req.PreviousActions,
		LastAction:      req.LastAction,
		Error:           req.Error,
		InterceptHint:   executor.InterceptHint(errors.New(req.Error)),
	}
	if !s.fillFromRequest(c, &q.Screenshot, &q.ScreenshotMIME, &q.DOMDigest, req.ScreenshotDataURL, req.HTMLSnippet) {
		return
	}
	s.logger.Info("extension error recovery",
		zap.Stringer("last_action", *req.LastAction),
		zap.String("error", req.Error),
		zap.Bool("intercept_hint", q.InterceptHint != ""))
	s.plan(c, "handleError", func(ctx context.Context) (executor.Batch, error) {
		return s.deps.Planner.HandleError(ctx, q)
	})
}

// fillFromRequest decodes the screenshot and digests the snippet. It
// writes the 400 response itself and reports false on bad input.
func (s *Server) fillFromRequest(c *gin.Context, shot *[]byte, mime, digest *string, dataURL, snippet string) bool {
	data, m, err := decodeDataURL(dataURL)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid screenshot data format"))
		return false
	}
	d, err := digestSnippet(snippet, s.limits())
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody("could not parse htmlSnippet"))
		return false
	}
	*shot, *mime, *digest = data, m, d
	return true
}

func (s *Server) observeLive(c *gin.Context) (observe.Observation, bool) {
	if s.deps.Browser == nil || s.deps.Observer == nil {
		c.JSON(http.StatusBadRequest, errorBody("no browser session; send screenshotDataUrl"))
		return observe.Observation{}, false
	}
	page, ok := s.deps.Browser.Current()
	if !ok {
		c.JSON(http.StatusBadRequest, errorBody("no browser session; send screenshotDataUrl"))
		return observe.Observation{}, false
	}
	obs, err := s.deps.Observer.Capture(c.Request.Context(), page)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, errorBody("failed to observe the page"))
		return observe.Observation{}, false
	}
	return obs, true
}

func (s *Server) plan(c *gin.Context, op string, call func(context.Context) (executor.Batch, error)) {
	batch, err := call(c.Request.Context())
	switch {
	case errors.Is(err, ai.ErrMalformedOutput):
		_ = c.Error(err)
		c.JSON(http.StatusBadGateway, errorBody("model returned malformed output"))
	case err != nil:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, errorBody("failed to "+opVerb(op)))
	default:
		if batch == nil {
			batch = executor.Batch{}
		}
		s.logger.Debug("planned", zap.String("op", op), zap.Int("actions", len(batch)))
		c.JSON(http.StatusOK, batch)
	}
}

func opVerb(op string) string {
	if op == "handleError" {
		return "handle error recovery"
	}
	return "process query"
}

func (s *Server) limits() observe.Limits {
	return observe.Limits{MaxChars: s.cfg.Observation.MaxChars, MaxElements: s.cfg.Observation.MaxElements}
}
