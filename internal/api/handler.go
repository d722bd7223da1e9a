package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/spf13/cast"

	"github.com/clinicalops/trialrisk/internal/cache"
	"github.com/clinicalops/trialrisk/internal/domain"
	"github.com/clinicalops/trialrisk/internal/pipeline"
	"github.com/clinicalops/trialrisk/internal/trend"
)

const (
	defaultCacheTTL  = 5 * time.Minute
	defaultRunsLimit = 50
	maxRunsLimit     = 500
	maxScoreBody     = 10 << 20
)

// Scorer evaluates a submitted batch in memory.
type Scorer interface {
	Evaluate(ctx context.Context, studies, sites []domain.SignalRecord) (*pipeline.Evaluation, error)
}

// TrendReader serves per-study score history.
type TrendReader interface {
	StudyTrend(ctx context.Context, studyID string, window time.Duration) (*trend.Trend, error)
}

// Dependencies are the collaborators of the API. Any of them may be nil;
// endpoints needing a missing one answer 503.
type Dependencies struct {
	Repo     domain.Repository
	Cache    domain.Cache
	Bus      domain.EventBus
	Scorer   Scorer
	Trends   TrendReader
	CacheTTL time.Duration
}

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	scorer   Scorer
	trends   TrendReader
	cacheTTL time.Duration
	version  string
	now      func() time.Time
}

// NewHandler creates a new API handler.
func NewHandler(deps Dependencies, version string) *Handler {
	h := &Handler{
		repo:     deps.Repo,
		cache:    deps.Cache,
		bus:      deps.Bus,
		scorer:   deps.Scorer,
		trends:   deps.Trends,
		cacheTTL: deps.CacheTTL,
		version:  version,
		now:      time.Now,
	}
	if h.cacheTTL <= 0 {
		h.cacheTTL = defaultCacheTTL
	}
	if h.trends == nil && h.repo != nil {
		h.trends = trend.NewService(h.repo)
	}
	return h
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"
	components := map[string]string{}

	check := func(name string, ping func(context.Context) error) {
		if err := ping(ctx); err != nil {
			slog.Warn("health check failed", "component", name, "error", err)
			components[name] = "down"
			status = "degraded"
			return
		}
		components[name] = "up"
	}
	if h.repo != nil {
		check("repository", h.repo.Ping)
	}
	if h.cache != nil {
		check("cache", h.cache.Ping)
	}
	if h.bus != nil {
		check("eventBus", h.bus.Ping)
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":     status,
		"version":    h.version,
		"components": components,
	})
}

// Ready reports whether run history is reachable.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil || h.repo.Ping(r.Context()) != nil {
		writeJSON(w, r, http.StatusServiceUnavailable, map[string]bool{"ready": false})
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]bool{"ready": true})
}

// Score handles POST /score: the batch is scored, tiered and ranked in memory.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if h.scorer == nil {
		writeMessage(w, r, http.StatusServiceUnavailable, "scoring not available")
		return
	}

	var req ScoreRequest
	if err := render.DecodeJSON(http.MaxBytesReader(w, r.Body, maxScoreBody), &req); err != nil {
		writeMessage(w, r, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	studies, sites, err := req.records()
	if err != nil {
		writeError(w, r, err)
		return
	}

	eval, err := h.scorer.Evaluate(r.Context(), studies, sites)
	if err != nil {
		slog.Error("scoring failed", "studies", len(studies), "sites", len(sites), "error", err)
		writeError(w, r, err)
		return
	}

	resp := scoreResponse(eval)
	resp.Metadata.TraceID = GetTraceID(r.Context())
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version
	writeJSON(w, r, http.StatusOK, resp)
}

// RequestRun handles POST /runs by publishing a run request for the worker.
func (h *Handler) RequestRun(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeMessage(w, r, http.StatusServiceUnavailable, "event bus not available")
		return
	}

	req := domain.RunRequest{
		RunID:       uuid.New().String(),
		Trigger:     "api",
		RequestedAt: h.now().UTC(),
	}
	payload, err := json.Marshal(req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.bus.Publish(r.Context(), domain.TopicRunRequested, payload); err != nil {
		slog.Error("failed to publish run request", "run_id", req.RunID, "error", err)
		writeMessage(w, r, http.StatusServiceUnavailable, "failed to queue run")
		return
	}

	slog.Info("run requested", "run_id", req.RunID)
	w.Header().Set("Location", "/runs/"+req.RunID)
	writeJSON(w, r, http.StatusAccepted, RunRequestResponse{RunID: req.RunID, Status: "accepted"})
}

// ListRuns returns the most recent runs, newest first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w, r) {
		return
	}

	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := cast.ToIntE(raw)
		if err != nil || n < 1 {
			writeMessage(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRunsLimit)
	}

	runs, err := h.repo.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if runs == nil {
		runs = []*domain.Run{}
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

// LatestRun returns the newest completed run.
func (h *Handler) LatestRun(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w, r) {
		return
	}
	run, err := cached(h, r.Context(), cache.KeyLatestRun, h.repo.LatestRun)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, run)
}

// GetRun returns one run's summary.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w, r) {
		return
	}
	run, err := h.loadRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, run)
}

// GetRunStudies returns the ranked study table of a run.
func (h *Handler) GetRunStudies(w http.ResponseWriter, r *http.Request) {
	h.runResults(w, r, false)
}

// GetRunSites returns the ranked site table of a run.
func (h *Handler) GetRunSites(w http.ResponseWriter, r *http.Request) {
	h.runResults(w, r, true)
}

func (h *Handler) runResults(w http.ResponseWriter, r *http.Request, sites bool) {
	if !h.requireRepo(w, r) {
		return
	}
	key, list := cache.StudiesKey, h.repo.ListStudyResults
	if sites {
		key, list = cache.SitesKey, h.repo.ListSiteResults
	}

	ctx := r.Context()
	runID := chi.URLParam(r, "id")
	if _, err := h.loadRun(ctx, runID); err != nil {
		writeError(w, r, err)
		return
	}

	views, err := cached(h, ctx, key(runID), func(ctx context.Context) ([]RecordView, error) {
		records, err := list(ctx, runID)
		if err != nil {
			return nil, err
		}
		return recordViews(records), nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"runId":   runID,
		"results": views,
		"count":   len(views),
	})
}

// GetRunReport returns the executive summary of a completed run as text.
func (h *Handler) GetRunReport(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w, r) {
		return
	}
	run, err := h.repo.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if run.Report == "" {
		writeMessage(w, r, http.StatusNotFound, "report not available for run "+run.ID)
		return
	}
	render.PlainText(w, r, run.Report)
}

// StudyTrend returns a study's DQI history. The optional window parameter is
// a duration such as "720h".
func (h *Handler) StudyTrend(w http.ResponseWriter, r *http.Request) {
	if h.trends == nil {
		writeMessage(w, r, http.StatusServiceUnavailable, "run history not available")
		return
	}

	var window time.Duration
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			writeMessage(w, r, http.StatusBadRequest, "window must be a non-negative duration")
			return
		}
		window = d
	}

	t, err := h.trends.StudyTrend(r.Context(), chi.URLParam(r, "id"), window)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, t)
}

func (h *Handler) loadRun(ctx context.Context, runID string) (*domain.Run, error) {
	return cached(h, ctx, cache.RunKey(runID), func(ctx context.Context) (*domain.Run, error) {
		return h.repo.GetRun(ctx, runID)
	})
}

func (h *Handler) requireRepo(w http.ResponseWriter, r *http.Request) bool {
	if h.repo == nil {
		writeMessage(w, r, http.StatusServiceUnavailable, "run history not available")
		return false
	}
	return true
}

// cached serves key from the cache, falling back to load and storing its
// result. Cache failures are logged and bypassed.
func cached[T any](h *Handler, ctx context.Context, key string, load func(context.Context) (T, error)) (T, error) {
	if h.cache != nil {
		var v T
		hit, err := cache.GetJSON(ctx, h.cache, key, &v)
		if err != nil {
			slog.Warn("cache read failed", "key", key, "error", err)
		} else if hit {
			return v, nil
		}
	}

	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	if h.cache != nil {
		if err := cache.SetJSON(ctx, h.cache, key, v, h.cacheTTL); err != nil {
			slog.Warn("cache write failed", "key", key, "error", err)
		}
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	render.Status(r, status)
	render.JSON(w, r, data)
}

func writeMessage(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, map[string]string{"error": msg})
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeMessage(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		writeMessage(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeMessage(w, r, http.StatusServiceUnavailable, "request cancelled")
	default:
		slog.Error("request failed", "path", r.URL.Path, "error", err)
		writeMessage(w, r, http.StatusInternalServerError, "internal server error")
	}
}
