package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/silvabyte/godeploy-sub000/internal/repository"
	"github.com/silvabyte/godeploy-sub000/internal/service/deploy"
	"github.com/silvabyte/godeploy-sub000/internal/service/domains"
	"github.com/silvabyte/godeploy-sub000/internal/service/project"
	"github.com/silvabyte/godeploy-sub000/internal/ws"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux            *http.ServeMux
	logger         *slog.Logger
	project        project.Service
	deploy         deploy.Service
	domains        domains.Service
	hub            *ws.Hub
	upgrader       websocket.Upgrader
	limiter        RateLimiter
	jwtSecret      string
	maxArchiveSize int64
	eventBuffer    int
	dbHealth       func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitDeploy    = 12
	rateLimitUserWrite = 60
	rateLimitUserRead  = 120
	rateLimitWebsocket = 30
	healthCheckTimeout = 2 * time.Second
)

// Config carries the router's non-service dependencies.
type Config struct {
	JWTSecret      string
	MaxArchiveSize int64
	// EventBuffer sizes each websocket subscriber's send queue.
	EventBuffer int
	Limiter     RateLimiter
	DBHealth    func(context.Context) error
}

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, projectSvc project.Service, deploySvc deploy.Service, domainSvc domains.Service, hub *ws.Hub, cfg Config) *Router {
	r := &Router{
		mux:     http.NewServeMux(),
		logger:  logger,
		project: projectSvc,
		deploy:  deploySvc,
		domains: domainSvc,
		hub:     hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:        cfg.Limiter,
		jwtSecret:      cfg.JWTSecret,
		maxArchiveSize: cfg.MaxArchiveSize,
		eventBuffer:    cfg.EventBuffer,
		dbHealth:       cfg.DBHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	if r.maxArchiveSize <= 0 {
		r.maxArchiveSize = 256 << 20
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/metrics", promhttp.Handler().ServeHTTP)
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.HandleFunc("/deploy", r.audit("/deploy", r.handlerAuthRate("/deploy", rateLimitDeploy, rateWindowDefault, r.handleDeploy)))
	r.mux.HandleFunc("/deploy/", r.audit("/deploy/:id", r.handlerAuthRate("/deploy/:id", rateLimitUserRead, rateWindowDefault, r.handleDeployByID)))
	r.mux.HandleFunc("/projects/", r.audit("/projects/:id", r.handlerAuthRate("/projects/:id", rateLimitUserWrite, rateWindowDefault, r.handleProjectSubroutes)))
	r.mux.HandleFunc("/domains/validate", r.audit("/domains/validate", r.handlerAuthRate("/domains/validate", rateLimitUserWrite, rateWindowDefault, r.handleDomainValidate)))
	r.mux.HandleFunc("/domains/availability", r.audit("/domains/availability", r.handlerAuthRate("/domains/availability", rateLimitUserRead, rateWindowDefault, r.handleDomainAvailability)))
	r.mux.HandleFunc("/ws/deploys", r.audit("/ws/deploys", r.handlerAuthRate("/ws/deploys", rateLimitWebsocket, rateWindowRealtime, r.handleDeploysWS)))
}

// handleDeploy accepts a multipart site archive and runs the deploy pipeline
// synchronously. The response is the full deploy record.
func (r *Router) handleDeploy(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for deploy", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "internal", "authorization context missing")
		return
	}

	req.Body = http.MaxBytesReader(w, req.Body, r.maxArchiveSize)
	if err := req.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid multipart body: "+err.Error())
		return
	}
	defer func() {
		_ = req.MultipartForm.RemoveAll()
	}()

	projectName := strings.TrimSpace(req.FormValue("project"))
	if projectName == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "project field is required")
		return
	}
	file, _, err := req.FormFile("archive")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "archive field is required")
		return
	}
	defer file.Close()
	archiveData, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "could not read archive: "+err.Error())
		return
	}

	// Validate the archive before resolving the project, so a bad upload
	// for a new project name never persists a project row.
	site, err := r.deploy.Prepare(archiveData)
	if err != nil {
		if errors.Is(err, deploy.ErrInvalidArchive) {
			writeError(w, http.StatusBadRequest, "invalid_archive", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	defer r.deploy.Discard(site)

	proj, err := r.project.ResolveOrCreate(req.Context(), info.TenantID, info.UserID, projectName)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			writeError(w, http.StatusConflict, "conflict", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	record, err := r.deploy.Deploy(req.Context(), proj, info.UserID, site)
	if err != nil {
		// The record exists in failed state; surface the storage error.
		writeError(w, http.StatusInternalServerError, "deploy_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (r *Router) handleDeployByID(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	deployID := strings.Trim(strings.TrimPrefix(req.URL.Path, "/deploy/"), "/")
	if deployID == "" {
		r.notFound(w)
		return
	}
	record, err := r.deploy.Get(req.Context(), deployID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			r.notFound(w)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (r *Router) handleProjectSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/projects/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[0] == "" {
		r.notFound(w)
		return
	}
	projectID := parts[0]
	switch parts[1] {
	case "deploys":
		r.handleProjectDeploys(w, req, projectID)
	case "domain":
		r.handleProjectDomain(w, req, projectID)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleProjectDeploys(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	deploys, err := r.project.ListDeploys(req.Context(), projectID, limit)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			r.notFound(w)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, deploys)
}

func (r *Router) handleProjectDomain(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Domain string `json:"domain"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	proj, err := r.project.AttachDomain(req.Context(), projectID, payload.Domain)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			r.notFound(w)
		case errors.Is(err, project.ErrDomainUnavailable):
			writeError(w, http.StatusConflict, "domain_unavailable", err.Error())
		case errors.Is(err, repository.ErrConflict):
			writeError(w, http.StatusConflict, "conflict", err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, proj)
}

func (r *Router) handleDomainValidate(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Domain string `json:"domain"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	result := r.domains.ValidateCNAME(req.Context(), payload.Domain)
	writeJSON(w, http.StatusOK, result)
}

func (r *Router) handleDomainAvailability(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	candidate := req.URL.Query().Get("domain")
	if strings.TrimSpace(candidate) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "domain query parameter required")
		return
	}
	availability, err := r.domains.CheckAvailability(req.Context(), candidate, req.URL.Query().Get("exclude_project_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, availability)
}

func (r *Router) handleDeploysWS(w http.ResponseWriter, req *http.Request) {
	if _, ok := authInfoFromContext(req.Context()); !ok {
		r.logger.Error("auth context missing for deploys websocket", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "internal", "authorization context missing")
		return
	}
	projectID := req.URL.Query().Get("project_id")
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "project_id query parameter required")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger, r.eventBuffer)
	r.hub.Register(projectID, client)
	go func() {
		defer func() {
			r.hub.Unregister(projectID, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)

		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		actor := "anonymous"
		if info, ok := authInfoFromContext(ctx); ok {
			actor = "user"
			fields = append(fields, "user_id", info.UserID)
			if info.TenantID != "" {
				fields = append(fields, "tenant_id", info.TenantID)
			}
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (sr *statusRecorder) Push(target string, opts *http.PushOptions) error {
	if p, ok := sr.ResponseWriter.(http.Pusher); ok {
		return p.Push(target, opts)
	}
	return http.ErrNotSupported
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not_found", "not found")
}
