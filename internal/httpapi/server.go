// Package httpapi exposes the fleet over HTTP: REST routes for agent
// and task management, aggregate status and metrics endpoints, and an
// SSE stream fed by the event bus.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/mindmux/mindmux/internal/audit"
	"github.com/mindmux/mindmux/internal/auth"
	"github.com/mindmux/mindmux/internal/bus"
	"github.com/mindmux/mindmux/internal/cache"
	"github.com/mindmux/mindmux/internal/domain"
	"github.com/mindmux/mindmux/internal/health"
	"github.com/mindmux/mindmux/internal/log"
	"github.com/mindmux/mindmux/internal/metrics"
	"github.com/mindmux/mindmux/internal/scheduler"
)

// Handler provides the HTTP endpoints over the scheduler and the
// monitoring aggregators.
type Handler struct {
	sched   *scheduler.Scheduler
	bus     *bus.Bus
	cache   *cache.Cache
	metrics *metrics.Registry
	health  *health.Checker
	auth    *auth.Service
	ledger  *audit.Ledger
	limiter *auth.RateLimiter
	version string
}

// HandlerConfig wires the handler's collaborators.
type HandlerConfig struct {
	Scheduler *scheduler.Scheduler
	Bus       *bus.Bus
	Cache     *cache.Cache
	Metrics   *metrics.Registry
	Health    *health.Checker
	Auth      *auth.Service
	Audit     *audit.Ledger
	// Limiter is optional; nil disables rate limiting.
	Limiter *auth.RateLimiter
	Version string
}

// NewHandler creates an API handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		sched:   cfg.Scheduler,
		bus:     cfg.Bus,
		cache:   cfg.Cache,
		metrics: cfg.Metrics,
		health:  cfg.Health,
		auth:    cfg.Auth,
		ledger:  cfg.Audit,
		limiter: cfg.Limiter,
		version: cfg.Version,
	}
}

// endpoints is the route inventory advertised by GET /.
var endpoints = []string{
	"GET /",
	"GET /health",
	"GET /status",
	"GET /metrics",
	"GET /events",
	"GET /audit",
	"POST /agent/create",
	"GET /agent/{id}",
	"POST /agent/{id}/start",
	"POST /agent/{id}/stop",
	"DELETE /agent/{id}",
	"POST /task/create",
	"GET /task/{id}",
	"POST /task/{id}/cancel",
}

// Routes returns the full handler chain with all API routes registered.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", h.Index)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /status", h.Status)
	mux.HandleFunc("GET /metrics", h.Metrics)
	mux.HandleFunc("GET /events", h.StreamEvents)
	mux.HandleFunc("GET /audit", h.AuditLog)

	mux.HandleFunc("POST /agent/create", h.CreateAgent)
	mux.HandleFunc("GET /agent/{id}", h.GetAgent)
	mux.HandleFunc("POST /agent/{id}/start", h.StartAgent)
	mux.HandleFunc("POST /agent/{id}/stop", h.StopAgent)
	mux.HandleFunc("DELETE /agent/{id}", h.DeleteAgent)

	mux.HandleFunc("POST /task/create", h.CreateTask)
	mux.HandleFunc("GET /task/{id}", h.GetTask)
	mux.HandleFunc("POST /task/{id}/cancel", h.CancelTask)

	return h.wrap(mux)
}

// === Request/Response Types ===

// CreateAgentRequest is the request body for registering an agent.
type CreateAgentRequest struct {
	Name         string            `json:"name"`
	Type         string            `json:"type"`
	Capabilities []string          `json:"capabilities"`
	Config       map[string]string `json:"config,omitempty"`
}

// StartAgentRequest is the request body for starting an agent's tool.
type StartAgentRequest struct {
	WorkDir string `json:"work_dir,omitempty"`
}

// CreateTaskRequest is the request body for queueing a task.
type CreateTaskRequest struct {
	Prompt               string   `json:"prompt"`
	RequiredCapabilities []string `json:"required_capabilities"`
	Priority             int      `json:"priority,omitempty"`
	DependsOn            []string `json:"depends_on,omitempty"`
	MaxRetries           int      `json:"max_retries,omitempty"`
	TimeoutMs            int64    `json:"timeout_ms,omitempty"`
}

// AgentResponse is the wire form of an agent.
type AgentResponse struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Status       string   `json:"status"`
	Capabilities []string `json:"capabilities"`
	Dispatched   int      `json:"dispatched"`
	CreatedAt    string   `json:"created_at"`
	UpdatedAt    string   `json:"updated_at"`
}

// TaskResponse is the wire form of a task.
type TaskResponse struct {
	ID                   string   `json:"id"`
	Prompt               string   `json:"prompt"`
	Status               string   `json:"status"`
	Priority             int      `json:"priority"`
	RequiredCapabilities []string `json:"required_capabilities"`
	AssignedAgentID      string   `json:"assigned_agent_id,omitempty"`
	DependsOn            []string `json:"depends_on,omitempty"`
	Result               string   `json:"result,omitempty"`
	ErrorMessage         string   `json:"error_message,omitempty"`
	RetryCount           int      `json:"retry_count"`
	MaxRetries           int      `json:"max_retries"`
	CreatedAt            string   `json:"created_at"`
	StartedAt            *string  `json:"started_at,omitempty"`
	CompletedAt          *string  `json:"completed_at,omitempty"`
}

// SessionResponse is the wire form of an agent session.
type SessionResponse struct {
	ID         string `json:"id"`
	AgentID    string `json:"agent_id"`
	MuxSession string `json:"mux_session"`
	Status     string `json:"status"`
	StartedAt  string `json:"started_at"`
}

// StatusResponse is the aggregate fleet view for GET /status.
type StatusResponse struct {
	Agents []AgentResponse  `json:"agents"`
	Tasks  []TaskResponse   `json:"tasks"`
	Stats  metrics.Snapshot `json:"stats"`
}

// IndexResponse describes the service for GET /.
type IndexResponse struct {
	Name      string   `json:"name"`
	Version   string   `json:"version"`
	Endpoints []string `json:"endpoints"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	ResetAt string `json:"reset_at,omitempty"`
}

// === Handlers ===

// Index returns the service descriptor.
// GET /
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, IndexResponse{
		Name:      "mindmux",
		Version:   h.version,
		Endpoints: endpoints,
	})
}

// Health evaluates the registered dependency checks.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	report := h.health.Evaluate()
	h.writeJSON(w, report.HTTPStatus(), report)
}

// Status returns the filtered fleet snapshot.
// GET /status?agent_status=idle&task_status=pending
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	agentFilter := r.URL.Query().Get("agent_status")
	taskFilter := r.URL.Query().Get("task_status")

	resp := StatusResponse{
		Agents: []AgentResponse{},
		Tasks:  []TaskResponse{},
		Stats:  h.metrics.Collect(h.cache),
	}

	for _, agent := range h.cache.AllAgents() {
		if agentFilter != "" && string(agent.Status) != agentFilter {
			continue
		}
		resp.Agents = append(resp.Agents, agentToResponse(agent))
	}
	for _, task := range h.cache.AllTasks() {
		if taskFilter != "" && string(task.Status) != taskFilter {
			continue
		}
		resp.Tasks = append(resp.Tasks, taskToResponse(task))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// Metrics returns the metrics snapshot.
// GET /metrics
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.metrics.Collect(h.cache))
}

// AuditLog returns the full audit ledger. Admin only.
// GET /audit
func (h *Handler) AuditLog(w http.ResponseWriter, r *http.Request) {
	if _, err := h.auth.Authorize(r.Context(), auth.ActionAuditRead, nil); err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"entries": h.ledger.Entries()})
}

// CreateAgent registers a new agent.
// POST /agent/create
func (h *Handler) CreateAgent(w http.ResponseWriter, r *http.Request) {
	if _, err := h.auth.Authorize(r.Context(), auth.ActionAgentCreate, nil); err != nil {
		h.writeDomainError(w, err)
		return
	}

	var req CreateAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	agent, err := h.sched.CreateAgent(req.Name, domain.AgentType(req.Type), toCapabilities(req.Capabilities), req.Config)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, agentToResponse(agent))
}

// GetAgent returns one agent.
// GET /agent/{id}
func (h *Handler) GetAgent(w http.ResponseWriter, r *http.Request) {
	if _, err := h.auth.Authorize(r.Context(), auth.ActionAgentRead, nil); err != nil {
		h.writeDomainError(w, err)
		return
	}

	agent, err := h.sched.GetAgent(r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, agentToResponse(agent))
}

// StartAgent spawns the agent's CLI tool.
// POST /agent/{id}/start
func (h *Handler) StartAgent(w http.ResponseWriter, r *http.Request) {
	if _, err := h.auth.Authorize(r.Context(), auth.ActionAgentStart, nil); err != nil {
		h.writeDomainError(w, err)
		return
	}

	var req StartAgentRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	session, err := h.sched.StartAgent(r.Context(), r.PathValue("id"), req.WorkDir)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sessionToResponse(session))
}

// StopAgent stops the agent's tool and session. Requires ownership.
// POST /agent/{id}/stop
func (h *Handler) StopAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	resource := &auth.Resource{Kind: "agent", ID: id}
	if _, err := h.auth.Authorize(r.Context(), auth.ActionAgentStop, resource); err != nil {
		h.writeDomainError(w, err)
		return
	}

	if err := h.sched.StopAgent(id); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteAgent stops and removes the agent. Requires ownership.
// DELETE /agent/{id}
func (h *Handler) DeleteAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	resource := &auth.Resource{Kind: "agent", ID: id}
	if _, err := h.auth.Authorize(r.Context(), auth.ActionAgentDelete, resource); err != nil {
		h.writeDomainError(w, err)
		return
	}

	if err := h.sched.DeleteAgent(id); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateTask validates and queues a task.
// POST /task/create
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	if _, err := h.auth.Authorize(r.Context(), auth.ActionTaskQueue, nil); err != nil {
		h.writeDomainError(w, err)
		return
	}

	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	task, err := h.sched.QueueTask(domain.TaskSpec{
		Prompt:               req.Prompt,
		RequiredCapabilities: toCapabilities(req.RequiredCapabilities),
		Priority:             req.Priority,
		DependsOn:            req.DependsOn,
		MaxRetries:           req.MaxRetries,
		Timeout:              time.Duration(req.TimeoutMs) * time.Millisecond,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, taskToResponse(task))
}

// GetTask returns one task.
// GET /task/{id}
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	if _, err := h.auth.Authorize(r.Context(), auth.ActionTaskRead, nil); err != nil {
		h.writeDomainError(w, err)
		return
	}

	task, err := h.sched.GetTask(r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, taskToResponse(task))
}

// CancelTask cancels a pending or running task. Requires ownership.
// POST /task/{id}/cancel
func (h *Handler) CancelTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	resource := &auth.Resource{Kind: "task", ID: id}
	if _, err := h.auth.Authorize(r.Context(), auth.ActionTaskCancel, resource); err != nil {
		h.writeDomainError(w, err)
		return
	}

	if err := h.sched.CancelTask(id); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// === Wire conversions ===

func agentToResponse(agent *domain.Agent) AgentResponse {
	caps := make([]string, len(agent.Capabilities))
	for i, c := range agent.Capabilities {
		caps[i] = string(c)
	}
	return AgentResponse{
		ID:           agent.ID,
		Name:         agent.Name,
		Type:         string(agent.Type),
		Status:       string(agent.Status),
		Capabilities: caps,
		Dispatched:   agent.Dispatched,
		CreatedAt:    agent.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    agent.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func taskToResponse(task *domain.Task) TaskResponse {
	caps := make([]string, len(task.RequiredCapabilities))
	for i, c := range task.RequiredCapabilities {
		caps[i] = string(c)
	}
	resp := TaskResponse{
		ID:                   task.ID,
		Prompt:               task.Prompt,
		Status:               string(task.Status),
		Priority:             task.Priority,
		RequiredCapabilities: caps,
		AssignedAgentID:      task.AssignedAgentID,
		DependsOn:            task.DependsOn,
		Result:               task.Result,
		ErrorMessage:         task.ErrorMessage,
		RetryCount:           task.RetryCount,
		MaxRetries:           task.MaxRetries,
		CreatedAt:            task.CreatedAt.UTC().Format(time.RFC3339),
	}
	if task.StartedAt != nil {
		s := task.StartedAt.UTC().Format(time.RFC3339)
		resp.StartedAt = &s
	}
	if task.CompletedAt != nil {
		s := task.CompletedAt.UTC().Format(time.RFC3339)
		resp.CompletedAt = &s
	}
	return resp
}

func sessionToResponse(session *domain.Session) SessionResponse {
	return SessionResponse{
		ID:         session.ID,
		AgentID:    session.AgentID,
		MuxSession: session.MultiplexerSessionName,
		Status:     string(session.Status),
		StartedAt:  session.StartedAt.UTC().Format(time.RFC3339),
	}
}

func toCapabilities(in []string) []domain.Capability {
	out := make([]domain.Capability, len(in))
	for i, c := range in {
		out[i] = domain.Capability(c)
	}
	return out
}

// === JSON helpers ===

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error(log.CatHTTP, "encoding response failed", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, ErrorResponse{Error: message})
}

// Server wraps the handler with an http.Server for lifecycle management.
type Server struct {
	server   *http.Server
	listener net.Listener
	port     int
}

// ServerConfig configures the API server.
type ServerConfig struct {
	// Addr is the listen address, e.g. "127.0.0.1:7337" or ":0".
	Addr    string
	Handler *Handler
	// ReadTimeout bounds request reads. Write timeout stays zero: SSE
	// connections are long-lived.
	ReadTimeout time.Duration
}

// NewServer binds the listener immediately so Port is known even when
// the config asked for :0.
func NewServer(cfg ServerConfig) (*Server, error) {
	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 30 * time.Second
	}

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", cfg.Addr, err)
	}

	port := 0
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		port = tcpAddr.Port
	}

	return &Server{
		listener: listener,
		port:     port,
		server: &http.Server{
			Handler:           cfg.Handler.Routes(),
			ReadTimeout:       readTimeout,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Start serves until Stop is called or the listener fails.
func (s *Server) Start() error {
	log.Info(log.CatHTTP, "API server listening", "addr", s.listener.Addr().String())
	return s.server.Serve(s.listener)
}

// Stop gracefully drains in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	log.Info(log.CatHTTP, "stopping API server")
	return s.server.Shutdown(ctx)
}

// Port returns the bound port.
func (s *Server) Port() int {
	return s.port
}
