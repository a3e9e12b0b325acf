package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/skypro1111/dualscribe/internal/config"
	"github.com/skypro1111/dualscribe/internal/events"
	"github.com/skypro1111/dualscribe/internal/live"
	"github.com/skypro1111/dualscribe/internal/metrics"
	"github.com/skypro1111/dualscribe/internal/reconcile"
	"github.com/skypro1111/dualscribe/internal/reporting"
	"github.com/skypro1111/dualscribe/internal/store"
	"github.com/skypro1111/dualscribe/internal/transcript"
	"github.com/skypro1111/dualscribe/internal/transcription"
)

const (
	serviceName    = "dualscribe"
	serviceVersion = "1.0.0"

	maxRequestBody = 1 << 20

	// An agent that sent audio this recently counts as capturing
	receivingWindow = 10 * time.Second
)

// statsSource is implemented by recognizers that keep request statistics
type statsSource interface {
	GetStats() transcription.ClientStats
}

// HTTPServer provides the control API, the transcript API and monitoring endpoints
type HTTPServer struct {
	server     *http.Server
	logger     *slog.Logger
	config     *config.Config
	udpServer  *UDPServer // nil when UDP ingest is disabled
	scheduler  *live.Scheduler
	reconciler *reconcile.Reconciler
	store      store.Store
	hub        *events.Hub
	recognizer transcription.Recognizer
	metrics    *metrics.Metrics
	reporter   *reporting.Reporter

	// Background retranscriptions outlive their request
	ctx    context.Context
	cancel context.CancelFunc
	jobs   sync.WaitGroup

	startTime time.Time
}

// HTTPDeps are the components the API exposes
type HTTPDeps struct {
	UDPServer  *UDPServer
	Scheduler  *live.Scheduler
	Reconciler *reconcile.Reconciler
	Store      store.Store
	Hub        *events.Hub
	Recognizer transcription.Recognizer
	Metrics    *metrics.Metrics
	Reporter   *reporting.Reporter
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(appConfig *config.Config, logger *slog.Logger, deps HTTPDeps) *HTTPServer {
	ctx, cancel := context.WithCancel(context.Background())

	h := &HTTPServer{
		logger:     logger,
		config:     appConfig,
		udpServer:  deps.UDPServer,
		scheduler:  deps.Scheduler,
		reconciler: deps.Reconciler,
		store:      deps.Store,
		hub:        deps.Hub,
		recognizer: deps.Recognizer,
		metrics:    deps.Metrics,
		reporter:   deps.Reporter,
		ctx:        ctx,
		cancel:     cancel,
		startTime:  time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	// Stopping a session waits for the in-flight tick
	writeTimeout := appConfig.Live.GetStopTimeoutDuration() + 10*time.Second

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", appConfig.HTTP.Address, appConfig.HTTP.Port),
		Handler:      h.reporter.Recover(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the root handler, used by tests
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Live session control
	mux.HandleFunc("/live", h.withMetrics("/live", h.handleLiveStatus))
	mux.HandleFunc("/live/start", h.withMetrics("/live/start", h.handleLiveStart))
	mux.HandleFunc("/live/stop", h.withMetrics("/live/stop", h.handleLiveStop))

	// Stored transcripts
	mux.HandleFunc("/sessions/{id}/transcript", h.withMetrics("/sessions/{id}/transcript", h.handleTranscript))
	mux.HandleFunc("/sessions/{id}/retranscribe", h.withMetrics("/sessions/{id}/retranscribe", h.handleRetranscribe))
	mux.HandleFunc("/sessions/{id}/recordings/{recording}/retranscribe",
		h.withMetrics("/sessions/{id}/recordings/{recording}/retranscribe", h.handleRetranscribeRecording))

	// Websocket stream of transcript updates and progress
	mux.HandleFunc("/events", h.hub.ServeWS)

	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.Handle("/metrics", h.metrics.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)
		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server and cancels background retranscriptions
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	err := h.server.Shutdown(ctx)
	h.cancel()
	h.jobs.Wait()
	return err
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"error": message})
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	liveStatus := h.scheduler.Status()

	components := map[string]interface{}{
		"live": map[string]interface{}{
			"status":       "running",
			"transcribing": liveStatus.Running,
			"session_id":   liveStatus.SessionID,
		},
		"reconcile": map[string]interface{}{
			"status":  "running",
			"running": h.reconciler.IsRunning(),
		},
		"events": map[string]interface{}{
			"status":      "running",
			"subscribers": h.hub.SubscriberCount(),
		},
		"reporting": map[string]interface{}{
			"enabled": h.reporter.Enabled(),
		},
	}

	if h.udpServer != nil {
		udpStats := h.udpServer.GetStatistics()
		components["udp_server"] = map[string]interface{}{
			"status":            "running",
			"receiving":         h.udpServer.IsRecording(receivingWindow),
			"packets_received":  udpStats.PacketsReceived,
			"packets_processed": udpStats.PacketsProcessed,
			"parse_errors":      udpStats.ParseErrors,
			"queue_size":        udpStats.QueueSize,
		}
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": components,
	}

	writeJSON(w, http.StatusOK, health)
}

// handleLiveStatus implements the /live endpoint
func (h *HTTPServer) handleLiveStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, h.scheduler.Status())
}

type startRequest struct {
	SessionID string `json:"session_id"`
}

// handleLiveStart implements the /live/start endpoint.
// The body is optional; without a session_id a new one is generated.
func (h *HTTPServer) handleLiveStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req startRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	if err := h.scheduler.Start(req.SessionID); err != nil {
		if errors.Is(err, live.ErrAlreadyTranscribing) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		h.reporter.CaptureRequest(r, err, "live start failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := h.scheduler.Status()
	h.logger.Info("Live transcription started via API",
		slog.String("session_id", status.SessionID),
		slog.String("remote_addr", r.RemoteAddr),
	)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "started",
		"session_id": status.SessionID,
		"started_at": status.StartedAt,
	})
}

// handleLiveStop implements the /live/stop endpoint
func (h *HTTPServer) handleLiveStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.config.Live.GetStopTimeoutDuration())
	defer cancel()

	result := h.scheduler.Stop(ctx)
	if result.Segments == nil {
		result.Segments = []transcript.Segment{}
	}

	writeJSON(w, http.StatusOK, result)
}

// handleTranscript implements the /sessions/{id}/transcript endpoint
func (h *HTTPServer) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.PathValue("id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session id required")
		return
	}

	segments, err := h.store.Segments(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("Failed to load transcript",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		h.reporter.CaptureRequest(r, err, "load transcript failed")
		writeError(w, http.StatusInternalServerError, "failed to load transcript")
		return
	}

	plain := make([]transcript.Segment, 0, len(segments))
	for _, seg := range segments {
		plain = append(plain, seg.Transcript())
	}
	if segments == nil {
		segments = []store.Segment{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id":     sessionID,
		"total_segments": len(segments),
		"segments":       segments,
		"full_text":      transcript.FullText(plain),
	})
}

type retranscribeRequest struct {
	Recordings []reconcile.Recording `json:"recordings"`
	Wait       bool                  `json:"wait"`
}

type recordingRetranscribeRequest struct {
	reconcile.Recording
	Offset float64 `json:"offset"` // Where the recording starts on the session timeline
	Wait   bool    `json:"wait"`
}

// reconcileRun is one retranscription executed under a claimed job
type reconcileRun func(ctx context.Context, job *reconcile.Job) (reconcile.Result, error)

// handleRetranscribe implements the /sessions/{id}/retranscribe endpoint.
// By default the job runs in the background and reports progress over /events;
// with "wait": true the response carries the final result.
func (h *HTTPServer) handleRetranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.PathValue("id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session id required")
		return
	}

	var req retranscribeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Recordings) == 0 {
		writeError(w, http.StatusBadRequest, "no recordings to retranscribe")
		return
	}

	recordings := make([]reconcile.Recording, len(req.Recordings))
	for i, rec := range req.Recordings {
		confined, err := reconcile.ConfinePaths(h.config.Reconcile.RecordingsDir, rec)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("recording %d: %v", i+1, err))
			return
		}
		recordings[i] = confined
	}

	h.startReconcile(w, r, sessionID, len(recordings), req.Wait,
		func(ctx context.Context, job *reconcile.Job) (reconcile.Result, error) {
			return job.Retranscribe(ctx, sessionID, recordings)
		})
}

// handleRetranscribeRecording implements /sessions/{id}/recordings/{recording}/retranscribe.
// Only the segments stored for that recording are replaced.
func (h *HTTPServer) handleRetranscribeRecording(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.PathValue("id")
	recordingID := r.PathValue("recording")
	if sessionID == "" || recordingID == "" {
		writeError(w, http.StatusBadRequest, "session id and recording id required")
		return
	}

	var req recordingRetranscribeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.MicPath == "" {
		writeError(w, http.StatusBadRequest, "mic_path is required")
		return
	}
	if req.Offset < 0 {
		writeError(w, http.StatusBadRequest, "offset cannot be negative")
		return
	}

	rec, err := reconcile.ConfinePaths(h.config.Reconcile.RecordingsDir, req.Recording)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec.ID = recordingID

	h.startReconcile(w, r, sessionID, 1, req.Wait,
		func(ctx context.Context, job *reconcile.Job) (reconcile.Result, error) {
			return job.RetranscribeRecording(ctx, sessionID, rec, req.Offset)
		})
}

// startReconcile claims the reconciler before answering, so a 202 always means
// the run is underway. With wait set the run completes within the request.
func (h *HTTPServer) startReconcile(w http.ResponseWriter, r *http.Request, sessionID string, items int, wait bool, run reconcileRun) {
	job, err := h.reconciler.Begin()
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	if wait {
		result, err := run(r.Context(), job)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	h.jobs.Add(1)
	go func() {
		defer h.jobs.Done()
		result, err := run(h.ctx, job)
		if err != nil {
			h.logger.Error("Retranscription failed",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()),
			)
			return
		}
		h.logger.Info("Retranscription finished",
			slog.String("session_id", sessionID),
			slog.Int("completed", result.CompletedItems),
			slog.Int("failed", len(result.FailedItems)),
			slog.Int("segments", result.Segments),
		)
	}()

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":      "started",
		"session_id":  sessionID,
		"total_items": items,
	})
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// API key, database URL and DSN are never exposed
	sanitizedConfig := map[string]interface{}{
		"server": map[string]interface{}{
			"enabled":      h.config.Server.Enabled,
			"udp_port":     h.config.Server.UDPPort,
			"bind_address": h.config.Server.BindAddress,
			"buffer_size":  h.config.Server.BufferSize,
			"workers":      h.config.Server.Workers,
			"queue_size":   h.config.Server.QueueSize,
		},
		"capture": map[string]interface{}{
			"mic_sample_rate":    h.config.Capture.MicSampleRate,
			"mic_channels":       h.config.Capture.MicChannels,
			"system_sample_rate": h.config.Capture.SystemSampleRate,
			"system_channels":    h.config.Capture.SystemChannels,
		},
		"live": map[string]interface{}{
			"interval":           h.config.Live.Interval,
			"vad_enabled":        h.config.Live.VADEnabled,
			"vad_threshold":      h.config.Live.VADThreshold,
			"vad_window":         h.config.Live.VADWindow,
			"min_speech_windows": h.config.Live.MinSpeechWindows,
			"stop_timeout":       h.config.Live.StopTimeout,
			"recording_idle":     h.config.Live.RecordingIdle,
		},
		"aec": map[string]interface{}{
			"max_delay_ms": h.config.AEC.MaxDelayMs,
			"step_size":    h.config.AEC.StepSize,
		},
		"transcription": map[string]interface{}{
			"provider":       h.config.Transcription.Provider,
			"endpoint":       h.config.Transcription.Endpoint,
			"model":          h.config.Transcription.Model,
			"language":       h.config.Transcription.Language,
			"timeout":        h.config.Transcription.Timeout,
			"max_retries":    h.config.Transcription.MaxRetries,
			"max_concurrent": h.config.Transcription.MaxConcurrent,
		},
		"reconcile": map[string]interface{}{
			"max_chunk_duration":   h.config.Reconcile.MaxChunkDuration,
			"min_chunk_duration":   h.config.Reconcile.MinChunkDuration,
			"min_silence_duration": h.config.Reconcile.MinSilenceDuration,
			"silence_threshold":    h.config.Reconcile.SilenceThreshold,
			"recordings_dir":       h.config.Reconcile.RecordingsDir,
		},
		"storage": map[string]interface{}{
			"driver":  h.config.Storage.Driver,
			"migrate": h.config.Storage.Migrate,
		},
		"sentry": map[string]interface{}{
			"enabled":     h.config.Sentry.DSN != "",
			"environment": h.config.Sentry.Environment,
			"sample_rate": h.config.Sentry.SampleRate,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	writeJSON(w, http.StatusOK, sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"live":      h.scheduler.Status(),
		"reconcile": h.reconciler.Stats(),
		"events":    h.hub.Stats(),
	}

	if h.udpServer != nil {
		stats["udp"] = h.udpServer.GetStatistics()
	}
	if src, ok := h.recognizer.(statsSource); ok {
		stats["transcription"] = src.GetStats()
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": serviceName,
		"version": serviceVersion,
		"endpoints": map[string]interface{}{
			"GET /":                                                   "API documentation",
			"GET /health":                                             "Service health check",
			"GET /live":                                               "Live session status",
			"POST /live/start":                                        "Start live transcription",
			"POST /live/stop":                                         "Stop live transcription and return the transcript",
			"GET /sessions/{id}/transcript":                           "Stored transcript of a session",
			"POST /sessions/{id}/retranscribe":                        "Retranscribe saved recordings of a session",
			"POST /sessions/{id}/recordings/{recording}/retranscribe": "Retranscribe one recording, replacing only its segments",
			"GET /events":                                             "Websocket stream of transcript updates and progress",
			"GET /config":                                             "Service configuration",
			"GET /stats":                                              "Service statistics",
			"GET /metrics":                                            "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}
