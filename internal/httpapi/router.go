// Package httpapi exposes the execution service over HTTP: synchronous and
// streaming submission, active-execution listing, and health.
package httpapi

import (
	"net/http"
	"strings"

	"github.com/praxislabs/agentd/internal/agent"
	"github.com/praxislabs/agentd/internal/service"
	"github.com/praxislabs/agentd/internal/stream"
	"github.com/vinayprograms/agentkit/logging"
)

type handlers struct {
	svc    *service.Service
	logger *logging.Logger
}

// NewRouter builds the API surface over svc.
func NewRouter(svc *service.Service) http.Handler {
	h := &handlers{
		svc:    svc,
		logger: logging.New().WithComponent("httpapi"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/executions", h.handleExecute)
	mux.HandleFunc("POST /v1/executions/stream", h.handleExecuteStream)
	mux.HandleFunc("GET /v1/executions", h.handleList)
	mux.HandleFunc("GET /v1/health", h.handleHealth)
	return mux
}

func (h *handlers) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req service.Request
	if err := decodeJSONBody(r, &req); err != nil {
		writeBadRequest(w, "%v", err)
		return
	}

	result, err := h.svc.Execute(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handlers) handleExecuteStream(w http.ResponseWriter, r *http.Request) {
	var req service.Request
	if err := decodeJSONBody(r, &req); err != nil {
		writeBadRequest(w, "%v", err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeBadRequest(w, "streaming is not supported by this connection")
		return
	}

	sse := strings.Contains(r.Header.Get("Accept"), "text/event-stream")
	if sse {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
	} else {
		w.Header().Set("Content-Type", "application/x-ndjson")
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	pub := stream.NewPublisher("", 0)
	maxSteps := h.svc.ResolvedMaxSteps(req)

	obs := &service.Observer{
		OnStart: func(executionID string) {
			pub.Bind(executionID)
			pub.Publish(stream.EventStart, map[string]interface{}{
				"max_steps": maxSteps,
			})
		},
		OnStep: func(executionID string, step *agent.Step) {
			pub.PublishStep(step, maxSteps)
		},
		OnComplete: func(executionID string, result *service.Result) {
			pub.Publish(stream.EventComplete, map[string]interface{}{
				"success": result.Success,
				"result":  result.Result,
				"steps":   result.Stats.Steps,
			})
		},
		OnError: func(executionID string, err error) {
			pub.Publish(stream.EventError, map[string]interface{}{
				"kind":    string(service.KindOf(err)),
				"message": err.Error(),
			})
		},
	}

	go func() {
		_, err := h.svc.ExecuteObserved(r.Context(), req, obs)
		if err != nil {
			// Covers rejections before admission, where no observer callback
			// ever fires. Dropped silently if a terminal event already went out.
			pub.Publish(stream.EventError, map[string]interface{}{
				"kind":    string(service.KindOf(err)),
				"message": err.Error(),
			})
		}
	}()

	write := stream.WriteNDJSON
	if sse {
		write = stream.WriteSSE
	}
	for event := range pub.Events() {
		if err := write(w, event); err != nil {
			h.logger.Debug("stream write failed, client gone", map[string]interface{}{
				"error": err.Error(),
			})
			return
		}
		flusher.Flush()
	}
}

func (h *handlers) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"executions": h.svc.Active(),
	})
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Health())
}
