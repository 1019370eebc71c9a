// ABOUTME: HTTP API for submitting, observing, and cancelling workflow runs.
// ABOUTME: chi router with JSON endpoints and SSE event streaming for live status.
package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/2389-research/loom/render"
	"github.com/2389-research/loom/weft"
	"github.com/2389-research/loom/workflow"
)

// Server exposes the run service over HTTP. The canvas UI is an external
// collaborator: it submits workflow documents, subscribes to the event
// stream, and renders what it hears.
type Server struct {
	service *weft.RunService
	router  chi.Router
}

// NewServer creates a Server with all routes configured.
func NewServer(service *weft.RunService) *Server {
	s := &Server{service: service}

	r := chi.NewRouter()
	r.Post("/runs", s.handleSubmitRun)
	r.Get("/runs", s.handleListRuns)
	r.Get("/runs/{id}", s.handleGetRun)
	r.Get("/runs/{id}/result", s.handleGetResult)
	r.Get("/runs/{id}/events", s.handleEvents)
	r.Get("/runs/{id}/events/summary", s.handleEventSummary)
	r.Get("/runs/{id}/dot", s.handleDOT)
	r.Post("/runs/{id}/cancel", s.handleCancel)
	r.Post("/workflows/validate", s.handleValidate)
	s.router = r
	return s
}

// ServeHTTP implements the http.Handler interface, delegating to the chi router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// handleSubmitRun handles POST /runs. The body is a workflow document in
// JSON or YAML; validation failures return 422 with the diagnostics.
func (s *Server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	doc, err := workflow.Parse(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	graph, err := doc.ToGraph(s.service.Engine().Registry())
	if err != nil {
		writeGraphError(w, err)
		return
	}

	run, err := s.service.Submit(graph)
	if err != nil {
		writeGraphError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":     run.ID,
		"status": "running",
	})
}

// handleListRuns handles GET /runs.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.List())
}

// handleGetRun handles GET /runs/{id}, returning status plus a node snapshot.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	status, err := s.service.Status(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	run, _ := s.service.Get(id)
	writeJSON(w, http.StatusOK, map[string]any{
		"run":   status,
		"nodes": run.Snapshot(),
	})
}

// handleGetResult handles GET /runs/{id}/result. Returns 409 while the run
// is still in flight.
func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.Result(chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, weft.ErrRunNotFound):
		writeError(w, http.StatusNotFound, "run not found")
	case errors.Is(err, weft.ErrRunActive):
		writeError(w, http.StatusConflict, "run still active")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, result)
	}
}

// handleEvents handles GET /runs/{id}/events as an SSE stream: the full
// event log replays first, then new events stream as they arrive.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	run, err := s.service.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	log := run.Log()
	sent := 0

	for {
		for _, ev := range log.EventsFrom(sent) {
			data, _ := json.Marshal(ev)
			fmt.Fprintf(w, "data: %s\n\n", data)
			sent++
		}
		flusher.Flush()

		select {
		case <-run.Done():
			// Flush anything emitted between the read and the done signal.
			for _, ev := range log.EventsFrom(sent) {
				data, _ := json.Marshal(ev)
				fmt.Fprintf(w, "data: %s\n\n", data)
				sent++
			}
			result, _ := run.Wait()
			final := map[string]any{"done": true}
			if result != nil {
				final["outcome"] = result.Outcome
			}
			data, _ := json.Marshal(final)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
			return
		case <-r.Context().Done():
			return
		case <-time.After(100 * time.Millisecond):
			// Poll again
		}
	}
}

// handleEventSummary handles GET /runs/{id}/events/summary.
func (s *Server) handleEventSummary(w http.ResponseWriter, r *http.Request) {
	run, err := s.service.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, run.Log().Summarize())
}

// handleDOT handles GET /runs/{id}/dot, returning the graph as Graphviz DOT
// with the current node statuses as fill colors.
func (s *Server) handleDOT(w http.ResponseWriter, r *http.Request) {
	run, err := s.service.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	w.Header().Set("Content-Type", "text/vnd.graphviz")
	fmt.Fprint(w, render.ToDOTWithStatus(run.Graph, run.Snapshot()))
}

// handleCancel handles POST /runs/{id}/cancel.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Cancel(chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// handleValidate handles POST /workflows/validate. Always returns 200 with
// the diagnostics; the "ok" field reports whether the workflow would run.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	doc, err := workflow.Parse(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	diags := doc.Lint(s.service.Engine().Registry())
	ok := true
	for _, d := range diags {
		if d.Severity == weft.SeverityError {
			ok = false
			break
		}
	}
	var cycleNodes []string
	if ok {
		if graph, err := doc.ToGraph(s.service.Engine().Registry()); err == nil {
			var hardCycle *weft.HardCycleError
			if _, cErr := weft.Classify(graph); errors.As(cErr, &hardCycle) {
				ok = false
				cycleNodes = hardCycle.Nodes
			}
		}
	}
	if diags == nil {
		diags = []weft.Diagnostic{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          ok,
		"diagnostics": diags,
		"cycle":       cycleNodes,
	})
}

// writeGraphError maps validation and cycle errors onto HTTP statuses.
func writeGraphError(w http.ResponseWriter, err error) {
	var validationErr *weft.ValidationError
	if errors.As(err, &validationErr) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":       validationErr.Error(),
			"diagnostics": validationErr.Diagnostics,
		})
		return
	}
	var cycleErr *weft.HardCycleError
	if errors.As(err, &cycleErr) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error": cycleErr.Error(),
			"cycle": cycleErr.Nodes,
		})
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
