package transport

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/aguibridge/pkg/agent"
	"github.com/kadirpekel/aguibridge/pkg/agui"
	"github.com/kadirpekel/aguibridge/pkg/observability"
)

// internalErrorMessage masks pre-stream failures; details go to the log only.
const internalErrorMessage = "An internal error has occurred."

// handleRun is the SSE run endpoint. Once streaming begins every failure is
// an in-band event; only agent lookup and input decoding can reject early.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "agent")
	ep, ok := s.Endpoint(name)
	if !ok {
		writeJSONError(w, http.StatusNotFound, fmt.Sprintf("agent %q not found", name))
		return
	}

	defer r.Body.Close()
	var input agui.RunAgentInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil && err != io.EOF {
		slog.Debug("Rejected run request", "agent", name, "error", err)
		writeJSONError(w, http.StatusInternalServerError, internalErrorMessage)
		return
	}

	ctx, span := s.obs.Tracer("aguibridge.transport").Start(r.Context(), observability.SpanRun,
		trace.WithAttributes(
			attribute.String(observability.AttrAgentName, ep.Name),
			attribute.String(observability.AttrThreadID, input.ThreadID),
			attribute.String(observability.AttrRunID, input.RunID),
		))
	defer span.End()

	prepareSSE(w)
	w.WriteHeader(http.StatusOK)

	stream := newEventStream(ctx, w, s.obs.Metrics())
	start := time.Now()
	err := ep.Runner.Run(ctx, &input, stream.Send)
	s.obs.Metrics().RecordRun(ctx, ep.Name, time.Since(start), err)

	if err != nil {
		// The stream is already dead; there is nobody left to tell.
		span.SetStatus(codes.Error, "stream interrupted")
		slog.Debug("Run stream ended early",
			"agent", ep.Name, "events", stream.Sent(), "error", err)
		return
	}
	span.SetStatus(codes.Ok, "completed")
	slog.Debug("Run completed", "agent", ep.Name, "events", stream.Sent())
}

// handleDiscovery lists the bridged agents with their run endpoints and
// server-declared tools.
func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	base := strings.TrimRight(s.config.BasePath, "/")

	type agentCard struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Endpoint    string          `json:"endpoint"`
		Tools       []agui.ToolSpec `json:"tools,omitempty"`
	}

	endpoints := s.Endpoints()
	cards := make([]agentCard, 0, len(endpoints))
	for _, ep := range endpoints {
		cards = append(cards, agentCard{
			Name:        ep.Name,
			Description: ep.Description,
			Endpoint:    base + "/" + ep.Name,
			Tools:       ep.Tools,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"agents": cards,
		"total":  len(cards),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// ToolSpecs renders server tools in wire form for discovery.
func ToolSpecs(tools []agent.Tool) []agui.ToolSpec {
	specs := make([]agui.ToolSpec, 0, len(tools))
	for _, t := range tools {
		specs = append(specs, agui.ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return specs
}
