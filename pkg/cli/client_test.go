package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/kadirpekel/aguibridge/pkg/agui"
)

type runScript func(input agui.RunAgentInput) []agui.Event

// newTestServer serves discovery for one agent named "helper" and answers
// its runs from the given scripts, one per run. The returned func yields the
// decoded run inputs received so far.
func newTestServer(t *testing.T, scripts ...runScript) (*httptest.Server, func() []agui.RunAgentInput) {
	t.Helper()
	var mu sync.Mutex
	var inputs []agui.RunAgentInput

	mux := http.NewServeMux()
	mux.HandleFunc("/agents", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"agents": []AgentInfo{{Name: "helper", Description: "test agent", Endpoint: "/helper"}},
			"total":  1,
		})
	})
	mux.HandleFunc("/helper", func(w http.ResponseWriter, r *http.Request) {
		var input agui.RunAgentInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			t.Errorf("failed to decode run input: %v", err)
			return
		}
		mu.Lock()
		idx := len(inputs)
		inputs = append(inputs, input)
		mu.Unlock()

		if idx >= len(scripts) {
			t.Errorf("unexpected run %d", idx)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		sw := agui.NewSSEWriter(w)
		for _, ev := range scripts[idx](input) {
			_ = sw.WriteEvent(ev)
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, func() []agui.RunAgentInput {
		mu.Lock()
		defer mu.Unlock()
		return append([]agui.RunAgentInput(nil), inputs...)
	}
}

func assistantMessage(id, text string, calls ...agui.ToolCall) agui.Message {
	msg := agui.Message{ID: id, Role: agui.RoleAssistant, ToolCalls: calls}
	if text != "" {
		msg.Content = agui.String(text)
	}
	return msg
}

func withHistory(input agui.RunAgentInput, extra ...agui.Message) []agui.Message {
	out := append([]agui.Message{}, input.Messages...)
	return append(out, extra...)
}

func newSession(srv *httptest.Server, stdin string) *ChatSession {
	client := NewClient(srv.URL)
	in := bufio.NewReader(strings.NewReader(stdin))
	return NewChatSession(client, "helper", NewRenderer(false, false), in)
}

func TestClient_Discover(t *testing.T) {
	srv, _ := newTestServer(t)
	client := NewClient(srv.URL)

	agents, err := client.Discover(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(agents) != 1 || agents[0].Name != "helper" || agents[0].Endpoint != "/helper" {
		t.Errorf("unexpected discovery result: %+v", agents)
	}

	// The card list is cached, so a dead server no longer matters.
	srv.Close()
	again, err := client.Discover(context.Background())
	if err != nil || len(again) != 1 {
		t.Errorf("cached discovery failed: %v %+v", err, again)
	}
}

func TestClient_Run_UnknownAgent(t *testing.T) {
	srv, _ := newTestServer(t)
	client := NewClient(srv.URL)

	_, err := client.Run(context.Background(), "ghost", &agui.RunAgentInput{})
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), `agent "ghost" not found`) || !strings.Contains(err.Error(), "helper") {
		t.Errorf("error should name available agents, got %v", err)
	}
}

func TestClient_Run_Rejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/agents", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"agents": []AgentInfo{{Name: "helper", Endpoint: "/helper"}},
		})
	})
	mux.HandleFunc("/helper", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "agent offline"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := NewClient(srv.URL).Run(context.Background(), "helper", &agui.RunAgentInput{})
	if err == nil || !strings.Contains(err.Error(), "run rejected: agent offline") {
		t.Errorf("expected the server error to surface, got %v", err)
	}
}

func TestChatSession_TextTurn(t *testing.T) {
	srv, inputs := newTestServer(t, func(in agui.RunAgentInput) []agui.Event {
		return []agui.Event{
			agui.NewRunStartedEvent(in.ThreadID, in.RunID),
			agui.NewTextMessageStartEvent("m1"),
			agui.NewTextMessageContentEvent("m1", "Hi "),
			agui.NewTextMessageContentEvent("m1", "there"),
			agui.NewTextMessageEndEvent("m1"),
			agui.NewMessagesSnapshotEvent(withHistory(in, assistantMessage("m1", "Hi there"))),
			agui.NewRunFinishedEvent(in.ThreadID, in.RunID),
		}
	})
	session := newSession(srv, "")

	var err error
	output := captureOutput(func() {
		err = session.Send(context.Background(), "hello")
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(output, "Hi there") {
		t.Errorf("response text should render, got %q", output)
	}

	history := session.History()
	if len(history) != 2 {
		t.Fatalf("history should adopt the snapshot, got %d messages", len(history))
	}
	if history[0].Role != agui.RoleUser || history[0].TextContent() != "hello" {
		t.Errorf("unexpected user message: %+v", history[0])
	}
	if history[1].Role != agui.RoleAssistant || history[1].TextContent() != "Hi there" {
		t.Errorf("unexpected assistant message: %+v", history[1])
	}

	sent := inputs()
	if len(sent) != 1 {
		t.Fatalf("expected 1 run, got %d", len(sent))
	}
	if sent[0].ThreadID == "" || sent[0].RunID == "" {
		t.Error("run input should carry thread and run ids")
	}
	if len(sent[0].Messages) != 1 || sent[0].Messages[0].ID == "" {
		t.Errorf("run input should carry the user message: %+v", sent[0].Messages)
	}
}

func TestChatSession_ApprovalApproved(t *testing.T) {
	refundCall := agui.ToolCall{
		ID:       "c1",
		Type:     agui.ToolCallTypeFunction,
		Function: agui.FunctionCall{Name: "refund", Arguments: `{"amount":50}`},
	}
	approvalValue := map[string]any{
		"id": "a1",
		"function_call": map[string]any{
			"call_id":   "c1",
			"name":      "refund",
			"arguments": `{"amount":50}`,
		},
	}

	srv, inputs := newTestServer(t,
		func(in agui.RunAgentInput) []agui.Event {
			return []agui.Event{
				agui.NewRunStartedEvent(in.ThreadID, in.RunID),
				agui.NewToolCallStartEvent("c1", "refund", "m1"),
				agui.NewToolCallArgsEvent("c1", `{"amount":50}`),
				agui.NewToolCallEndEvent("c1"),
				agui.NewCustomEvent(agui.CustomEventFunctionApprovalRequest, approvalValue),
				agui.NewMessagesSnapshotEvent(withHistory(in, assistantMessage("m1", "", refundCall))),
				agui.NewRunFinishedEvent(in.ThreadID, in.RunID),
			}
		},
		func(in agui.RunAgentInput) []agui.Event {
			return []agui.Event{
				agui.NewRunStartedEvent(in.ThreadID, in.RunID),
				agui.NewToolCallResultEvent("r1", "c1", "refunded"),
				agui.NewTextMessageStartEvent("m2"),
				agui.NewTextMessageContentEvent("m2", "Done."),
				agui.NewTextMessageEndEvent("m2"),
				agui.NewMessagesSnapshotEvent(withHistory(in, assistantMessage("m2", "Done."))),
				agui.NewRunFinishedEvent(in.ThreadID, in.RunID),
			}
		},
	)
	session := newSession(srv, "y\n")

	var err error
	output := captureOutput(func() {
		err = session.Send(context.Background(), "refund order 7")
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(output, "Approval required") || !strings.Contains(output, "refund") {
		t.Errorf("the approval prompt should render, got %q", output)
	}
	if !strings.Contains(output, "Done.") {
		t.Errorf("the resumed run should render, got %q", output)
	}

	sent := inputs()
	if len(sent) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(sent))
	}
	if sent[0].ThreadID != sent[1].ThreadID {
		t.Error("both runs should share the thread")
	}
	if sent[0].RunID == sent[1].RunID {
		t.Error("each run should carry a fresh run id")
	}

	second := sent[1]
	last := second.Messages[len(second.Messages)-1]
	if last.Role != agui.RoleTool || last.ToolCallID != "c1" {
		t.Errorf("the decision should answer the original call: %+v", last)
	}
	if !strings.Contains(last.TextContent(), `"accepted":true`) {
		t.Errorf("unexpected decision content: %q", last.TextContent())
	}

	if len(session.History()) != 4 {
		t.Errorf("history should hold the resolved conversation, got %d messages", len(session.History()))
	}
}

func TestChatSession_ConfirmDialogDenied(t *testing.T) {
	dialogArgs := `{"function_name":"write_doc","function_call_id":"c9",` +
		`"function_arguments":{"doc":"x"},` +
		`"steps":[{"description":"Execute write_doc","status":"enabled"}]}`
	confirmCall := agui.ToolCall{
		ID:       "cf1",
		Type:     agui.ToolCallTypeFunction,
		Function: agui.FunctionCall{Name: "confirm_changes", Arguments: dialogArgs},
	}
	approvalValue := map[string]any{
		"id": "a2",
		"function_call": map[string]any{
			"call_id":   "c9",
			"name":      "write_doc",
			"arguments": `{"doc":"x"}`,
		},
	}

	srv, inputs := newTestServer(t,
		func(in agui.RunAgentInput) []agui.Event {
			return []agui.Event{
				agui.NewRunStartedEvent(in.ThreadID, in.RunID),
				agui.NewToolCallStartEvent("cf1", "confirm_changes", ""),
				agui.NewToolCallArgsEvent("cf1", dialogArgs),
				agui.NewToolCallEndEvent("cf1"),
				agui.NewCustomEvent(agui.CustomEventFunctionApprovalRequest, approvalValue),
				agui.NewMessagesSnapshotEvent(withHistory(in, assistantMessage("m1", "", confirmCall))),
				agui.NewRunFinishedEvent(in.ThreadID, in.RunID),
			}
		},
		func(in agui.RunAgentInput) []agui.Event {
			return []agui.Event{
				agui.NewRunStartedEvent(in.ThreadID, in.RunID),
				agui.NewTextMessageStartEvent("m2"),
				agui.NewTextMessageContentEvent("m2", "The changes were discarded."),
				agui.NewTextMessageEndEvent("m2"),
				agui.NewMessagesSnapshotEvent(withHistory(in, assistantMessage("m2", "The changes were discarded."))),
				agui.NewRunFinishedEvent(in.ThreadID, in.RunID),
			}
		},
	)
	session := newSession(srv, "n\n")

	var err error
	output := captureOutput(func() {
		err = session.Send(context.Background(), "rewrite the doc")
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(output, "🔧") {
		t.Errorf("the confirm dialog should not render as tool activity, got %q", output)
	}
	if !strings.Contains(output, "Execute write_doc") {
		t.Errorf("the prompt should list the plan steps, got %q", output)
	}

	sent := inputs()
	if len(sent) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(sent))
	}
	last := sent[1].Messages[len(sent[1].Messages)-1]
	if last.ToolCallID != "cf1" {
		t.Errorf("the decision should answer the confirm call, got %q", last.ToolCallID)
	}
	content := last.TextContent()
	if !strings.Contains(content, `"accepted":false`) || !strings.Contains(content, `"disabled"`) {
		t.Errorf("unexpected decision content: %q", content)
	}
}

func TestChatSession_RunError(t *testing.T) {
	srv, _ := newTestServer(t, func(in agui.RunAgentInput) []agui.Event {
		return []agui.Event{
			agui.NewRunStartedEvent(in.ThreadID, in.RunID),
			agui.NewRunErrorEvent("model quota exceeded"),
			agui.NewRunFinishedEvent(in.ThreadID, in.RunID),
		}
	})
	session := newSession(srv, "")

	var err error
	output := captureOutput(func() {
		err = session.Send(context.Background(), "hello")
	})
	if err != nil {
		t.Fatalf("in-band run errors should not fail the turn: %v", err)
	}
	if !strings.Contains(output, "[Run error: model quota exceeded]") {
		t.Errorf("the run error should render, got %q", output)
	}
	if len(session.History()) != 1 {
		t.Errorf("a failed run should leave only the user message, got %d", len(session.History()))
	}
}

func TestChatSession_Interactive(t *testing.T) {
	srv, inputs := newTestServer(t, func(in agui.RunAgentInput) []agui.Event {
		return []agui.Event{
			agui.NewRunStartedEvent(in.ThreadID, in.RunID),
			agui.NewTextMessageStartEvent("m1"),
			agui.NewTextMessageContentEvent("m1", "Hi there"),
			agui.NewTextMessageEndEvent("m1"),
			agui.NewMessagesSnapshotEvent(withHistory(in, assistantMessage("m1", "Hi there"))),
			agui.NewRunFinishedEvent(in.ThreadID, in.RunID),
		}
	})
	session := newSession(srv, "hi\n/clear\nexit\n")

	var err error
	output := captureOutput(func() {
		err = session.Interactive(context.Background())
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(output, "Hi there") {
		t.Errorf("the turn should render, got %q", output)
	}
	if !strings.Contains(output, "cleared") || !strings.Contains(output, "Goodbye") {
		t.Errorf("commands should render their confirmations, got %q", output)
	}
	if len(session.History()) != 0 {
		t.Errorf("/clear should reset the history, got %d messages", len(session.History()))
	}
	if len(inputs()) != 1 {
		t.Errorf("only the chat turn should reach the server, got %d runs", len(inputs()))
	}
}
