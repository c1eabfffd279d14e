// Package cli implements the terminal client for the bridge: agent
// discovery, the SSE run client, and an interactive chat session that
// prompts for tool approvals.
package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/kadirpekel/aguibridge/pkg/agui"
	"github.com/kadirpekel/aguibridge/pkg/bridge"
)

// maxApprovalRounds bounds how many times one turn may pause for approval.
const maxApprovalRounds = 10

// AgentInfo is one agent card from the server's discovery endpoint.
type AgentInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Endpoint    string          `json:"endpoint"`
	Tools       []agui.ToolSpec `json:"tools,omitempty"`
}

// Client talks to a bridge server: agent discovery plus the run stream.
type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.Mutex
	cards []AgentInfo
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// Run streams stay open for the whole turn, so no client timeout.
		http: &http.Client{},
	}
}

// Discover lists the agents the server exposes. The result is cached for the
// client's lifetime.
func (c *Client) Discover(ctx context.Context) ([]AgentInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cards != nil {
		return c.cards, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/agents", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discovery request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery request failed: %s", resp.Status)
	}

	var payload struct {
		Agents []AgentInfo `json:"agents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode discovery response: %w", err)
	}
	c.cards = payload.Agents
	if c.cards == nil {
		c.cards = []AgentInfo{}
	}
	return c.cards, nil
}

// endpoint resolves an agent's run endpoint through discovery.
func (c *Client) endpoint(ctx context.Context, agentName string) (string, error) {
	cards, err := c.Discover(ctx)
	if err != nil {
		return "", err
	}
	names := make([]string, 0, len(cards))
	for _, card := range cards {
		if card.Name == agentName {
			return c.baseURL + card.Endpoint, nil
		}
		names = append(names, card.Name)
	}
	return "", fmt.Errorf("agent %q not found; available: %s", agentName, strings.Join(names, ", "))
}

// Run starts one run and returns its event stream.
func (c *Client) Run(ctx context.Context, agentName string, input *agui.RunAgentInput) (*RunStream, error) {
	endpoint, err := c.endpoint(ctx, agentName)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to encode run input: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("run request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		var failure struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&failure); err == nil && failure.Error != "" {
			return nil, fmt.Errorf("run rejected: %s", failure.Error)
		}
		return nil, fmt.Errorf("run rejected: %s", resp.Status)
	}
	return &RunStream{body: resp.Body, dec: agui.NewStreamDecoder(resp.Body)}, nil
}

// RunStream is one run's decoded SSE event stream.
type RunStream struct {
	body io.ReadCloser
	dec  *agui.StreamDecoder
}

// Next returns the next event, or io.EOF when the run stream ends.
func (s *RunStream) Next() (agui.Event, error) {
	return s.dec.Next()
}

// Close releases the underlying connection.
func (s *RunStream) Close() error {
	return s.body.Close()
}

// ChatSession is a client-side conversation. The server is stateless, so the
// session sends the full history on every run and adopts the returned
// MessagesSnapshot as the new history.
type ChatSession struct {
	client   *Client
	agent    string
	threadID string
	history  []agui.Message
	renderer *Renderer
	in       *bufio.Reader
}

// NewChatSession creates a session bound to one agent. in supplies both chat
// input and approval decisions, so it must wrap the same reader the caller
// reads from.
func NewChatSession(client *Client, agentName string, renderer *Renderer, in *bufio.Reader) *ChatSession {
	return &ChatSession{
		client:   client,
		agent:    agentName,
		threadID: uuid.New().String(),
		renderer: renderer,
		in:       in,
	}
}

// History returns the session's current wire-form history.
func (s *ChatSession) History() []agui.Message {
	return s.history
}

// Reset clears the conversation and starts a fresh thread.
func (s *ChatSession) Reset() {
	s.history = nil
	s.threadID = uuid.New().String()
}

// Send submits one user turn, streaming the response through the renderer.
// When the run pauses for approval the user is prompted and the decision is
// resubmitted as the next run.
func (s *ChatSession) Send(ctx context.Context, text string) error {
	s.history = append(s.history, agui.Message{
		ID:      uuid.New().String(),
		Role:    agui.RoleUser,
		Content: agui.String(text),
	})

	for round := 0; round < maxApprovalRounds; round++ {
		outcome, err := s.run(ctx)
		if err != nil {
			return err
		}
		if outcome.approval == nil && outcome.dialog == nil {
			return nil
		}

		approved, err := PromptDecision(s.in, outcome.approval, outcome.dialog)
		if err != nil {
			return err
		}
		s.history = append(s.history, ApprovalAnswer(outcome.approval, outcome.dialog, approved))
	}
	return fmt.Errorf("maximum approval rounds (%d) exceeded", maxApprovalRounds)
}

// turnOutcome is what one run leaves behind for the approval loop.
type turnOutcome struct {
	approval *ApprovalRequest
	dialog   *ConfirmDialog
	failed   bool
}

func (s *ChatSession) run(ctx context.Context) (*turnOutcome, error) {
	input := &agui.RunAgentInput{
		ThreadID: s.threadID,
		RunID:    uuid.New().String(),
		Messages: s.history,
	}
	stream, err := s.client.Run(ctx, s.agent, input)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	outcome := &turnOutcome{}
	var (
		snapshot     []agui.Message
		haveSnapshot bool
		assistantID  string
		text         strings.Builder
		calls        []agui.ToolCall
		callIndex    = map[string]int{}
		confirmID    string
	)

	for {
		ev, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("event stream failed: %w", err)
		}
		s.renderer.Render(ev)

		switch v := ev.(type) {
		case *agui.TextMessageStartEvent:
			if assistantID == "" {
				assistantID = v.MessageID
			}
		case *agui.TextMessageContentEvent:
			text.WriteString(v.Delta)
		case *agui.ToolCallStartEvent:
			callIndex[v.ToolCallID] = len(calls)
			calls = append(calls, agui.ToolCall{
				ID:       v.ToolCallID,
				Type:     agui.ToolCallTypeFunction,
				Function: agui.FunctionCall{Name: v.ToolCallName},
			})
			if v.ToolCallName == bridge.ConfirmChangesTool {
				confirmID = v.ToolCallID
			}
		case *agui.ToolCallArgsEvent:
			if i, ok := callIndex[v.ToolCallID]; ok {
				calls[i].Function.Arguments += v.Delta
			}
		case *agui.ToolCallEndEvent:
			if v.ToolCallID == confirmID {
				if i, ok := callIndex[confirmID]; ok {
					outcome.dialog = parseConfirmDialog(confirmID, calls[i].Function.Arguments)
				}
			}
		case *agui.CustomEvent:
			if v.Name == agui.CustomEventFunctionApprovalRequest {
				outcome.approval = ParseApprovalRequest(v.Value)
			}
		case *agui.MessagesSnapshotEvent:
			snapshot = v.Messages
			haveSnapshot = true
		case *agui.RunErrorEvent:
			outcome.failed = true
		}
	}

	if haveSnapshot {
		s.history = snapshot
	} else if text.Len() > 0 || len(calls) > 0 {
		// Runs that withhold the snapshot never emit tool results, so the
		// assistant message alone reconstructs the turn.
		msg := agui.Message{ID: assistantID, Role: agui.RoleAssistant, ToolCalls: calls}
		if msg.ID == "" {
			msg.ID = uuid.New().String()
		}
		if text.Len() > 0 {
			msg.Content = agui.String(text.String())
		}
		s.history = append(s.history, msg)
	}

	if outcome.failed {
		// The renderer already reported the error in-band; do not prompt on
		// top of a failed run.
		outcome.approval = nil
		outcome.dialog = nil
	}
	return outcome, nil
}

// Interactive runs the chat loop until EOF or an exit command.
func (s *ChatSession) Interactive(ctx context.Context) error {
	tty := isTerminal(os.Stdin)
	if tty {
		DisplayChatBanner(s.agent, s.client.baseURL)
	}

	for {
		if tty {
			DisplayChatPrompt()
		}
		line, err := s.in.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("failed to read input: %w", err)
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		switch input {
		case "exit", "/exit", "/quit":
			DisplayGoodbye()
			return nil
		case "/clear":
			s.Reset()
			fmt.Println("🧹 Conversation history cleared")
			continue
		}

		DisplayAgentPrompt(s.agent)
		if err := s.Send(ctx, input); err != nil {
			DisplayError(err)
			continue
		}
		fmt.Println()
	}
	return nil
}
