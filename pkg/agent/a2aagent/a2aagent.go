// Package a2aagent implements an inner agent that proxies runs to a remote
// A2A server. The newest user message is sent as an A2A message; streamed
// status and artifact events come back as content updates.
//
// Conversation continuity is the remote server's concern. The proxy sends
// only the current turn's input, so a remote that wants history must track
// it on its side.
package a2aagent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2aclient"
	"github.com/a2aproject/a2a-go/a2aclient/agentcard"

	"github.com/kadirpekel/aguibridge/pkg/agent"
)

const updateBuffer = 100

const defaultTimeout = 30 * time.Second

// Config configures a remote A2A agent.
type Config struct {
	// Name is the local name for this remote agent.
	Name string

	// Description describes what the remote agent does. When empty, the
	// resolved agent card's description is used.
	Description string

	// URL is the base URL of the remote A2A server. The agent card is
	// resolved from its well-known location.
	URL string

	// AgentCard provides the agent card directly and skips resolution.
	AgentCard *a2a.AgentCard

	// Headers are added to card resolution requests.
	Headers map[string]string

	// Timeout bounds card resolution.
	// Default: 30s
	Timeout time.Duration
}

// A2AAgent proxies runs to a remote A2A server.
type A2AAgent struct {
	name        string
	description string
	url         string
	headers     map[string]string
	timeout     time.Duration

	mu   sync.Mutex
	card *a2a.AgentCard
}

var _ agent.Agent = (*A2AAgent)(nil)

// New creates a remote A2A agent. The agent card is resolved lazily on the
// first run, so construction never touches the network.
func New(cfg Config) (*A2AAgent, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("agent name is required")
	}
	if cfg.URL == "" && cfg.AgentCard == nil {
		return nil, fmt.Errorf("remote agent url is required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	return &A2AAgent{
		name:        cfg.Name,
		description: cfg.Description,
		url:         cfg.URL,
		headers:     cfg.Headers,
		timeout:     timeout,
		card:        cfg.AgentCard,
	}, nil
}

func (a *A2AAgent) Name() string        { return a.name }
func (a *A2AAgent) Description() string { return a.description }

// RunStream sends the current turn to the remote agent and streams its
// response back. Failures after setup arrive in-band on Update.Err.
func (a *A2AAgent) RunStream(ctx context.Context, messages []*agent.Message, _ *agent.RunOptions) (<-chan *agent.Update, error) {
	ch := make(chan *agent.Update, updateBuffer)
	go a.run(ctx, ch, messages)
	return ch, nil
}

func (a *A2AAgent) run(ctx context.Context, ch chan<- *agent.Update, messages []*agent.Message) {
	defer close(ch)

	msg := buildMessage(messages)
	if msg == nil {
		return
	}

	card, err := a.resolveCard(ctx)
	if err != nil {
		a.send(ctx, ch, &agent.Update{Err: fmt.Errorf("agent card resolution failed: %w", err)})
		return
	}

	client, err := a2aclient.NewFromCard(ctx, card)
	if err != nil {
		a.send(ctx, ch, &agent.Update{Err: fmt.Errorf("a2a client creation failed: %w", err)})
		return
	}
	defer func() { _ = client.Destroy() }()

	req := &a2a.MessageSendParams{Message: msg}
	for event, err := range client.SendStreamingMessage(ctx, req) {
		if err != nil {
			a.send(ctx, ch, &agent.Update{Err: fmt.Errorf("remote stream failed: %w", err)})
			return
		}
		update, failure := convertEvent(event)
		if failure != nil {
			a.send(ctx, ch, &agent.Update{Err: failure})
			return
		}
		if update == nil {
			continue
		}
		if !a.send(ctx, ch, update) {
			return
		}
	}
}

// resolveCard returns the agent card, fetching and caching it on first use.
func (a *A2AAgent) resolveCard(ctx context.Context) (*a2a.AgentCard, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.card != nil {
		return a.card, nil
	}

	httpClient := &http.Client{Timeout: a.timeout}
	if len(a.headers) > 0 {
		httpClient.Transport = &headerTransport{headers: a.headers, base: http.DefaultTransport}
	}

	card, err := agentcard.NewResolver(httpClient).Resolve(ctx, a.url)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve agent card from %s: %w", a.url, err)
	}

	a.card = card
	if a.description == "" {
		a.description = card.Description
	}
	return card, nil
}

func (a *A2AAgent) send(ctx context.Context, ch chan<- *agent.Update, u *agent.Update) bool {
	select {
	case ch <- u:
		return true
	case <-ctx.Done():
		return false
	}
}

// headerTransport adds configured headers to every outgoing request.
type headerTransport struct {
	headers map[string]string
	base    http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	for k, v := range t.headers {
		clone.Header.Set(k, v)
	}
	return t.base.RoundTrip(clone)
}

// buildMessage converts the newest user message into an A2A message. Returns
// nil when there is nothing to send.
func buildMessage(messages []*agent.Message) *a2a.Message {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != agent.RoleUser {
			continue
		}
		parts := contentsToParts(messages[i].Contents)
		if len(parts) == 0 {
			return nil
		}
		return a2a.NewMessage(a2a.MessageRoleUser, parts...)
	}
	return nil
}

func contentsToParts(contents []agent.Content) []a2a.Part {
	var parts []a2a.Part
	for _, c := range contents {
		switch v := c.(type) {
		case *agent.TextContent:
			parts = append(parts, a2a.TextPart{Text: v.Text})
		case *agent.DataContent:
			parts = append(parts, a2a.FilePart{File: a2a.FileBytes{
				FileMeta: a2a.FileMeta{MimeType: v.MIMEType},
				Bytes:    string(v.Data),
			}})
		case *agent.URIContent:
			parts = append(parts, a2a.FilePart{File: a2a.FileURI{
				FileMeta: a2a.FileMeta{MimeType: v.MIMEType},
				URI:      v.URI,
			}})
		}
	}
	return parts
}

// convertEvent maps one streamed A2A event to an update. A nil update means
// the event carries nothing to forward; a non-nil error means the remote
// reported the task failed.
func convertEvent(event a2a.Event) (*agent.Update, error) {
	switch e := event.(type) {
	case *a2a.TaskStatusUpdateEvent:
		if e.Status.State == a2a.TaskStateFailed {
			return nil, fmt.Errorf("remote task failed: %s", messageText(e.Status.Message))
		}
		if e.Status.Message == nil {
			return nil, nil
		}
		contents := partsToContents(e.Status.Message.Parts)
		if len(contents) == 0 {
			return nil, nil
		}
		return &agent.Update{Contents: contents}, nil

	case *a2a.TaskArtifactUpdateEvent:
		contents := partsToContents(e.Artifact.Parts)
		if len(contents) == 0 {
			return nil, nil
		}
		return &agent.Update{Contents: contents, ResponseID: string(e.Artifact.ID)}, nil

	default:
		return nil, nil
	}
}

func partsToContents(parts []a2a.Part) []agent.Content {
	var contents []agent.Content
	for _, part := range parts {
		switch p := part.(type) {
		case a2a.TextPart:
			if p.Text != "" {
				contents = append(contents, &agent.TextContent{Text: p.Text})
			}
		case a2a.DataPart:
			if data, err := json.Marshal(p.Data); err == nil {
				contents = append(contents, &agent.DataContent{MIMEType: "application/json", Data: data})
			}
		case a2a.FilePart:
			switch f := p.File.(type) {
			case a2a.FileBytes:
				contents = append(contents, &agent.DataContent{MIMEType: f.MimeType, Data: []byte(f.Bytes)})
			case a2a.FileURI:
				contents = append(contents, &agent.URIContent{URI: f.URI, MIMEType: f.MimeType})
			}
		}
	}
	return contents
}

func messageText(msg *a2a.Message) string {
	if msg == nil {
		return "no details"
	}
	var out string
	for _, part := range msg.Parts {
		if tp, ok := part.(a2a.TextPart); ok {
			out += tp.Text
		}
	}
	if out == "" {
		return "no details"
	}
	return out
}
