package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/kadirpekel/aguibridge/pkg/agui"
	"github.com/kadirpekel/aguibridge/pkg/bridge"
)

const (
	colorReset = "\033[0m"
	colorRed   = "\033[31m"
	colorGreen = "\033[32m"
	colorGray  = "\033[90m"
	colorDim   = "\033[2m"
)

// resultPreviewLen caps how much of a tool result verbose mode prints.
const resultPreviewLen = 120

// Renderer formats AG-UI events for terminal display. Text deltas print as
// they arrive; tool activity renders as one line per call.
type Renderer struct {
	verbose   bool
	useColors bool

	inText   bool
	openTool string
}

// NewRenderer creates a renderer. verbose adds lifecycle and state lines;
// useColors enables ANSI colors.
func NewRenderer(verbose, useColors bool) *Renderer {
	return &Renderer{
		verbose:   verbose,
		useColors: useColors,
	}
}

// Render processes one AG-UI event and prints its terminal representation.
func (r *Renderer) Render(ev agui.Event) {
	switch v := ev.(type) {
	case *agui.RunStartedEvent:
		if r.verbose {
			fmt.Printf("%s\n", r.paint(colorGray, fmt.Sprintf("[Run %s started]", v.RunID)))
		}
	case *agui.RunFinishedEvent:
		r.breakLine()
		if r.verbose {
			fmt.Printf("%s\n", r.paint(colorGray, fmt.Sprintf("[Run %s finished]", v.RunID)))
		}
	case *agui.RunErrorEvent:
		r.breakLine()
		fmt.Printf("%s\n", r.paint(colorRed, fmt.Sprintf("[Run error: %s]", v.Message)))

	case *agui.TextMessageStartEvent:
		if r.verbose {
			fmt.Printf("%s\n", r.paint(colorGray, fmt.Sprintf("[Message %s started]", v.MessageID)))
		}
	case *agui.TextMessageContentEvent:
		fmt.Print(v.Delta)
		r.inText = true
		r.flush()
	case *agui.TextMessageEndEvent:
		// Silent; the next event decides whether a newline is needed.

	case *agui.ToolCallStartEvent:
		r.handleToolCallStart(v)
	case *agui.ToolCallArgsEvent:
		if r.verbose && r.openTool == v.ToolCallID {
			fmt.Print(".")
			r.flush()
		}
	case *agui.ToolCallEndEvent:
		r.handleToolCallEnd(v)
	case *agui.ToolCallResultEvent:
		r.handleToolCallResult(v)

	case *agui.StateSnapshotEvent:
		if r.verbose {
			compact, _ := json.Marshal(v.Snapshot)
			fmt.Printf("%s\n", r.paint(colorGray, fmt.Sprintf("[State: %s]", compact)))
		}
	case *agui.StateDeltaEvent:
		if r.verbose {
			fmt.Printf("%s\n", r.paint(colorGray, fmt.Sprintf("[State delta: %d op(s)]", len(v.Delta))))
		}

	case *agui.CustomEvent:
		// Approval requests render through the prompt, not as raw events.
		if v.Name == agui.CustomEventFunctionApprovalRequest {
			return
		}
		if r.verbose {
			fmt.Printf("%s\n", r.paint(colorGray, fmt.Sprintf("[%s]", v.Name)))
		}
	}
}

func (r *Renderer) handleToolCallStart(v *agui.ToolCallStartEvent) {
	// The confirm dialog renders through the approval prompt.
	if v.ToolCallName == bridge.ConfirmChangesTool {
		return
	}
	r.breakLine()
	fmt.Printf("🔧 %s ", v.ToolCallName)
	r.openTool = v.ToolCallID
	r.flush()
}

func (r *Renderer) handleToolCallEnd(v *agui.ToolCallEndEvent) {
	if r.openTool != v.ToolCallID {
		return
	}
	if r.useColors {
		fmt.Print(colorGreen + "✓" + colorReset + "\n")
	} else {
		fmt.Print("✓\n")
	}
	r.openTool = ""
	r.flush()
}

func (r *Renderer) handleToolCallResult(v *agui.ToolCallResultEvent) {
	if strings.HasPrefix(v.Content, "Error:") {
		r.breakLine()
		fmt.Printf("%s\n", r.paint(colorRed, "✗ "+v.Content))
		r.flush()
		return
	}
	if r.verbose {
		r.breakLine()
		fmt.Printf("%s\n", r.paint(colorDim, "→ "+truncate(v.Content, resultPreviewLen)))
		r.flush()
	}
}

// breakLine terminates an open text line so status lines start at column zero.
func (r *Renderer) breakLine() {
	if r.inText {
		fmt.Println()
		r.inText = false
	}
}

func (r *Renderer) paint(color, s string) string {
	if !r.useColors {
		return s
	}
	return color + s + colorReset
}

func (r *Renderer) flush() {
	os.Stdout.Sync()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

// DisplayAgentList displays a formatted list of bridged agents.
func DisplayAgentList(agents []AgentInfo, serverURL string) {
	fmt.Printf("\n📋 Available Agents (%s)\n\n", serverURL)
	fmt.Printf("Found %d agent(s):\n\n", len(agents))

	for _, a := range agents {
		fmt.Printf("• %s\n", a.Name)
		if a.Description != "" {
			fmt.Printf("  Description: %s\n", a.Description)
		}
		if a.Endpoint != "" {
			fmt.Printf("  Endpoint: %s\n", a.Endpoint)
		}
		if len(a.Tools) > 0 {
			names := make([]string, 0, len(a.Tools))
			for _, t := range a.Tools {
				names = append(names, t.Name)
			}
			fmt.Printf("  Tools: %s\n", strings.Join(names, ", "))
		}
		fmt.Println()
	}

	fmt.Println("💡 Use 'aguibridge chat <agent>' to start a conversation")
}

// DisplayChatBanner displays the chat session header.
func DisplayChatBanner(agentID, serverURL string) {
	fmt.Printf("\n🤖 Chat with %s at %s (type 'exit' to quit)\n\n", agentID, serverURL)
}

// DisplayChatPrompt displays a chat input prompt.
func DisplayChatPrompt() {
	fmt.Print("You: ")
}

// DisplayAgentPrompt displays an agent response prompt.
func DisplayAgentPrompt(agentID string) {
	fmt.Printf("\n%s: ", agentID)
}

// DisplayGoodbye displays a goodbye message.
func DisplayGoodbye() {
	fmt.Println("👋 Goodbye!")
}

// DisplayError displays an error message.
func DisplayError(err error) {
	fmt.Printf("❌ Error: %v\n", err)
}
