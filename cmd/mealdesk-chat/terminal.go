// ABOUTME: Interactive terminal loop for mealdesk-chat
// ABOUTME: Renders session changes and turns slash commands into session calls

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/2389/mealdesk/internal/chat"
	"github.com/2389/mealdesk/internal/store"
)

// chatSession is the part of *chat.Session the terminal drives.
type chatSession interface {
	Send(ctx context.Context, text string) bool
	MarkAllRead(ctx context.Context) error
	Reconnect(ctx context.Context) error
	SetMode(ctx context.Context, mode chat.Mode) error
	State() chat.ConnectionState
	Mode() chat.Mode
	Messages() []*store.ChatMessage
	UnreadCount() int
}

type terminal struct {
	mu      sync.Mutex
	out      io.Writer
	outgoing store.Role
}

func newTerminal(out io.Writer, mode chat.Mode) *terminal {
	return &terminal{out: out, outgoing: mode.OutgoingRole()}
}

func (t *terminal) printBanner(gatewayURL string, mode chat.Mode) {
	t.mu.Lock()
	defer t.mu.Unlock()

	color.New(color.FgCyan, color.Bold).Fprintln(t.out, "mealdesk support chat")
	color.New(color.FgHiBlack).Fprintf(t.out, "gateway: %s  mode: %s\n", gatewayURL, mode)
	fmt.Fprintln(t.out, "Type a message and press Enter. /help for commands. Ctrl+C to quit.")
	fmt.Fprintln(t.out)
}

// onChange renders one session change. It is the session listener.
func (t *terminal) onChange(c chat.Change) {
	t.mu.Lock()
	defer t.mu.Unlock()

	gray := color.New(color.FgHiBlack)
	switch c.Kind {
	case chat.ChangeStatus:
		line := fmt.Sprintf("[%s]", c.Status)
		if c.Room != "" {
			line += " room " + c.Room
		}
		switch c.Status {
		case chat.StatusConnected:
			color.New(color.FgGreen).Fprintln(t.out, line)
		case chat.StatusError:
			color.New(color.FgRed).Fprintln(t.out, line)
		default:
			gray.Fprintln(t.out, line)
		}
	case chat.ChangeHistory:
		if len(c.Messages) == 0 {
			return
		}
		gray.Fprintf(t.out, "── %d earlier messages ──\n", len(c.Messages))
		for _, msg := range c.Messages {
			t.printMessageLocked(msg)
		}
		gray.Fprintln(t.out, "──")
	case chat.ChangeMessage:
		t.printMessageLocked(c.Message)
	case chat.ChangeIncoming:
		// Ring the bell for unseen replies
		fmt.Fprint(t.out, "\a")
		gray.Fprintf(t.out, "(%d unread, /read to clear)\n", c.Unread)
	}
}

func (t *terminal) printMessageLocked(msg *store.ChatMessage) {
	if msg == nil {
		return
	}

	outgoing := t.outgoing

	label := string(msg.SenderRole)
	if msg.SenderRole == store.RoleAgent && msg.AgentID != nil {
		label = "agent " + *msg.AgentID
	}

	stamp := color.HiBlackString(msg.CreatedAt.Local().Format("15:04"))
	if msg.SenderRole == outgoing {
		fmt.Fprintf(t.out, "%s %s %s\n", stamp, color.BlueString("you:"), msg.Content)
		return
	}

	marker := " "
	if !msg.Read {
		marker = color.YellowString("•")
	}
	fmt.Fprintf(t.out, "%s%s %s %s\n", marker, stamp, color.MagentaString(label+":"), msg.Content)
}

func (t *terminal) println(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format+"\n", args...)
}

func (t *terminal) printError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	color.New(color.FgRed).Fprintf(t.out, "[error] %v\n", err)
}

// parseCommand splits a slash command from its argument. ok is false for
// plain chat text.
func parseCommand(line string) (cmd, arg string, ok bool) {
	if !strings.HasPrefix(line, "/") {
		return "", "", false
	}
	cmd, arg, _ = strings.Cut(line, " ")
	return cmd, strings.TrimSpace(arg), true
}

// loop reads lines from in until EOF, /quit or ctx cancellation.
func (t *terminal) loop(ctx context.Context, in io.Reader, session chatSession) error {
	lines := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errCh <- scanner.Err()
	}()

	for {
		var input string
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("reading input: %w", err)
			}
			return nil
		case input = <-lines:
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if quit := t.handle(ctx, session, input); quit {
			return nil
		}
	}
}

// handle runs one line of input. It returns true when the user quits.
func (t *terminal) handle(ctx context.Context, session chatSession, input string) bool {
	cmd, arg, isCommand := parseCommand(input)
	if !isCommand {
		if !session.Send(ctx, input) {
			t.printError(fmt.Errorf("not sent (status %s)", session.State().Status))
		}
		return false
	}

	switch cmd {
	case "/quit", "/exit", "/q":
		return true
	case "/help":
		t.printHelp()
	case "/read":
		if err := session.MarkAllRead(ctx); err != nil {
			t.printError(err)
			return false
		}
		t.println("marked read")
	case "/reconnect":
		if err := session.Reconnect(ctx); err != nil {
			t.printError(err)
		}
	case "/customer":
		if arg == "" {
			t.printError(fmt.Errorf("usage: /customer <id>"))
			return false
		}
		mode := chat.AgentFor(arg)
		t.mu.Lock()
		t.outgoing = mode.OutgoingRole()
		t.mu.Unlock()
		if err := session.SetMode(ctx, mode); err != nil {
			t.printError(err)
		}
	case "/history":
		msgs := session.Messages()
		t.mu.Lock()
		for _, msg := range msgs {
			t.printMessageLocked(msg)
		}
		t.mu.Unlock()
	case "/status":
		t.printStatus(session)
	default:
		t.printError(fmt.Errorf("unknown command %s, try /help", cmd))
	}
	return false
}

func (t *terminal) printStatus(session chatSession) {
	state := session.State()

	t.mu.Lock()
	defer t.mu.Unlock()

	fmt.Fprintf(t.out, "status:     %s\n", state.Status)
	fmt.Fprintf(t.out, "room:       %s\n", state.Room)
	fmt.Fprintf(t.out, "mode:       %s\n", session.Mode())
	fmt.Fprintf(t.out, "unread:     %d\n", session.UnreadCount())
	fmt.Fprintf(t.out, "retries:    %d\n", state.RetryCount)
	if !state.LastHeartbeat.IsZero() {
		fmt.Fprintf(t.out, "heartbeat:  %s ago\n", time.Since(state.LastHeartbeat).Round(time.Second))
	}
	if state.LastError != nil {
		fmt.Fprintf(t.out, "last error: %v\n", state.LastError)
	}
}

func (t *terminal) printHelp() {
	t.mu.Lock()
	defer t.mu.Unlock()

	fmt.Fprintln(t.out, "Commands:")
	fmt.Fprintln(t.out, "  /read            Mark incoming messages read")
	fmt.Fprintln(t.out, "  /history         Reprint the conversation")
	fmt.Fprintln(t.out, "  /status          Show connection state")
	fmt.Fprintln(t.out, "  /reconnect       Drop the connection and start over")
	fmt.Fprintln(t.out, "  /customer <id>   Agents: switch to a customer's room")
	fmt.Fprintln(t.out, "  /help            Show this help")
	fmt.Fprintln(t.out, "  /quit            Exit")
}
