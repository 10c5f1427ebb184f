// ABOUTME: "watch" subcommand that follows an agent's live event streams
// ABOUTME: Loads history, feeds events through the reconcile views and prints what changed

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/events"
	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/forward"
	"github.com/AdithyaVardhanReddyM/Sure-AI/internal/reconcile"
)

type watchOptions struct {
	baseURL        string
	agentID        string
	messages       bool
	conversationID string
	sessionID      string
	token          string
	verbose        bool
}

func parseWatchFlags(args []string, defaultURL string) (watchOptions, error) {
	var opts watchOptions

	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.baseURL, "url", defaultURL, "Gateway base URL")
	fs.StringVar(&opts.agentID, "agent", "", "Agent ID to follow")
	fs.BoolVar(&opts.messages, "messages", false, "Follow messages instead of new conversations")
	fs.StringVar(&opts.conversationID, "conversation", "", "Only show one conversation's messages")
	fs.StringVar(&opts.sessionID, "session", "", "Contact session of --conversation")
	fs.StringVar(&opts.token, "token", "", "Operator token for loading history (default from config)")
	fs.BoolVar(&opts.verbose, "v", false, "Log reconnects")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}
	if opts.conversationID != "" {
		opts.messages = true
	}
	if opts.agentID == "" && !opts.messages {
		return opts, errors.New("--agent is required")
	}
	return opts, nil
}

// streamURL builds the SSE endpoint for opts. An empty agent on the message
// stream asks for the global topic.
func (o watchOptions) streamURL() string {
	path := forward.ConversationsPath
	if o.messages {
		path = forward.MessagesPath
	}
	u := strings.TrimRight(o.baseURL, "/") + path
	if o.agentID != "" {
		u += "?agentId=" + url.QueryEscape(o.agentID)
	}
	return u
}

func runWatch(ctx context.Context, args []string) error {
	defaultURL := "http://localhost:8080"
	var defaultToken string
	if cfg, err := loadConfig(getConfigPath()); err == nil {
		defaultURL = gatewayURL(cfg)
		defaultToken = cfg.Auth.OperatorToken
	}

	opts, err := parseWatchFlags(args, defaultURL)
	if err != nil {
		return err
	}
	if opts.token == "" {
		opts.token = defaultToken
	}

	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(newColorHandler(os.Stderr, level))

	printer := newEventPrinter(os.Stdout, opts)

	historyCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	loaded, err := loadHistory(historyCtx, http.DefaultClient, opts, printer)
	cancel()
	if err != nil {
		logger.Warn("loading history failed, showing live events only", "error", err)
	} else if loaded > 0 {
		color.New(color.FgHiBlack).Fprintf(os.Stderr, "loaded %d from history\n", loaded)
	}

	watcher := reconcile.NewWatcher(opts.streamURL(),
		reconcile.WithBackoff(500*time.Millisecond, 30*time.Second),
		reconcile.WithLogger(logger),
	)

	color.New(color.FgHiBlack).Fprintf(os.Stderr, "watching %s\n", opts.streamURL())
	return watcher.Run(ctx, printer.handle)
}

// eventPrinter applies events to a local view and prints the ones that
// changed it.
type eventPrinter struct {
	out      io.Writer
	inbox    *reconcile.Inbox
	timeline *reconcile.Timeline
}

func newEventPrinter(out io.Writer, opts watchOptions) *eventPrinter {
	p := &eventPrinter{out: out}
	switch {
	case opts.conversationID != "":
		p.timeline = reconcile.NewTimeline(opts.conversationID, opts.sessionID)
	case !opts.messages:
		p.inbox = reconcile.NewInbox(opts.agentID)
	}
	return p
}

func (p *eventPrinter) handle(env events.Envelope) {
	if c, ok := env.(events.Connected); ok {
		agent := c.AgentID
		if agent == "" {
			agent = "all agents"
		}
		color.New(color.FgGreen).Fprintf(p.out, "● connected (%s)\n", agent)
		return
	}

	outcome := reconcile.Appended
	switch {
	case p.inbox != nil:
		outcome = p.inbox.Apply(env)
	case p.timeline != nil:
		outcome = p.timeline.Apply(env)
	}
	if outcome == reconcile.Ignored || outcome == reconcile.Duplicate {
		return
	}

	switch e := env.(type) {
	case events.NewConversation:
		p.printConversation(e.ConversationID, e.Status, e.CreatedAt)
	case events.NewMessage:
		p.printMessage(e.Role, e.ConversationID, e.Content, e.CreatedAt)
	}
}

// loadTimeline seeds the timeline and prints what it accepted.
func (p *eventPrinter) loadTimeline(entries []reconcile.Entry) int {
	before := len(p.timeline.Entries())
	added := p.timeline.Load(entries)
	for _, e := range p.timeline.Entries()[before:] {
		p.printMessage(e.Role, e.ConversationID, e.Content, e.CreatedAt)
	}
	return added
}

// loadInbox seeds the inbox and prints it oldest first so the newest
// conversation ends up just above the live ones.
func (p *eventPrinter) loadInbox(entries []reconcile.InboxEntry) int {
	before := len(p.inbox.Entries())
	added := p.inbox.Load(entries)
	loaded := p.inbox.Entries()[before:]
	for i := len(loaded) - 1; i >= 0; i-- {
		p.printConversation(loaded[i].ConversationID, loaded[i].Status, loaded[i].CreatedAt)
	}
	return added
}

func (p *eventPrinter) printConversation(id, status string, createdAt time.Time) {
	fmt.Fprintf(p.out, "%s %s %s %s\n",
		color.HiBlackString(createdAt.Local().Format("15:04:05")),
		color.CyanString("conversation"),
		id,
		color.YellowString(status),
	)
}

func (p *eventPrinter) printMessage(role, conversationID, content string, createdAt time.Time) {
	fmt.Fprintf(p.out, "%s %s %s %s\n",
		color.HiBlackString(createdAt.Local().Format("15:04:05")),
		roleLabel(role),
		color.HiBlackString(conversationID),
		content,
	)
}

func roleLabel(role string) string {
	switch role {
	case events.RoleUser:
		return color.BlueString("visitor")
	case events.RoleAssistant:
		return color.MagentaString("assistant")
	case events.RoleHumanAgent:
		return color.GreenString("operator")
	default:
		return role
	}
}
