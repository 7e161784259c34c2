package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/agentdeck/agentdeck/internal/api"
	"github.com/agentdeck/agentdeck/internal/approval"
	"github.com/agentdeck/agentdeck/internal/attach"
	"github.com/agentdeck/agentdeck/internal/config"
	"github.com/agentdeck/agentdeck/internal/conversation"
	"github.com/agentdeck/agentdeck/internal/dispatch"
	"github.com/agentdeck/agentdeck/internal/stream"
	"github.com/agentdeck/agentdeck/internal/timeline"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive console session",
	RunE:  runChat,
}

// decisionRouter emits approval decisions over the live socket and falls
// back to the governance REST endpoint when no socket is up.
type decisionRouter struct {
	conn   *stream.Conn
	client *api.Client
}

func (r *decisionRouter) SendDecision(ctx context.Context, traceID string, approved bool) error {
	if r.conn != nil {
		if err := r.conn.SendDecision(ctx, traceID, approved); err == nil {
			return nil
		}
	}
	return r.client.Approve(ctx, traceID, approved)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client := api.New(cfg.Backend.BaseURL, cfg.Backend.Token, cfg.Backend.ChatTimeout())

	fileStore, err := conversation.NewFileStore(cfg.ConversationPath())
	if err != nil {
		return err
	}
	store := conversation.NewStore(fileStore)

	archive, err := timeline.Open(cfg.TimelinePath())
	if err != nil {
		slog.Warn("Timeline archive unavailable, continuing without it", "error", err)
		archive = nil
	} else {
		store.SetArchiver(archive)
		defer archive.Close()
	}

	var history conversation.HistorySource
	if cfg.Backend.SeedHistory {
		history = client
	}
	if err := store.Load(ctx, history); err != nil {
		return err
	}

	eventsURL, err := stream.BuildURL(cfg.Stream.EventsURL, cfg.Backend.Token)
	if err != nil {
		return err
	}
	subagentsURL := ""
	if cfg.Stream.SubagentsURL != "" {
		subagentsURL, err = stream.BuildURL(cfg.Stream.SubagentsURL, cfg.Backend.Token)
		if err != nil {
			return err
		}
	}

	router := &decisionRouter{client: client}
	var gateArchive approval.Archive
	if archive != nil {
		gateArchive = archive
	}
	gate := approval.NewGate(router, gateArchive)
	merger := stream.NewMerger(store, gate, eventsURL, subagentsURL)
	router.conn = merger.EventsConn()
	merger.OnState = func(channel string, s stream.State) {
		if s == stream.StateClosed {
			color.HiBlack("-- %s channel disconnected --", channel)
		}
	}

	stager := attach.NewStager()
	resolver := attach.NewResolver(client)
	dispatcher := dispatch.NewDispatcher(store, stager, resolver, client, gate)
	dispatcher.OnError = func(err error) {
		color.HiBlack("-- send failed: %v --", err)
	}

	for _, msg := range store.Messages() {
		renderMessage(msg)
	}
	store.Subscribe(renderMessage)

	go merger.Run(ctx)
	defer merger.Close()

	printHelp()
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(color.CyanString("you> "))
		if !scanner.Scan() {
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := runCommand(ctx, line, store, archive, client, stager, dispatcher, gate); quit {
				return nil
			}
			continue
		}
		if err := dispatcher.Send(ctx, line); errors.Is(err, dispatch.ErrSendInFlight) {
			color.Yellow("A send is already in flight, wait for it to finish.")
		}
	}
}

func runCommand(ctx context.Context, line string, store *conversation.Store, archive *timeline.Archive, client *api.Client, stager *attach.Stager, dispatcher *dispatch.Dispatcher, gate *approval.Gate) bool {
	fields := strings.Fields(line)
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/help":
		printHelp()
	case "/attach":
		if arg == "" {
			color.Yellow("usage: /attach <path>")
			break
		}
		staged, err := attach.StageFile(arg)
		if err != nil {
			color.Red("%v", err)
			break
		}
		stager.Add(staged)
		fmt.Printf("staged %s (%d bytes)\n", staged.Name, staged.Size)
	case "/attachments":
		for i, st := range stager.Snapshot() {
			fmt.Printf("%2d  %s  %d bytes\n", i, st.Name, st.Size)
		}
	case "/detach":
		idx, err := strconv.Atoi(arg)
		if err != nil {
			color.Yellow("usage: /detach <index>")
			break
		}
		stager.Remove(idx)
	case "/clear":
		if err := store.Clear(); err != nil {
			color.Red("%v", err)
		}
		if archive != nil {
			if err := archive.ClearMessages(); err != nil {
				slog.Warn("Clear archive failed", "error", err)
			}
		}
		if err := client.ClearHistory(ctx); err != nil {
			slog.Warn("Clear backend history failed", "error", err)
		}
		fmt.Println("conversation cleared")
	case "/regen":
		if err := dispatcher.RegenerateLast(ctx); errors.Is(err, dispatch.ErrSendInFlight) {
			color.Yellow("A send is already in flight, wait for it to finish.")
		}
	case "/approvals":
		pending := gate.Pending()
		if len(pending) == 0 {
			fmt.Println("no pending approvals")
			break
		}
		for _, p := range pending {
			fmt.Printf("%s  %s by %s (tier %s): %s\n", p.TraceID, p.ActionType, p.Agent, p.GovernanceTier, p.Reason)
		}
	case "/approve", "/reject":
		if arg == "" {
			color.Yellow("usage: %s <trace-id>", fields[0])
			break
		}
		var err error
		if fields[0] == "/approve" {
			err = gate.Approve(ctx, arg)
		} else {
			err = gate.Reject(ctx, arg)
		}
		switch {
		case errors.Is(err, approval.ErrNotPending):
			color.Yellow("no pending approval %s", arg)
		case err != nil:
			color.Red("decision failed: %v", err)
		default:
			fmt.Printf("decision sent for %s\n", arg)
		}
	default:
		color.Yellow("unknown command %s", fields[0])
	}
	return false
}

func printHelp() {
	color.HiBlack("commands: /attach <path>  /attachments  /detach <n>  /clear  /regen  /approvals  /approve <id>  /reject <id>  /quit")
}

func renderMessage(msg conversation.Message) {
	switch msg.Role {
	case conversation.RoleUser:
		color.Cyan("you  %s", msg.Content)
	case conversation.RoleAssistant:
		if msg.Metadata != nil && msg.Metadata.Error {
			color.Red("bot  %s", msg.Content)
			return
		}
		color.Green("bot  %s", msg.Content)
		if msg.Metadata != nil {
			for _, c := range msg.Metadata.Citations {
				color.HiBlack("     [%s] %s", c.Type, c.Title)
			}
			for _, s := range msg.Metadata.Suggestions {
				color.HiBlack("     ? %s", s)
			}
		}
	case conversation.RoleQuestion:
		color.Yellow("ask  %s", msg.Content)
		for _, opt := range msg.Options {
			color.Yellow("     - %s", opt)
		}
	case conversation.RoleNotification:
		color.Magenta("note %s", msg.Content)
	default:
		color.HiBlack("sys  %s", msg.Content)
	}
	for _, att := range msg.Attachments {
		color.HiBlack("     + %s (%s)", att.Name, att.Reference)
	}
}
