package main

import (
	"bufio"
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/opcode-im/opcode/internal/config"
	"github.com/opcode-im/opcode/internal/session"
	"github.com/opcode-im/opcode/internal/transport"
	"github.com/opcode-im/opcode/store/history"

	_ "modernc.org/sqlite"
)

var (
	configPath = flag.String("config", "opcode.toml", "path to the TOML config file")
	user       = flag.String("user", "", "identity to sign in as")
	token      = flag.String("token", "", "auth token passed to the server")
	verbose    = flag.Bool("v", false, "debug logging")
)

func main() {
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if *user == "" {
		fmt.Fprintln(os.Stderr, "usage: opcode -user <name> [-token <token>] [-config <file>]")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}

	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		logger.Error("history store unavailable", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	s := session.New(cfg, store, logger)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = s.Connect(ctx, *user, *token)
	cancel()
	if err != nil {
		logger.Error("connect failed", "error", err)
		os.Exit(1)
	}

	unsub := s.Subscribe(render(*user))
	defer unsub()

	fmt.Printf("signed in as %s; /help for commands\n", *user)
	runPrompt(s, cfg, *user)
}

// openStore picks sqlite when a path is configured, falling back to the
// in-memory store for throwaway runs.
func openStore(cfg *config.Config, logger *slog.Logger) (history.Store, func(), error) {
	if cfg.Storage.Path == "" {
		logger.Debug("no storage path configured, history is in-memory")
		return history.NewMemoryStore(), func() {}, nil
	}

	db, err := sql.Open("sqlite", cfg.Storage.Path)
	if err != nil {
		return nil, nil, err
	}
	store := history.NewSQLStore(db)
	if err := store.Init(context.Background()); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return store, func() { _ = db.Close() }, nil
}

// render prints each snapshot as the selected conversation's tail plus the
// connection state when it is anything but open.
func render(identity string) func(session.Snapshot) {
	var lastState transport.State = -1
	return func(snap session.Snapshot) {
		if snap.State != lastState {
			lastState = snap.State
			if snap.State != transport.StateOpen {
				fmt.Printf("-- connection: %s --\n", snap.State)
			}
		}
		if len(snap.Messages) == 0 {
			return
		}
		msg := snap.Messages[len(snap.Messages)-1]
		who := msg.Sender
		if who == identity {
			who = "you"
		}
		fmt.Printf("[%s] %s: %s\n", snap.Selected.ID, who, msg.Text)
	}
}

func runPrompt(s *session.Session, cfg *config.Config, identity string) {
	groupKey := history.GroupKey(cfg.Group.Room)
	scanner := bufio.NewScanner(os.Stdin)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		switch {
		case line == "/quit":
			cancel()
			return

		case line == "/help":
			fmt.Println("/to <user> <text>   send a direct message")
			fmt.Println("/group <text>       send to the room")
			fmt.Println("/select <user>      switch to a direct conversation")
			fmt.Println("/select group       switch back to the room")
			fmt.Println("/who                show presence")
			fmt.Println("/clear              wipe the selected conversation's local log")
			fmt.Println("/quit               exit")

		case line == "/who":
			printPresence(s, cfg)

		case line == "/clear":
			snap := currentSnapshot(s)
			if err := s.ClearConversation(ctx, snap.Selected); err != nil {
				fmt.Println("clear failed:", err)
			}

		case strings.HasPrefix(line, "/select "):
			target := strings.TrimSpace(strings.TrimPrefix(line, "/select "))
			if target == "group" || target == cfg.Group.Room {
				s.SelectConversation(groupKey)
			} else {
				s.SelectConversation(history.DirectKey(identity, target))
			}

		case strings.HasPrefix(line, "/to "):
			rest := strings.TrimSpace(strings.TrimPrefix(line, "/to "))
			peer, text, ok := strings.Cut(rest, " ")
			if !ok {
				fmt.Println("usage: /to <user> <text>")
				break
			}
			if err := s.SendMessage(ctx, text, history.DirectKey(identity, peer)); err != nil {
				fmt.Println("send failed:", err)
			}

		case strings.HasPrefix(line, "/group "):
			text := strings.TrimPrefix(line, "/group ")
			if err := s.SendMessage(ctx, text, groupKey); err != nil {
				fmt.Println("send failed:", err)
			}

		case strings.HasPrefix(line, "/"):
			fmt.Println("unknown command; /help")

		default:
			// Bare text goes to whatever conversation is selected.
			snap := currentSnapshot(s)
			if err := s.SendMessage(ctx, line, snap.Selected); err != nil {
				fmt.Println("send failed:", err)
			}
		}
		cancel()
	}
}

func printPresence(s *session.Session, cfg *config.Config) {
	snap := currentSnapshot(s)
	handles := make([]string, 0, len(snap.Presence))
	for handle := range snap.Presence {
		handles = append(handles, handle)
	}
	for _, member := range cfg.Group.Members {
		if _, ok := snap.Presence[member]; !ok {
			handles = append(handles, member)
		}
	}
	sort.Strings(handles)
	for _, handle := range handles {
		fmt.Printf("  %-12s %s\n", handle, s.Presence(handle))
	}
}

func currentSnapshot(s *session.Session) session.Snapshot {
	var snap session.Snapshot
	unsub := s.Subscribe(func(got session.Snapshot) { snap = got })
	unsub()
	return snap
}
