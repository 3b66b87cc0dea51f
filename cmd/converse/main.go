package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nuvola-ai/converse-go/internal/config"
	"github.com/nuvola-ai/converse-go/internal/version"
	"github.com/nuvola-ai/converse-go/pkg/logger"
	"github.com/nuvola-ai/converse-go/pkg/types"
	"github.com/nuvola-ai/converse-go/sdk"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	args, err := parseFlags(cfg, os.Args[1:])
	if err != nil {
		return err
	}
	if cfg.Debug {
		logger.SetLevel(logger.LevelDebug)
		logger.Debugf("config: server=%s socket=%s home=%s", cfg.ServerURL, cfg.SocketURL, cfg.ConverseHome)
	}

	if len(args) > 0 {
		switch args[0] {
		case "login":
			return loginCommand(cfg, args[1:])
		case "sessions":
			return sessionsCommand(cfg)
		case "history":
			if len(args) < 2 {
				fmt.Println("Usage: converse history <session-id>")
				return nil
			}
			return historyCommand(cfg, args[1])
		case "assistants":
			return assistantsCommand(cfg)
		case "prompts":
			return promptsCommand(cfg)
		case "chat":
			return chatCommand(cfg)
		case "help", "--help", "-h":
			printUsage()
			return nil
		case "version", "--version", "-v":
			fmt.Printf("converse %s\n", version.RichVersion())
			return nil
		default:
			fmt.Printf("Unknown command: %s\n\n", args[0])
			printUsage()
			return nil
		}
	}

	return chatCommand(cfg)
}

func loginCommand(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	token := fs.String("token", "", "bearer token")
	refresh := fs.String("refresh", "", "refresh token")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*token) == "" {
		return fmt.Errorf("missing --token")
	}

	client, err := sdk.New(sdk.Options{Config: cfg})
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.SetCredentials(*token, *refresh); err != nil {
		return err
	}
	fmt.Println("Credentials stored.")
	return nil
}

func sessionsCommand(cfg *config.Config) error {
	client, err := sdk.New(sdk.Options{Config: cfg})
	if err != nil {
		return err
	}
	defer client.Close()

	ids, err := client.Sessions()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("No local sessions.")
		return nil
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}

func historyCommand(cfg *config.Config, sessionID string) error {
	client, err := sdk.New(sdk.Options{Config: cfg})
	if err != nil {
		return err
	}
	defer client.Close()

	entries, err := client.History(sessionID)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		at := time.UnixMilli(entry.ReceivedAtMs).Format(time.RFC3339)
		if msg, err := types.ParseMessage(entry.Event); err == nil && msg.Text != "" {
			fmt.Printf("[%s] %s: %s\n", at, orDefault(msg.Role, "assistant"), msg.Text)
			continue
		}
		fmt.Printf("[%s] %s %s\n", at, entry.Event.Op, string(entry.Event.Body))
	}
	return nil
}

func assistantsCommand(cfg *config.Config) error {
	client, err := sdk.New(sdk.Options{Config: cfg})
	if err != nil {
		return err
	}
	defer client.Close()

	assistants, err := client.Assistants(context.Background())
	if err != nil {
		return err
	}
	for _, a := range assistants {
		marker := " "
		if a.Default {
			marker = "*"
		}
		fmt.Printf("%s %s\t%s\t%s\n", marker, a.ID, a.Name, a.Description)
	}
	return nil
}

func promptsCommand(cfg *config.Config) error {
	client, err := sdk.New(sdk.Options{Config: cfg})
	if err != nil {
		return err
	}
	defer client.Close()

	prompts, err := client.Prompts(context.Background())
	if err != nil {
		return err
	}
	for _, p := range prompts {
		fmt.Printf("%s: %s\n", p.Title, p.Body)
	}
	return nil
}

func chatCommand(cfg *config.Config) error {
	client, err := sdk.New(sdk.Options{Config: cfg})
	if err != nil {
		return err
	}
	defer client.Close()

	client.OnConnected(func(sessionID string) {
		fmt.Printf("Connected (session %s). Type a message, Ctrl+C to exit.\n", sessionID)
	})
	client.OnConnectionChanged(func(up bool) {
		if !up {
			fmt.Println("(connection lost, reconnecting...)")
		}
	})
	client.OnThinking(func(ev types.Event) {
		body, err := types.ParseThinking(ev)
		if err != nil || !body.Active {
			return
		}
		if body.Hint != "" {
			fmt.Printf("(thinking: %s)\n", body.Hint)
		} else {
			fmt.Println("(thinking...)")
		}
	})
	client.OnMessage(func(ev types.Event) {
		body, err := types.ParseMessage(ev)
		if err != nil || body.Text == "" {
			return
		}
		fmt.Printf("%s: %s\n", orDefault(body.Role, "assistant"), body.Text)
	})
	client.OnRecommendations(func(ev types.Event) {
		body, err := types.ParseMessage(ev)
		if err != nil {
			return
		}
		for _, rec := range body.Recommendations {
			fmt.Printf("  -> %s\n", rec.Label)
		}
	})
	client.OnSuggestions(func(ev types.Event) {
		body, err := types.ParseSuggestions(ev)
		if err != nil {
			return
		}
		for _, s := range body.Suggestions {
			fmt.Printf("  ? %s\n", s.Label)
		}
	})

	fatal := make(chan string, 1)
	client.OnError(func(message string, isFatal bool) {
		if isFatal {
			select {
			case fatal <- message:
			default:
			}
			return
		}
		logger.Warnf("session: %s", message)
	})

	if err := client.Connect(context.Background()); err != nil {
		return err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-stop:
			fmt.Println("\nBye.")
			return client.Disconnect()
		case message := <-fatal:
			return fmt.Errorf("session ended: %s", message)
		case line, ok := <-lines:
			if !ok {
				return client.Disconnect()
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if _, err := client.SendText(line); err != nil {
				logger.Warnf("send: %v", err)
			}
		}
	}
}

func parseFlags(cfg *config.Config, args []string) ([]string, error) {
	fs := flag.NewFlagSet("converse", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	debug := fs.Bool("debug", false, "enable verbose logging")
	server := fs.String("server", "", "override API base URL")

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			printUsage()
			os.Exit(0)
		}
		return nil, err
	}

	if *debug {
		cfg.Debug = true
	}
	if *server != "" {
		cfg.ServerURL = strings.TrimSuffix(*server, "/")
	}
	return fs.Args(), nil
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func printUsage() {
	fmt.Println(`Usage: converse [flags] [command]

Commands:
  chat          start an interactive session (default)
  login         store credentials (--token, --refresh)
  sessions      list local sessions
  history <id>  print a session's local history
  assistants    list available assistants
  prompts       list starter prompts
  version       print version

Flags:
  --debug       enable verbose logging
  --server URL  override the API base URL`)
}
