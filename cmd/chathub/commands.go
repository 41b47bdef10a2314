package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/chathub/internal/config"
	"github.com/haasonsaas/chathub/internal/events"
	"github.com/haasonsaas/chathub/internal/observability"
	"github.com/haasonsaas/chathub/internal/outbound"
	"github.com/haasonsaas/chathub/internal/service"
	"github.com/haasonsaas/chathub/internal/store"
	"github.com/haasonsaas/chathub/internal/stream"
	"github.com/haasonsaas/chathub/internal/trigger"
	"github.com/haasonsaas/chathub/internal/web"
	"github.com/haasonsaas/chathub/pkg/models"
)

const shutdownTimeout = 10 * time.Second

func buildRootCmd(logger *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "chathub",
		Short:         "Multi-platform chat routing hub",
		Long:          "chathub normalizes messages from telegram, discord and web into one persisted timeline,\nfans them out over HTTP and WebSocket, and delivers responses back to the platforms.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), logger)
		},
	}

	root.AddCommand(
		buildServeCmd(logger),
		buildHealthCmd(),
		buildConversationsCmd(),
		buildTimelineCmd(),
		buildIngestCmd(),
		buildRespondCmd(),
		buildDeliverCmd(logger),
	)
	return root
}

func buildServeCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the routing hub daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), logger)
		},
	}
}

func runServe(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st := store.New(cfg.DatabasePath(), logger)
	if err := st.Open(ctx); err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	metrics := observability.NewMetrics(nil)
	svc := service.New(st, events.NewBus(), logger)

	runner := trigger.New(trigger.Config{
		BaseURL: cfg.ACSURL,
		JobName: cfg.ACSJobName,
		SelfURL: cfg.SelfURL,
		Logger:  logger,
		Metrics: metrics,
	})
	if cfg.ACSJobName == "" {
		logger.Info("agent trigger disabled; set ACS_JOB_NAME to enable")
	}

	api := web.New(web.Config{
		Service: svc,
		Trigger: runner,
		Metrics: metrics,
		Logger:  logger,
	})
	streamAdapter := stream.New(svc, metrics, logger)
	defer streamAdapter.Close()

	mux := http.NewServeMux()
	mux.Handle("/api/", api.Handler())
	mux.Handle("/ws", streamAdapter)
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", srv.Addr, err)
	}
	logger.Info("hub listening", "addr", srv.Addr, "db", cfg.DatabasePath())

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}
	return nil
}

func newClient() (*apiClient, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return newAPIClient(cfg.HubURL), nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func buildHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check a running hub",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			var health models.Health
			if err := client.getJSON(cmd.Context(), "/api/health", nil, &health); err != nil {
				return err
			}
			return printJSON(health)
		},
	}
}

func buildConversationsCmd() *cobra.Command {
	var platform string
	var limit int

	cmd := &cobra.Command{
		Use:   "conversations",
		Short: "List conversations, newest activity first",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			query := map[string]string{}
			if platform != "" {
				query["platform"] = platform
			}
			if limit > 0 {
				query["limit"] = fmt.Sprint(limit)
			}
			var conversations []models.Conversation
			if err := client.getJSON(cmd.Context(), "/api/conversations", query, &conversations); err != nil {
				return err
			}
			return printJSON(conversations)
		},
	}
	cmd.Flags().StringVar(&platform, "platform", "", "filter by platform")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum conversations to return")
	return cmd
}

func buildTimelineCmd() *cobra.Command {
	var after, before int64
	var limit int

	cmd := &cobra.Command{
		Use:   "timeline [platform chatId]",
		Short: "Show the timeline, newest first",
		Long:  "With platform and chatId, shows one conversation's timeline; without them, the unified timeline across all conversations.",
		Args:  cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return fmt.Errorf("timeline needs both platform and chatId, or neither")
			}
			client, err := newClient()
			if err != nil {
				return err
			}

			path := "/api/timeline"
			if len(args) == 2 {
				path = fmt.Sprintf("/api/timeline/%s/%s", args[0], args[1])
			}
			query := map[string]string{}
			if cmd.Flags().Changed("after") {
				query["after"] = fmt.Sprint(after)
			}
			if cmd.Flags().Changed("before") {
				query["before"] = fmt.Sprint(before)
			}
			if limit > 0 {
				query["limit"] = fmt.Sprint(limit)
			}

			var entries []models.TimelineEntry
			if err := client.getJSON(cmd.Context(), path, query, &entries); err != nil {
				return err
			}
			return printJSON(entries)
		},
	}
	cmd.Flags().Int64Var(&after, "after", 0, "only entries with id greater than this")
	cmd.Flags().Int64Var(&before, "before", 0, "only entries with id less than this")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum entries to return")
	return cmd
}

// readBody returns the request body from --json or stdin.
func readBody(jsonFlag string) ([]byte, error) {
	if jsonFlag != "" {
		return []byte(jsonFlag), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("no input: pass --json or pipe a body on stdin")
	}
	return data, nil
}

func buildIngestCmd() *cobra.Command {
	var jsonBody string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest an inbound platform message",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readBody(jsonBody)
			if err != nil {
				return err
			}
			client, err := newClient()
			if err != nil {
				return err
			}
			var entry models.TimelineEntry
			if err := client.postJSON(cmd.Context(), "/api/messages", body, &entry); err != nil {
				return err
			}
			return printJSON(entry)
		},
	}
	cmd.Flags().StringVar(&jsonBody, "json", "", "inbound message as a JSON object")
	return cmd
}

func buildRespondCmd() *cobra.Command {
	var jsonBody string

	cmd := &cobra.Command{
		Use:   "respond",
		Short: "Record an outbound response on the timeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readBody(jsonBody)
			if err != nil {
				return err
			}
			client, err := newClient()
			if err != nil {
				return err
			}
			var entry models.TimelineEntry
			if err := client.postJSON(cmd.Context(), "/api/responses", body, &entry); err != nil {
				return err
			}
			return printJSON(entry)
		},
	}
	cmd.Flags().StringVar(&jsonBody, "json", "", "outbound response as a JSON object")
	return cmd
}

func buildDeliverCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "deliver <platform>",
		Short: "Run a delivery worker for one platform",
		Long:  "Connects to the hub's stream and forwards every outbound entry for the platform\nto the platform's API, splitting long text into platform-sized chunks.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			sender, err := buildSender(models.Platform(args[0]), cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			deliverer := outbound.New(outbound.Config{
				URL:    streamURL(cfg.HubURL),
				Sender: sender,
				Logger: logger,
			})
			go func() {
				<-ctx.Done()
				deliverer.Stop()
			}()
			deliverer.Run(ctx)
			return nil
		},
	}
}

func buildSender(platform models.Platform, cfg *config.Config) (outbound.Sender, error) {
	switch platform {
	case models.PlatformTelegram:
		if cfg.TelegramToken == "" {
			return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is not set")
		}
		return outbound.NewTelegramSender(cfg.TelegramToken)
	case models.PlatformDiscord:
		if cfg.DiscordToken == "" {
			return nil, fmt.Errorf("DISCORD_BOT_TOKEN is not set")
		}
		return outbound.NewDiscordSender(cfg.DiscordToken)
	default:
		return nil, fmt.Errorf("no delivery support for platform %q", platform)
	}
}

// streamURL derives the websocket endpoint from the hub's base URL.
func streamURL(hubURL string) string {
	ws := strings.Replace(hubURL, "https://", "wss://", 1)
	ws = strings.Replace(ws, "http://", "ws://", 1)
	return strings.TrimRight(ws, "/") + "/ws"
}
