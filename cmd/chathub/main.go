// Package main is the chathub CLI: with no arguments (or serve) it runs
// the routing hub daemon; with a subcommand it acts as a client against
// a running hub.
//
// # Basic Usage
//
// Start the hub:
//
//	chathub
//	chathub serve
//
// Query a running hub:
//
//	chathub health
//	chathub conversations
//	chathub timeline telegram 12345 --limit 20
//
// Feed and answer the timeline:
//
//	chathub ingest --json '{"platform":"web",...}'
//	chathub respond --json '{"platform":"web","platformChatId":"c1","text":"hi"}'
//
// Run a delivery worker:
//
//	chathub deliver telegram
//
// # Environment Variables
//
//   - CHAT_ROUTER_PORT: HTTP listen port (default 3100)
//   - CHAT_ROUTER_DATA_DIR: SQLite data directory (default ./data)
//   - CHAT_ROUTER_URL: hub base URL for client commands
//   - ACS_JOB_NAME: enables the agent trigger when set
//   - ACS_URL: agent-execution service endpoint
//   - TELEGRAM_BOT_TOKEN, DISCORD_BOT_TOKEN: delivery credentials
package main

import (
	"fmt"
	"log/slog"
	"os"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := buildRootCmd(logger).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
