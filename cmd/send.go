package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/larkgate/larkgate/internal/data"
)

// sendCmd is a connectivity check: it pushes one text message into a chat
// using the configured credentials, bypassing the pipeline.
func sendCmd() *cobra.Command {
	var chatID string

	cmd := &cobra.Command{
		Use:   "send [text]",
		Short: "Send a test message to a chat (diagnostic)",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := loadConfig()
			if err != nil {
				slog.Error("startup failed", "error", err)
				os.Exit(1)
			}
			if chatID == "" {
				slog.Error("missing --chat flag")
				os.Exit(1)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			client := data.NewFeishuClient(cfg.Feishu.AppID, cfg.Feishu.AppSecret, cfg.Feishu.BotOpenID)
			msgID, err := client.SendText(ctx, chatID, args[0])
			if err != nil {
				slog.Error("send failed", "chat_id", chatID, "error", err)
				os.Exit(1)
			}
			fmt.Printf("sent %s to %s\n", msgID, chatID)
		},
	}

	cmd.Flags().StringVar(&chatID, "chat", "", "target chat ID (oc_...)")
	return cmd
}
