package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/breakdown-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "breakdown-cli",
	Short: "Breaks down short-video and image posts into cited signals",
	Long: "Acquires a douyin, xiaohongshu or wechat official-account post, extracts on-screen text, " +
		"transcripts and metadata, and writes an evidence-backed breakdown report.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
