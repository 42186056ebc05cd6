package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/z-tavern/voiceagent/internal/config"
	"github.com/zhouzirui/z-tavern/voiceagent/internal/observability"
)

var (
	logLevel string
	pretty   bool

	cfg    *config.Config
	logger zerolog.Logger
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "voicectl",
		Short: "Talk to a voice agent from the terminal",
		Long: `voicectl drives a voice agent conversation with the local microphone and speaker.

stream  full-duplex session over the realtime channel
turn    record, send, play, repeat over the request/response endpoint
wav     wrap raw PCM16 into a WAV container`,
		SilenceUsage:      true,
		PersistentPreRunE: initRuntime,
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (default from LOG_LEVEL)")
	rootCmd.PersistentFlags().BoolVar(&pretty, "pretty", true, "human readable logs on stderr")

	rootCmd.AddCommand(streamCmd(), turnCmd(), wavCmd())
	return rootCmd
}

func initRuntime(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	loaded, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	cfg = loaded

	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	logger = observability.Setup(level, pretty || cfg.Log.Pretty)
	return nil
}

// agentFlags 返回命令行或环境变量中的智能体
func agentFlags(agentID, agentName string) (string, string, error) {
	if agentID == "" {
		agentID = cfg.Agent.ID
	}
	if agentName == "" {
		agentName = cfg.Agent.Name
	}
	if agentID == "" {
		return "", "", fmt.Errorf("agent id is required (--agent or VOICE_AGENT_ID)")
	}
	return agentID, agentName, nil
}
