package main

import (
	"bufio"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/z-tavern/voiceagent/internal/audio"
	"github.com/zhouzirui/z-tavern/voiceagent/internal/observability"
	"github.com/zhouzirui/z-tavern/voiceagent/internal/service/calllog"
	"github.com/zhouzirui/z-tavern/voiceagent/internal/service/conversation"
	"github.com/zhouzirui/z-tavern/voiceagent/internal/service/voice"
)

func turnCmd() *cobra.Command {
	var (
		agentID   string
		agentName string
	)

	cmd := &cobra.Command{
		Use:   "turn",
		Short: "Start a turn-based conversation",
		Long: `Start a turn-based conversation. Recording starts automatically.
Press Enter to finish a recording early, "i" + Enter to interrupt the reply,
"q" + Enter or Ctrl+C to hang up.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			agentID, agentName, err := agentFlags(agentID, agentName)
			if err != nil {
				return err
			}

			devices := audio.OpenDevices(cfg.Audio, logger)
			defer devices.Close()

			out := &printer{out: cmd.OutOrStdout()}
			opts := conversation.SettingsFromConfig(cfg).Turn
			opts.AgentID = agentID
			opts.AgentName = agentName

			client := voice.NewTurnClient(cfg.Broker.BaseURL, cfg.Broker.VoiceChatPath, cfg.Broker.APIKey, cfg.Broker.Timeout)
			ctrl := voice.NewTurnController(voice.TurnDeps{
				Endpoint:   client,
				Fetcher:    client,
				Microphone: devices.Microphone,
				Lease:      voice.NewMicrophoneLease(),
				Speaker:    devices.Speaker,
				CallLog:    calllog.NewService(),
				Metrics:    observability.NewMetrics("voicectl"),
				Logger:     logger,
				Callbacks:  out.callbacks(),
			}, opts)
			if err := ctrl.Start(cmd.Context()); err != nil {
				return err
			}

			go func() {
				scanner := bufio.NewScanner(os.Stdin)
				for scanner.Scan() {
					switch strings.TrimSpace(scanner.Text()) {
					case "":
						ctrl.StopRecording()
					case "i":
						ctrl.Interrupt()
					case "q":
						ctrl.Hangup()
						return
					}
				}
			}()

			select {
			case <-cmd.Context().Done():
				ctrl.Hangup()
			case <-ctrl.Done():
			}

			out.line("[ended] %d exchanges", ctrl.Exchanges())
			return nil
		},
	}

	cmd.Flags().StringVar(&agentID, "agent", "", "agent id (default VOICE_AGENT_ID)")
	cmd.Flags().StringVar(&agentName, "name", "", "agent display name")
	return cmd
}
