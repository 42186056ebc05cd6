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

func streamCmd() *cobra.Command {
	var (
		agentID   string
		agentName string
		showLevel bool
	)

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Start a full-duplex conversation",
		Long: `Start a full-duplex conversation. Speak into the microphone; typed lines are
sent as user messages, lines starting with "/ctx " as contextual updates.
Ctrl+C ends the session.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			agentID, agentName, err := agentFlags(agentID, agentName)
			if err != nil {
				return err
			}

			devices := audio.OpenDevices(cfg.Audio, logger)
			defer devices.Close()

			out := &printer{out: cmd.OutOrStdout(), showLevel: showLevel}
			settings := conversation.SettingsFromConfig(cfg)

			session, err := voice.StartConversation(cmd.Context(), voice.SessionDeps{
				Broker:     voice.NewBrokerClient(cfg.Broker.BaseURL, cfg.Broker.SignedURLPath, cfg.Broker.APIKey, cfg.Broker.Timeout),
				Microphone: devices.Microphone,
				Lease:      voice.NewMicrophoneLease(),
				Speaker:    devices.Speaker,
				CallLog:    calllog.NewService(),
				Metrics:    observability.NewMetrics("voicectl"),
				Logger:     logger,
			}, voice.SessionOptions{
				AgentID:   agentID,
				AgentName: agentName,
				Channel:   settings.Channel,
				Capture:   settings.Capture,
				Callbacks: out.callbacks(),
			})
			if err != nil {
				return err
			}

			go func() {
				scanner := bufio.NewScanner(os.Stdin)
				for scanner.Scan() {
					line := strings.TrimSpace(scanner.Text())
					if line == "" {
						continue
					}
					var sendErr error
					if rest, ok := strings.CutPrefix(line, "/ctx "); ok {
						sendErr = session.SendContextualUpdate(rest)
					} else {
						sendErr = session.SendUserMessage(line)
					}
					if sendErr != nil {
						out.line("[error] %v", sendErr)
					}
				}
			}()

			select {
			case <-cmd.Context().Done():
				session.Stop()
			case <-session.Done():
			}

			out.line("[ended] %s, %d agent turns", session.State(), session.Transcript().AgentTurns())
			return nil
		},
	}

	cmd.Flags().StringVar(&agentID, "agent", "", "agent id (default VOICE_AGENT_ID)")
	cmd.Flags().StringVar(&agentName, "name", "", "agent display name")
	cmd.Flags().BoolVar(&showLevel, "levels", false, "print microphone levels")
	return cmd
}
