package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/z-tavern/voiceagent/internal/service/voice"
)

func wavCmd() *cobra.Command {
	var sampleRate int

	cmd := &cobra.Command{
		Use:   "wav [input.pcm|-] [output.wav]",
		Short: "Wrap raw PCM16 mono audio into a WAV file",
		Args:  cobra.ExactArgs(2),
		// 不需要配置与日志
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			n, err := convertPCM(in, args[1], sampleRate)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", args[1], n)
			return nil
		},
	}

	cmd.Flags().IntVar(&sampleRate, "rate", voice.DefaultSampleRate, "sample rate of the input")
	return cmd
}

func convertPCM(in io.Reader, outPath string, sampleRate int) (int, error) {
	pcm, err := io.ReadAll(in)
	if err != nil {
		return 0, fmt.Errorf("read pcm: %w", err)
	}
	wav := voice.BuildWAVFromPCM(pcm, sampleRate)
	if err := os.WriteFile(outPath, wav, 0o644); err != nil {
		return 0, fmt.Errorf("write wav: %w", err)
	}
	return len(wav), nil
}
