package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rojolang/bidi-live-go/pkg/live"
	"github.com/rojolang/bidi-live-go/pkg/live/playback"
)

const defaultPrompt = "Hello? Gemini, are you there?"

func promptFrom(args []string) string {
	if len(args) == 0 {
		return defaultPrompt
	}
	return strings.Join(args, " ")
}

func textCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "text [prompt]",
		Short: "Send a text turn and print the text reply",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			cfg.Modalities = []live.Modality{live.ModalityText}
			cfg.EnableTranscription = false
			mustValidate(cfg)

			ctx, cancel := signalContext()
			defer cancel()
			session := openSession(ctx, cfg)
			defer session.Close()

			prompt := promptFrom(args)
			fmt.Printf("> %s\n", prompt)
			turn, err := session.SendTurn(ctx, live.TextInput(prompt),
				live.WithTextHandler(live.CreateTextPrinter(os.Stdout)))
			if err != nil {
				live.GetGlobalLogger().WithError(err).Fatal("Failed to send turn")
			}
			res, err := turn.Wait(ctx)
			printTurnSummary(res, err)
		},
	}
	return cmd
}

func audioCmd() *cobra.Command {
	var (
		outPath  string
		play     bool
		deviceID int
	)
	cmd := &cobra.Command{
		Use:   "audio [prompt]",
		Short: "Send a text turn and receive spoken audio with its transcription",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			cfg.Modalities = []live.Modality{live.ModalityAudio}
			cfg.EnableTranscription = true
			mustValidate(cfg)

			opts := []live.TurnOption{
				live.WithAudioHandler(live.ChainAudioHandlers(
					live.CreateMIMEAnnouncer(func(mimeType string) {
						fmt.Printf("Receiving audio with MIME type: %s\n", mimeType)
					}),
					live.CreateAudioProgressPrinter(os.Stderr, "."),
				)),
				live.WithTranscriptionHandler(live.CreateTranscriptionPrinter(os.Stdout)),
			}

			out := audioOutput{path: outPath, play: play}
			if cmd.Flags().Changed("device") {
				out.deviceID = &deviceID
			}

			ctx, cancel := signalContext()
			defer cancel()

			prompt := promptFrom(args)
			fmt.Printf("> %s\n", prompt)
			run, err := runAudio(ctx, cfg, prompt, out, opts...)
			if err != nil {
				live.GetGlobalLogger().WithError(err).Fatal("Audio turn failed")
			}
			printTurnSummary(run.result, run.err)

			if serr := run.turn.SinkErr(); serr != nil {
				fmt.Printf("Audio output error: %v\n", serr)
			} else if run.wav != nil {
				fmt.Printf("Audio saved to %s\n", run.wav.Path())
			}
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "audio.wav", "Write the reply audio to this WAV file")
	cmd.Flags().BoolVar(&play, "play", false, "Play the reply on the output device instead of writing a file")
	cmd.Flags().IntVar(&deviceID, "device", 0, "Output device ID (see `livechat devices`)")
	return cmd
}

type audioOutput struct {
	path     string
	play     bool
	deviceID *int
}

type audioRun struct {
	turn   *live.Turn
	result *live.TurnResult
	err    error
	wav    *live.WAVFileSink
}

// runAudio connects, opens the output and runs one turn. The output file is
// only created once the handshake succeeded. The returned error covers
// connecting and sending; the turn's own error is in audioRun.err.
func runAudio(ctx context.Context, cfg *live.Config, prompt string, out audioOutput, opts ...live.TurnOption) (*audioRun, error) {
	session, err := connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	run := &audioRun{}
	switch {
	case out.play:
		opts = append(opts, live.WithAudioSink(playback.NewSink(playback.Options{
			DeviceID: out.deviceID,
			Logger:   live.GetGlobalLogger(),
		})))
	case out.path != "":
		sink, err := live.NewWAVFileSink(out.path)
		if err != nil {
			return nil, err
		}
		run.wav = sink
		opts = append(opts, live.WithAudioSink(sink))
	}

	run.turn, err = session.SendTurn(ctx, live.TextInput(prompt), opts...)
	if err != nil {
		return nil, err
	}
	run.result, run.err = run.turn.Wait(ctx)
	return run, nil
}

func simulateCmd() *cobra.Command {
	var (
		chunks    int
		chunkSize int
		text      string
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Stream silent audio chunks and print the text reply",
		Long:  "Stream paced chunks of silent 16 kHz mono PCM, then end the turn and print the model's text reply",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			cfg.Modalities = []live.Modality{live.ModalityText}
			cfg.EnableTranscription = false
			mustValidate(cfg)

			ctx, cancel := signalContext()
			defer cancel()
			session := openSession(ctx, cfg)
			defer session.Close()

			fmt.Printf("Sending %d silent chunks of %d bytes every %s\n", chunks, chunkSize, cfg.ChunkInterval)
			input := live.AudioInput(live.SilenceChunks(chunks, chunkSize, live.DefaultInputAudioSpec())).WithText(text)
			turn, err := session.SendTurn(ctx, input,
				live.WithTextHandler(live.CreateTextPrinter(os.Stdout)))
			if err != nil {
				live.GetGlobalLogger().WithError(err).Fatal("Failed to send turn")
			}
			res, err := turn.Wait(ctx)
			printTurnSummary(res, err)
		},
	}
	cmd.Flags().IntVar(&chunks, "chunks", 3, "Number of silent chunks")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", live.SilenceChunkSize, "Chunk size in bytes")
	cmd.Flags().StringVar(&text, "text", "", "Optional text sent with the end of turn")
	return cmd
}

func checkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the API key and perform a setup handshake",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			if cfg.AuthMode == live.AuthQuery || cfg.AuthMode == live.AuthHeader {
				if err := live.ValidateAPIKey(cfg.APIKey); err != nil {
					fmt.Printf("✗ %v\n", err)
					os.Exit(1)
				}
				fmt.Println("✓ API key format looks valid")
			}
			mustValidate(cfg)

			ctx, cancel := signalContext()
			defer cancel()
			session := openSession(ctx, cfg)
			defer session.Close()
			fmt.Printf("✓ Setup complete with %s\n", live.NormalizeModel(cfg.Model))
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			cfg.PrintConfig(os.Stdout)

			issues := cfg.Validate()
			if len(issues) == 0 {
				fmt.Println("\n✓ Configuration is valid")
				return
			}
			fmt.Println("\nIssues:")
			for _, issue := range issues {
				fmt.Printf("  ✗ %s\n", issue)
			}
		},
	}
	return cmd
}

func devicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List audio devices usable with `audio --play`",
		Run: func(cmd *cobra.Command, args []string) {
			loadConfig()
			devices, err := playback.ListDevices()
			if err != nil {
				live.GetGlobalLogger().WithError(err).Error("Failed to list audio devices")
				fmt.Printf("Error listing devices: %v\n", err)
				return
			}
			fmt.Println("Available Audio Devices:")
			playback.WriteDevices(os.Stdout, devices)
		},
	}
	return cmd
}
