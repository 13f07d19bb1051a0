// Package live is a client for bidirectional live generation sessions over a
// websocket, in the shape of the BidiGenerateContent protocol.
//
// # Overview
//
// A Session opens one connection, performs the setup handshake and then runs
// turns one at a time. Each turn streams paced media chunks and/or text to the
// server while the server's output (text deltas, audio buffers and output
// transcription fragments) is drained concurrently, until the server signals
// the end of its turn.
//
// # Quick Start
//
//	cfg := live.NewConfig()
//	cfg.Modalities = []live.Modality{live.ModalityText}
//
//	session, err := live.NewSession(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer session.Close()
//
//	if err := session.Connect(ctx); err != nil {
//		log.Fatal(err)
//	}
//
//	turn, err := session.SendTurn(ctx, live.TextInput("Hello? Are you there?"),
//		live.WithTextHandler(live.CreateTextPrinter(os.Stdout)))
//	if err != nil {
//		log.Fatal(err)
//	}
//	result, err := turn.Wait(ctx)
//
// # Audio
//
// Audio input is any iter.Seq[MediaChunk]; ChunkPCM and SilenceChunks build
// common ones and the session paces them at Config.ChunkInterval. Audio
// output is forwarded untouched to WithAudioHandler and to an optional Sink
// such as WAVFileSink.
//
// # Errors
//
// Every operation returns *Error values carrying a code (ErrCodeConnect,
// ErrCodeDecodeMalformed, ...). IsErrorCode and errors.Is against the
// sentinels match by code. Failures are terminal: a Failed session must be
// closed and a new one created.
//
// # Configuration
//
// NewConfig reads LIVE_* variables (and a .env file); LoadConfigFile overlays
// a YAML file on top.
package live
