package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dkeye/voicelink/internal/adapters/google"
	"github.com/dkeye/voicelink/internal/adapters/rtc"
	sig "github.com/dkeye/voicelink/internal/adapters/signal"
	"github.com/dkeye/voicelink/internal/app/peer"
	"github.com/dkeye/voicelink/internal/app/speech"
	"github.com/dkeye/voicelink/internal/app/stt"
	"github.com/dkeye/voicelink/internal/config"
	"github.com/dkeye/voicelink/internal/core"
	"github.com/dkeye/voicelink/internal/domain"
	"github.com/dkeye/voicelink/internal/media"
)

const testText = "안녕하세요. 테스트 입니다."

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	flags := pflag.NewFlagSet("peer", pflag.ExitOnError)
	flags.String("relay.url", "ws://localhost:5004/api/ws/signal", "relay websocket url")
	flags.String("relay.room", "", "room to join")
	flags.String("media.input", "", "Ogg/Opus file used as the microphone (empty: silence)")
	flags.Bool("media.loop", false, "loop the input file")
	flags.String("media.output_dir", "./out", "directory for received audio and synthesized speech")
	offer := flags.Bool("offer", false, "create the offer once joined")
	withSTT := flags.Bool("stt", false, "transcribe the local input and relay the text")
	sendTest := flags.Bool("text", false, "send a test text message after joining")
	speak := flags.Bool("speak", true, "speak received text")
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(flags)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	logger := log.Logger

	client := sig.NewClient(cfg.Relay.URL,
		sig.WithLogger(logger),
		sig.WithMaxAttempts(cfg.Relay.MaxConnectAttempts),
	)
	defer client.Disconnect()

	device := media.NewDevice(cfg.Media.Input, cfg.Media.Loop, logger)
	defer device.Close()

	session := peer.NewSession(client, func() (core.PeerConnection, error) {
		pc, err := rtc.NewConnection(cfg.WebRTCConfig(), logger)
		if err != nil {
			return nil, err
		}
		return pc, nil
	}, device.Acquire,
		peer.WithLogger(logger),
		peer.WithSink(media.NewOggSink(cfg.Media.OutputDir, logger)),
	)
	defer func() {
		if err := session.Close(); err != nil {
			log.Warn().Err(err).Msg("peer teardown")
		}
	}()

	speaker := speech.NewSpeaker(
		google.NewTTSClient(google.TTSConfig{
			APIKey:       cfg.TTS.APIKey,
			Endpoint:     cfg.TTS.Endpoint,
			Language:     cfg.TTS.Language,
			Voice:        cfg.TTS.Voice,
			SpeakingRate: cfg.TTS.SpeakingRate,
			Pitch:        cfg.TTS.Pitch,
		}, google.WithLogger(logger)),
		speech.NewFilePlayer(cfg.Media.OutputDir, logger),
		speech.NewLogSpeaker(logger),
		logger,
	)

	client.OnMessage(func(env domain.SignalEnvelope) {
		session.HandleSignal(ctx, env)
	})
	client.OnText(func(env domain.TextEnvelope) {
		log.Info().Str("room", env.RoomID.String()).Str("text", env.Text).Msg("text received")
		if *speak {
			go speaker.Speak(ctx, env.Text)
		}
	})
	client.OnRoomFull(func(room domain.RoomID) {
		log.Error().Str("room", room.String()).Msg("room is full, leaving")
		cancel()
	})
	client.OnState(func(st domain.ConnState, err error) {
		ev := log.Info()
		if err != nil {
			ev = log.Warn().Err(err)
		}
		ev.Str("state", string(st)).Msg("relay state")
		if st == domain.StateDisconnect {
			cancel()
		}
	})

	if err := client.Join(cfg.Relay.Room); err != nil {
		log.Fatal().Err(err).Msg("invalid room")
	}
	if err := client.Connect(ctx); err != nil {
		log.Error().Err(err).Msg("relay unreachable")
		return
	}

	if *offer {
		if err := session.CreateOffer(ctx); err != nil {
			log.Error().Err(err).Msg("create offer")
		}
	}
	if *sendTest {
		client.SendText(testText)
	}

	if *withSTT {
		opts := sttOptions(cfg.STT)
		transcriber := google.NewSTTClient(google.STTConfig{
			APIKey:      cfg.STT.APIKey,
			Endpoint:    cfg.STT.Endpoint,
			Language:    cfg.STT.Language,
			SampleRate:  cfg.STT.SampleRate,
			Punctuation: cfg.STT.Punctuation,
		}, google.WithLogger(logger))

		pipeline := stt.NewOrchestrator(device.AudioInput, transcriber, client, opts, stt.WithLogger(logger))
		if err := pipeline.Start(ctx); err != nil {
			log.Error().Err(err).Msg("speech recognition unavailable")
		} else {
			defer pipeline.Stop()
			log.Info().Str("format", string(pipeline.Format())).Msg("speech recognition started")
		}
	}

	<-ctx.Done()
	log.Info().Msg("peer shutting down")
}

// sttOptions takes every segmentation setting from configuration as is; viper
// already supplies the defaults.
func sttOptions(c config.STTConfig) stt.Options {
	opts := stt.DefaultOptions()
	opts.Debounce = c.Debounce
	opts.SilenceRMS = c.SilenceRMS
	opts.SliceInterval = c.SliceInterval
	opts.SampleInterval = c.SampleInterval
	return opts
}
