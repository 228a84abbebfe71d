package main

import (
	"bufio"
	"fmt"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Shahil-8848/GuffGaff-client/internal/capture"
	"github.com/Shahil-8848/GuffGaff-client/internal/config"
	"github.com/Shahil-8848/GuffGaff-client/internal/domain"
	"github.com/Shahil-8848/GuffGaff-client/internal/relay"
	"github.com/Shahil-8848/GuffGaff-client/internal/session"
	sigclient "github.com/Shahil-8848/GuffGaff-client/internal/signal"
	rtc "github.com/Shahil-8848/GuffGaff-client/internal/webrtc"
)

const helpText = `guffgaff - anonymous one-to-one audio/video chat client

Pairs you with a random partner via the GuffGaff relay and negotiates a
direct peer connection. Lines typed on stdin are sent as chat messages.

Commands:
  /next   find a new partner
  /mute   toggle the microphone
  /video  toggle the camera
  /quit   leave

Environment Variables:
  GUFFGAFF_RELAY_URL   relay websocket URL (required, ws:// or wss://)
  GUFFGAFF_VIDEO_FILE  IVF file streamed as the local camera
  GUFFGAFF_AUDIO_FILE  Ogg file streamed as the local microphone
  GUFFGAFF_RECORD_DIR  directory for recording the partner's media
  GUFFGAFF_LOG_LEVEL   zerolog level (default info)

Options:
  -h, --help  Show this help message
`

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "--help") {
		fmt.Print(helpText)
		os.Exit(0)
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	selfID := uuid.NewString()

	capturer := capture.NewManager(capture.NewFileSource(cfg.VideoFile, cfg.AudioFile))
	sc := sigclient.NewClient(cfg.RelayURL)
	engine := rtc.NewEngine(sc, selfID, rtc.NewRemoteSink(cfg.RecordDir))

	sess := session.New(sc, engine, capturer, selfID)
	engine.SetReporter(sess)

	sess.Machine().SetListener(func(st session.Status) {
		log.Info().
			Str("state", st.State.String()).
			Int("attempts", st.ReconnectAttempts).
			Msg(st.StatusText)
	})

	chat := relay.New(sc, selfID,
		func(msg domain.ChatMessage) {
			fmt.Printf("stranger: %s\n", msg.Text)
		},
		func(stats domain.StatsUpdate) {
			log.Debug().
				Int("online", stats.TotalUsers).
				Int("waiting", stats.WaitingUsers).
				Int("partnerships", stats.ActivePartnerships).
				Msg("relay stats")
		},
	)

	if err := sess.Start(); err != nil {
		log.Fatal().Err(err).Msg("start session")
	}
	chat.Start()

	if err := sess.FindPartner(); err != nil {
		log.Fatal().Err(err).Msg("find partner")
	}

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			switch line {
			case "":
			case "/quit":
				return
			case "/next":
				if err := sess.FindPartner(); err != nil {
					log.Warn().Err(err).Msg("cannot switch partner yet")
				}
			case "/mute":
				fmt.Printf("microphone enabled: %v\n", capturer.ToggleAudio())
			case "/video":
				fmt.Printf("camera enabled: %v\n", capturer.ToggleVideo())
			default:
				chat.SendChat(line)
			}
		}
	}()

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-done:
		log.Info().Msg("stdin closed, shutting down")
	}

	chat.Close()
	sess.Close()
}
