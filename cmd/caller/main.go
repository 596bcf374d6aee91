// Command caller places a call against a running Hotline server using the
// development transport: fetch a token, join the channel, optionally
// escalate to the conversational agent, hang up on interrupt.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dkeye/Hotline/internal/adapters/rtc"
	"github.com/dkeye/Hotline/internal/backend"
	"github.com/dkeye/Hotline/internal/call"
	"github.com/dkeye/Hotline/internal/core"
	"github.com/dkeye/Hotline/internal/domain"
)

func main() {
	server := pflag.String("server", "http://localhost:3001", "Hotline server base URL")
	channel := pflag.String("channel", "911", "channel to call")
	uid := pflag.Uint32("uid", 42, "caller uid")
	appID := pflag.String("app-id", "", "realtime-platform app id (defaults to AGORA_APP_ID)")
	withAgent := pflag.Bool("agent", false, "escalate the call to the conversational agent")
	pflag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if *appID == "" {
		*appID = os.Getenv("AGORA_APP_ID")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	api := backend.NewClient(*server)
	ch := domain.ChannelName(*channel)
	id := domain.UID(*uid)

	accessToken, err := api.FetchToken(ctx, ch, id)
	if err != nil {
		log.Fatal().Err(err).Msg("token fetch failed")
	}

	signalURL := wsURL(*server) + "/api/ws/signal"
	session := call.NewSession(*appID, rtc.Factory(signalURL), rtc.MicSource{})
	session.SetObserver(call.Observer{
		OnStateChange: func(s core.ConnectionState) {
			log.Info().Str("state", s.String()).Msg("call state")
		},
		OnParticipants: func(uids []domain.UID) {
			log.Info().Int("count", len(uids)).Msg("participants changed")
		},
	})

	if *withAgent {
		esc := call.NewEscalation(session, api)
		if err := esc.JoinAndStartAgent(ctx, ch, id, accessToken); err != nil {
			log.Fatal().Err(err).Msg("escalated call failed")
		}
		defer esc.Leave(context.Background())
	} else {
		if err := session.Join(ctx, ch, accessToken, &id, domain.RolePublisher); err != nil {
			log.Fatal().Err(err).Msg("join failed")
		}
		defer session.Leave(context.Background())
	}

	fmt.Printf("📞 On the line in channel %s as uid %d — Ctrl-C to hang up\n", ch, id)
	<-ctx.Done()
	log.Info().Msg("hanging up")
}

func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}
