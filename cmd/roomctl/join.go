package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mossy-p/studyroom-signaling/config"
	"github.com/mossy-p/studyroom-signaling/internal/client"
	"github.com/mossy-p/studyroom-signaling/internal/logging"
	"github.com/mossy-p/studyroom-signaling/internal/models"
	"github.com/mossy-p/studyroom-signaling/internal/peer"
)

const peerQueueSize = 128

var (
	flagJoinPeer      bool
	flagJoinChatLimit int
)

var joinCmd = &cobra.Command{
	Use:     "join <room-code>",
	Aliases: []string{"j"},
	Short:   "Join a room and follow it live",
	Long: `Join a study room and print presence, chat, notes and timer changes as they happen.
Lines typed on stdin are sent as chat messages; type /help for commands.

Examples:
  roomctl join K7QX2M --user alice --name Alice
  roomctl join K7QX2M --secret dev-secret --user alice --peer`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		err = joinRoom(cmd.Context(), cfg, args[0], cmd.InOrStdin(), cmd.OutOrStdout())
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

// session prints a joined room. Manager callbacks and the stdin reader both touch the view.
type session struct {
	out    io.Writer
	userID string

	mu   sync.Mutex
	view *client.RoomView

	// peerWork runs negotiation off the manager's event loop, since negotiation sends through it.
	peerWork    chan func(context.Context)
	forwardPeer func(models.Frame)
	resetPeers  func()
	reconnected bool

	stop context.CancelFunc
}

func joinRoom(ctx context.Context, cfg *config.ClientConfig, roomID string, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := logging.NewWithWriter("development", os.Stderr)

	userID := flagUser
	if userID == "" {
		userID = "guest-" + uuid.NewString()[:8]
	}
	s := &session{
		out:    out,
		userID: userID,
		view:   client.NewRoomView(flagJoinChatLimit),
		stop:   cancel,
	}

	m := client.NewManager(client.Options{
		RoomID:             roomID,
		UserID:             userID,
		DisplayName:        flagName,
		ReconnectBase:      cfg.ReconnectBase,
		ReconnectMax:       cfg.ReconnectMax,
		MaxConnectAttempts: cfg.MaxConnectAttempts,
		PollInterval:       cfg.PollInterval,
	}, &client.WSDialer{
		ServerURL:         cfg.ServerURL,
		Token:             cfg.Token,
		HeartbeatInterval: cfg.HeartbeatInterval,
		HeartbeatMisses:   cfg.HeartbeatMisses,
	}, &client.HTTPPoller{
		ServerURL: cfg.ServerURL,
		Token:     cfg.Token,
	}, client.Callbacks{
		OnStatus:    s.status,
		OnRoomState: s.roomState,
		OnEvent:     s.event,
	}, logger)

	var wg sync.WaitGroup
	if flagJoinPeer {
		pm, err := newPeerManager(cfg, userID, m, s, logger)
		if err != nil {
			return err
		}
		s.peerWork = make(chan func(context.Context), peerQueueSize)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer pm.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case work := <-s.peerWork:
					work(ctx)
				}
			}
		}()
		s.forwardPeer = func(f models.Frame) {
			s.queuePeer(func(ctx context.Context) {
				if err := pm.HandleEvent(ctx, f); err != nil {
					logger.Warn().Err(err).Str("event", string(f.Event)).Msg("peer negotiation failed")
				}
			})
		}
		s.resetPeers = func() { s.queuePeer(func(context.Context) { pm.Close() }) }
	}

	go s.readInput(ctx, m, in)

	fmt.Fprintf(out, "Joining %s as %s, /help for commands\n", roomID, userID)
	err := m.Run(ctx)
	cancel()
	wg.Wait()
	return err
}

func newPeerManager(cfg *config.ClientConfig, userID string, m *client.Manager, s *session, logger zerolog.Logger) (*peer.Manager, error) {
	var servers []string
	if cfg.STUNServer != "" {
		servers = append(servers, cfg.STUNServer)
	}
	pm := peer.NewManager(userID, peer.NewFactory(servers...), m, peer.Callbacks{
		OnState: func(remote string, state peer.State) {
			s.printf("peer %s: %s", remote, state)
		},
		OnTrack: func(remote string, track *webrtc.TrackRemote) {
			s.printf("receiving %s from %s", track.Kind(), remote)
		},
	}, logger)

	// No capture devices in a terminal; placeholder tracks still negotiate both media sections.
	video, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", userID)
	if err != nil {
		return nil, fmt.Errorf("create video track: %w", err)
	}
	audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", userID)
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}
	pm.SetLocalTracks(video, audio)
	return pm, nil
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().BoolVarP(&flagJoinPeer, "peer", "p", false, "Negotiate WebRTC connections with the other participants")
	joinCmd.Flags().IntVar(&flagJoinChatLimit, "chat-limit", 200, "Chat messages kept in memory")
}
