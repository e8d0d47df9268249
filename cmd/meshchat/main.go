// Command meshchat is a headless mesh client: it joins (or creates) a
// room, negotiates peer connections with everyone in it and bridges the
// mesh chat to stdin/stdout. Lines typed on stdin are broadcast; inbound
// messages are printed as they arrive. Configured entirely through the
// environment (SERVER_URL, TRANSPORT, ROOM_ID, DISPLAY_NAME, AUTH_TOKEN);
// an empty ROOM_ID creates a fresh room, which needs AUTH_TOKEN.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/webrtc-mesh/config"
	"github.com/mossy-p/webrtc-mesh/internal/client"
	"github.com/mossy-p/webrtc-mesh/internal/models"
	"github.com/mossy-p/webrtc-mesh/internal/signaling"
)

func main() {
	cfg := config.LoadClient()
	roomID := cfg.RoomID

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	var transport signaling.Transport
	switch cfg.Transport {
	case "ws":
		transport = signaling.NewWSTransport(cfg.ServerURL, cfg.AuthToken)
	default:
		transport = signaling.NewRESTTransport(cfg.ServerURL, cfg.AuthToken)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if roomID == "" {
		result, err := transport.CreateRoom(ctx, 0)
		if err != nil {
			logger.Error("creating room", "error", err)
			os.Exit(1)
		}
		if !result.Success {
			logger.Error("room creation rejected", "error", result.Error)
			os.Exit(1)
		}
		roomID = result.RoomID
		fmt.Printf("created room %s\n", roomID)
	}

	iceServers := []webrtc.ICEServer{{URLs: cfg.STUNServers}}
	session := client.NewSession(transport, logger,
		client.WithICEServers(iceServers),
		client.WithChatTimeout(cfg.ChatTimeout),
		client.WithPollInterval(cfg.PollInterval),
	)

	session.OnPeerConnected(func(peerID string) {
		fmt.Printf("* %s connected\n", peerID)
	})
	session.OnPeerDisconnected(func(peerID string) {
		fmt.Printf("* %s disconnected\n", peerID)
	})
	session.OnChatMessage(func(msg models.ChatMessage) {
		if msg.IsLocal {
			return
		}
		fmt.Printf("<%s> %s\n", msg.Sender, msg.Content)
	})

	if err := session.Join(ctx, roomID, cfg.DisplayName); err != nil {
		logger.Error("joining room", "room", roomID, "error", err)
		os.Exit(1)
	}
	fmt.Printf("joined %s as %s, type to chat\n", roomID, session.UserID())

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			_, results := session.SendChat(line)
			for peerID, err := range results {
				if err != nil {
					fmt.Printf("! send to %s failed: %v\n", peerID, err)
				}
			}
		}
		cancel()
	}()

	<-ctx.Done()
	if err := session.Leave(context.Background()); err != nil {
		logger.Warn("leaving room", "error", err)
	}
}
