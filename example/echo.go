package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	socket "github.com/Zereker/reactor-socket"
)

func main() {
	port := flag.Int("port", 12345, "port to listen on")
	fixed := flag.Int("fixed", 0, "use fixed size framing with this message size")
	fast := flag.Bool("fast", false, "keep write interest armed between sends")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	framing := socket.FrameHeaderAndMessage
	opts := []socket.Option{
		socket.FastWritingOption(*fast),
		socket.OnConnectOption(func(id int) {
			slog.Info("client connected", "client_id", id)
		}),
		socket.OnDisconnectOption(func(id int, err error) {
			slog.Info("client disconnected", "client_id", id, "error", err)
		}),
	}
	if *fixed > 0 {
		framing = socket.FixedSize
		opts = append(opts, socket.FixedReceiveSizeOption(*fixed))
	}

	server := socket.New(opts...)
	if err := server.Start(ctx, *port, framing); err != nil {
		slog.Error("failed to start server", "error", err)
		os.Exit(1)
	}
	defer server.Close()

	// The application side polls every client and echoes what it finds.
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("shutting down server...", "stats", server.Stats())
			return
		case <-ticker.C:
			for _, id := range server.ClientIDs() {
				for {
					msg, ok := server.NextMessage(id)
					if !ok {
						break
					}
					server.SendMessage(id, msg)
				}
			}
		}
	}
}
