// lensctl connects to a NeuroLens gateway and streams frames from the
// command line, printing the captions and voice feedback that come
// back. It exercises the same session manager the client apps embed.
//
// Usage:
//
//	go run ./cmd/lensctl --config configs/gateway.example.yaml --image photo.jpg
//	go run ./cmd/lensctl --url ws://localhost:8000/ws --image photo.jpg --repeat
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/neurolens/neurolens/internal/config"
	"github.com/neurolens/neurolens/internal/model"
	"github.com/neurolens/neurolens/internal/stream"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	url := flag.String("url", "", "gateway WebSocket URL (overrides config)")
	imagePath := flag.String("image", "", "path to an image to send")
	interval := flag.Duration("interval", 2*time.Second, "send interval when repeating")
	repeat := flag.Bool("repeat", false, "keep sending the image every interval")
	verbose := flag.Bool("verbose", false, "print full frame JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	sessionCfg := stream.DefaultSessionConfig()
	if *configPath != "" {
		cfg, err := config.LoadWithDefaults(*configPath)
		if err != nil {
			logger.Error("failed to load config", "error", err)
			os.Exit(1)
		}
		sessionCfg.URL = cfg.Stream.URL
		sessionCfg.ReconnectBase = cfg.Stream.ReconnectBase
		sessionCfg.MaxAttempts = cfg.Stream.MaxAttempts
		sessionCfg.QueueCapacity = cfg.Stream.QueueCapacity
		sessionCfg.ResponseTimeout = cfg.Stream.ResponseTimeout
		sessionCfg.PingInterval = cfg.Stream.PingInterval
		sessionCfg.PingTimeout = cfg.Stream.PingTimeout
		sessionCfg.WriteTimeout = cfg.Stream.WriteTimeout
	}
	if *url != "" {
		sessionCfg.URL = *url
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	handler := stream.HandlerFuncs{
		Frame: func(frame model.ProcessedFrame) {
			printFrame(frame, *verbose)
		},
		Error: func(err error) {
			logger.Warn("session error", "error", err)
		},
		StateChange: func(connected bool) {
			logger.Info("connection state", "connected", connected)
		},
	}

	session := stream.NewSession(sessionCfg, handler, logger)
	defer session.Close()

	logger.Info("connecting", "url", sessionCfg.URL)
	if err := session.Connect(ctx); err != nil {
		logger.Error("connect failed", "error", err)
		os.Exit(1)
	}

	var image []byte
	if *imagePath != "" {
		var err error
		image, err = os.ReadFile(*imagePath)
		if err != nil {
			logger.Error("failed to read image", "error", err, "path", *imagePath)
			os.Exit(1)
		}
	}

	if image == nil {
		logger.Info("no image given - listening only, press Ctrl+C to stop")
		<-ctx.Done()
		return
	}

	send := func() {
		frame := model.Frame{
			Video:     image,
			Timestamp: time.Now().UnixMilli(),
		}
		if err := session.SendFrame(frame); err != nil {
			logger.Warn("send failed", "error", err)
		}
	}

	if !*repeat {
		// One shot: wait for the single reply.
		frame := model.Frame{Video: image, Timestamp: time.Now().UnixMilli()}
		reply, err := session.SendFrameAwait(ctx, frame)
		if err != nil {
			logger.Error("send failed", "error", err)
			os.Exit(1)
		}
		if reply == nil {
			logger.Warn("no response before timeout")
			return
		}
		printFrame(*reply, *verbose)
		return
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	send()
	for {
		select {
		case <-ctx.Done():
			stats := session.Stats()
			logger.Info("final stats",
				"sent", stats.SentFrames,
				"received", stats.FramesReceived,
				"reconnects", stats.Reconnects,
				"dropped", stats.DroppedFrames,
			)
			return
		case <-ticker.C:
			send()
		}
	}
}

func printFrame(frame model.ProcessedFrame, verbose bool) {
	if verbose {
		data, _ := json.MarshalIndent(frame, "", "  ")
		fmt.Printf("[FRAME] %s\n", data)
		return
	}
	for _, c := range frame.Captions {
		fmt.Printf("[CAPTION %s/%s] %s\n", c.Type, c.Priority, c.Text)
	}
	if frame.VoiceFeedback != nil {
		fmt.Printf("[VOICE %s] %s\n", frame.VoiceFeedback.Priority, frame.VoiceFeedback.Text)
	}
	for _, obj := range frame.Objects {
		fmt.Printf("[OBJECT] %s %.1fm to your %s\n", obj.Name, obj.Distance, obj.Direction)
	}
}
