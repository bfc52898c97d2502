// Command twitchchat is the entry point for the Twitch chat client. It
// loads settings, connects to a channel's chat over EventSub, prints
// incoming messages, and manages graceful shutdown via OS signals.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/term"

	"github.com/gjverhoeff/TwitchChatUE5/internal/config"
	"github.com/gjverhoeff/TwitchChatUE5/internal/connection"
	"github.com/gjverhoeff/TwitchChatUE5/internal/logger"
	"github.com/gjverhoeff/TwitchChatUE5/internal/model"
	"github.com/gjverhoeff/TwitchChatUE5/internal/server"
)

const banner = `
╔══════════════════════════════════════════════════╗
║          Twitch Chat Client — Go Edition         ║
╚══════════════════════════════════════════════════╝
`

func main() {
	configPath := flag.String("config", config.DefaultPath, "Path to the settings file")
	channel := flag.String("channel", "", "Channel to join (defaults to last_channel from settings)")
	user := flag.String("user", "", "Bot account login (defaults to username from settings)")
	port := flag.String("port", "8080", "Port for the debug/metrics HTTP server (empty to disable)")
	logLevel := flag.String("log-level", "", "Log level: DEBUG, INFO, WARN, ERROR (overrides LOG_LEVEL env)")
	noColor := flag.Bool("no-color", false, "Disable colored output (overrides TTY detection)")
	flag.Parse()

	godotenv.Load() //nolint:errcheck

	level := slog.LevelInfo
	if *logLevel != "" {
		level = logger.ParseLevel(*logLevel)
	} else if envLevel := os.Getenv("LOG_LEVEL"); envLevel != "" {
		level = logger.ParseLevel(envLevel)
	}

	httpPort := *port
	if envPort := os.Getenv("PORT"); envPort != "" {
		httpPort = envPort
	}

	colored := !*noColor && term.IsTerminal(int(os.Stdout.Fd())) && os.Getenv("NO_COLOR") == ""

	log, err := logger.Setup(logger.Config{
		Level:   level,
		Colored: colored,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to setup logger: %v\n", err)
		os.Exit(1)
	}

	fmt.Print(banner)

	store, err := config.Load(*configPath)
	if err != nil {
		log.Error("Failed to load settings", "path", *configPath, "error", err)
		os.Exit(1)
	}

	settings := store.Snapshot()
	if err := config.Validate(settings); err != nil {
		log.Error("Invalid settings", "error", err)
		os.Exit(1)
	}

	botLogin := *user
	if botLogin == "" {
		botLogin = settings.UserName
	}
	channelLogin := *channel
	if channelLogin == "" {
		channelLogin = settings.LastChannel
	}
	if botLogin == "" || channelLogin == "" {
		log.Error("A bot login and a channel are required (flags, or username/last_channel in settings)")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info("Received shutdown signal", "signal", sig.String())
		cancel()

		time.AfterFunc(10*time.Second, func() {
			log.Error("Graceful shutdown timed out, forcing exit")
			os.Exit(1)
		})
	}()

	controller := connection.New(store, log)
	defer controller.Close()

	printSub := controller.Subscribe(func(msg model.ChatMessage) {
		fmt.Printf("[%s] %s: %s\n", msg.Color, msg.UserName, msg.Text)
	})
	defer printSub.Cancel()

	if httpPort != "" {
		addr := ":" + httpPort
		debugServer := server.NewDebugServer(addr, log)
		debugServer.SetStatusFunc(func() server.Status {
			return server.Status{
				Connected: controller.IsConnected(),
				User:      botLogin,
				Channel:   channelLogin,
			}
		})
		debugServer.SetMessagesFunc(controller.Recent)

		go func() {
			if err := debugServer.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error("Debug server failed", "error", err)
			}
		}()
	}

	if err := controller.Connect(ctx, botLogin, channelLogin); err != nil {
		log.Error("Connect failed", "channel", channelLogin, "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	controller.Disconnect()
	log.Info("Disconnected. Goodbye!")
}
