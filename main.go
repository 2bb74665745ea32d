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

	"yeelightble/client"
	"yeelightble/config"
	"yeelightble/console"
	"yeelightble/server"
	"yeelightble/yeelight/handler"
	"yeelightble/yeelight/transport"
)

func main() {
	os.Exit(run())
}

func run() int {
	args := config.ParseCommandLineArgs()

	cfg, err := config.LoadConfig(args.ConfigFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 1
	}
	cfg.ApplyCommandLineArgs(args)

	writer, err := setupLogging(cfg.Log.Filename, cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "log setup error: %v\n", err)
		return 1
	}
	defer writer.Close()

	timeout, err := time.ParseDuration(cfg.Lamp.Timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid timeout %q: %v\n", cfg.Lamp.Timeout, err)
		return 1
	}
	idleGrace, err := time.ParseDuration(cfg.Lamp.IdleDisconnect)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid idle_disconnect %q: %v\n", cfg.Lamp.IdleDisconnect, err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// SIGHUP reopens the log file
	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)
	go func() {
		for range hupCh {
			if err := writer.Rotate(); err != nil {
				slog.Error("Log rotation failed", "err", err)
			}
		}
	}()

	sub := flag.Args()
	command := "console"
	if len(sub) > 0 {
		command = sub[0]
	}

	switch command {
	case "daemon":
		return runDaemon(ctx, cfg, timeout, idleGrace)
	case "console":
		return runConsole(ctx, cfg, timeout, idleGrace)
	case "help", "-h", "--help":
		printUsage()
		return 0
	default:
		return runOneShot(ctx, cfg, timeout, idleGrace, sub)
	}
}

// newController builds the controller the console and the one-shot
// commands run against: a WebSocket client when a daemon address is
// configured, the Bluetooth adapter otherwise.
func newController(ctx context.Context, cfg *config.Config, timeout, idleGrace time.Duration) (client.Controller, error) {
	if cfg.Server.Addr != "" {
		c, err := client.NewWebSocketClient(ctx, cfg.Server.Addr)
		if err != nil {
			return nil, err
		}
		if err := c.Connect(); err != nil {
			return nil, fmt.Errorf("connect to daemon at %s: %w", cfg.Server.Addr, err)
		}
		return c, nil
	}

	bt, err := transport.NewBluetoothTransport()
	if err != nil {
		return nil, err
	}
	mux := handler.NewMultiplexer(bt, timeout, idleGrace)
	return client.NewLocalController(mux, bt), nil
}

func runDaemon(ctx context.Context, cfg *config.Config, timeout, idleGrace time.Duration) int {
	bt, err := transport.NewBluetoothTransport()
	if err != nil {
		fmt.Fprintf(os.Stderr, "bluetooth error: %v\n", err)
		return 1
	}
	mux := handler.NewMultiplexer(bt, timeout, idleGrace)
	defer mux.Close()

	ws := server.NewWebSocketServer(ctx, cfg.Daemon.Listen, mux, bt)

	go func() {
		<-ctx.Done()
		_ = ws.Stop()
	}()

	slog.Info("Starting daemon", "listen", cfg.Daemon.Listen, "tls", cfg.TLS.CertFile != "")
	if err := ws.Start(server.StartOptions{
		CertFile: cfg.TLS.CertFile,
		KeyFile:  cfg.TLS.KeyFile,
	}); err != nil {
		if ctx.Err() != nil {
			return 0
		}
		fmt.Fprintf(os.Stderr, "daemon error: %v\n", err)
		return 1
	}
	return 0
}

func runConsole(ctx context.Context, cfg *config.Config, timeout, idleGrace time.Duration) int {
	controller, err := newController(ctx, cfg, timeout, idleGrace)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer controller.Close()

	console.ConsoleProcess(ctx, controller, cfg.Lamp.Mac)
	return 0
}

func runOneShot(ctx context.Context, cfg *config.Config, timeout, idleGrace time.Duration, args []string) int {
	cmd, err := console.ParseArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		printUsage()
		return 2
	}
	if cmd == nil || cmd.Type == console.CmdQuit || cmd.Type == console.CmdUse {
		printUsage()
		return 2
	}

	controller, err := newController(ctx, cfg, timeout, idleGrace)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer controller.Close()

	processor := console.NewCommandProcessor(ctx, controller, cfg.Lamp.Mac)
	processor.Start()
	defer processor.Stop()

	if err := processor.SendCommand(cmd); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func printUsage() {
	fmt.Printf("usage: %s [flags] <command> [arguments]\n\n", os.Args[0])
	console.PrintCommandSummary()
	fmt.Println()
	fmt.Println("Extra commands:")
	fmt.Println("  daemon       Run the WebSocket daemon")
	fmt.Println("  console      Run the interactive console (default)")
	fmt.Println()
	fmt.Println("The lamp address comes from -mac, the config file, or $" + config.EnvMac + ".")
	fmt.Println("Flags:")
	flag.PrintDefaults()
}
