package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/BurntSushi/xgb/xproto"

	"github.com/termpix/termpix/internal/canvas"
	"github.com/termpix/termpix/internal/config"
	"github.com/termpix/termpix/internal/img"
	"github.com/termpix/termpix/internal/terminal"
)

const version = "0.3.1"

func main() {
	if len(os.Args) < 2 {
		printMainUsage(os.Stdout)
		os.Exit(0)
	}

	switch os.Args[1] {
	case "layer":
		os.Exit(runLayer(os.Args[2:]))
	case "version":
		fmt.Println("termpix", version)
		os.Exit(0)
	case "help", "-h", "--help":
		printMainUsage(os.Stdout)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printMainUsage(os.Stderr)
		os.Exit(2)
	}
}

func printMainUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: termpix <command> [options]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  layer               Read overlay commands from stdin")
	fmt.Fprintln(w, "  version             Print version")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Layer commands are JSON objects, one per line:")
	fmt.Fprintln(w, `  {"action":"add","identifier":"preview","x":2,"y":4,`)
	fmt.Fprintln(w, `   "max_width":40,"max_height":20,"path":"/tmp/cat.gif"}`)
	fmt.Fprintln(w, `  {"action":"remove","identifier":"preview"}`)
}

// command is one line of the layer protocol.
type command struct {
	Action     string `json:"action"`
	Identifier string `json:"identifier"`
	X          int    `json:"x"`
	Y          int    `json:"y"`
	MaxWidth   int    `json:"max_width"`
	MaxHeight  int    `json:"max_height"`
	Path       string `json:"path"`
}

func runLayer(args []string) int {
	fs := flag.NewFlagSet("layer", flag.ExitOnError)
	configPath := fs.String("config", "", "Config file path (default ~/.config/termpix/config.yaml)")
	silent := fs.Bool("silent", false, "Suppress log output")
	fs.Parse(args)

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFromPath(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "termpix: %v\n", err)
		return 1
	}

	logger, cleanup, err := newLogger(cfg, *silent)
	if err != nil {
		fmt.Fprintf(os.Stderr, "termpix: %v\n", err)
		return 1
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	geom, err := detectGeometry()
	if err != nil {
		logger.Error("terminal geometry unavailable", "error", err)
		return 1
	}
	termWin, err := terminal.WindowID()
	if err != nil {
		logger.Error("terminal window unknown", "error", err)
		return 1
	}

	overlays := make(map[string]*canvas.Canvas)
	defer func() {
		for _, c := range overlays {
			c.Close()
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return 0
		case line, ok := <-lines:
			if !ok {
				logger.Debug("stdin closed")
				return 0
			}
			if line == "" {
				continue
			}
			var cmd command
			if err := json.Unmarshal([]byte(line), &cmd); err != nil {
				logger.Warn("bad command", "line", line, "error", err)
				continue
			}
			if err := apply(ctx, cmd, cfg, geom, termWin, overlays, logger); err != nil {
				logger.Warn("command failed",
					"action", cmd.Action, "identifier", cmd.Identifier, "error", err)
			}
		}
	}
}

func apply(ctx context.Context, cmd command, cfg *config.Config, geom terminal.Geometry,
	termWin xproto.Window, overlays map[string]*canvas.Canvas, logger *slog.Logger) error {

	switch cmd.Action {
	case "add":
		if cmd.Identifier == "" || cmd.Path == "" {
			return fmt.Errorf("add needs identifier and path")
		}
		c, ok := overlays[cmd.Identifier]
		if !ok {
			var err error
			c, err = canvas.Open(ctx, termWin, cfg.X11.Accelerator,
				logger.With("identifier", cmd.Identifier))
			if err != nil {
				return err
			}
			overlays[cmd.Identifier] = c
		} else {
			c.Clear()
		}

		image, err := img.Open(cmd.Path)
		if err != nil {
			return err
		}
		dims := terminal.NewDimensions(geom, cmd.X, cmd.Y, cmd.MaxWidth, cmd.MaxHeight)
		if err := c.Init(dims, image); err != nil {
			return err
		}
		if err := c.Draw(); err != nil {
			return err
		}
		return c.Show()

	case "remove":
		c, ok := overlays[cmd.Identifier]
		if !ok {
			return nil
		}
		// Release the connection too; a later add reopens it.
		c.Close()
		delete(overlays, cmd.Identifier)
		return nil

	default:
		return fmt.Errorf("unknown action %q", cmd.Action)
	}
}

// detectGeometry tries the descriptors that may still be a tty in
// layer mode, where stdin carries the command stream.
func detectGeometry() (terminal.Geometry, error) {
	var firstErr error
	for _, f := range []*os.File{os.Stderr, os.Stdout, os.Stdin} {
		g, err := terminal.Detect(int(f.Fd()))
		if err == nil {
			return g, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return terminal.Geometry{}, firstErr
}

func newLogger(cfg *config.Config, silent bool) (*slog.Logger, func(), error) {
	if silent {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), func() {}, nil
	}

	opts := &slog.HandlerOptions{Level: config.ParseLevel(cfg.Log.Level)}
	if cfg.Log.File == "" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), func() {}, nil
	}

	f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file %s: %w", cfg.Log.File, err)
	}
	return slog.New(slog.NewTextHandler(f, opts)), func() { f.Close() }, nil
}
