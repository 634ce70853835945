// TinyWatch: CLI entry point.
//
// This tool streams camera and microphone from one device to another on the
// same LAN. The sender advertises itself over mDNS and waits on a TCP
// signaling port; the receiver finds it (or is given its IPv4 address),
// connects, and the two negotiate a direct WebRTC media session.
//
// It can be launched interactively (no -role) or non-interactively via CLI
// flags, environment variables (TINYWATCH_*, optionally from .env) or a YAML
// file passed with -config.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pterm/pterm"

	"github.com/1ureka/tinywatch/internal/app"
	"github.com/1ureka/tinywatch/internal/config"
	"github.com/1ureka/tinywatch/internal/discovery"
	"github.com/1ureka/tinywatch/internal/media"
	"github.com/1ureka/tinywatch/internal/monitor"
	"github.com/1ureka/tinywatch/internal/state"
	"github.com/1ureka/tinywatch/internal/util"
	"github.com/1ureka/tinywatch/internal/webrtc"
)

var version = "dev"

const scanDelay = 3 * time.Second

func main() {
	if err := run(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

// run returns instead of exiting so every deferred Close gets to send its
// bye and withdraw its advertisement.
func run() error {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags. Anything left unset keeps the file/env value.
	configPath := flag.String("config", os.Getenv("TINYWATCH_CONFIG"), "Optional YAML config file")
	role := flag.String("role", "", "Role: sender or receiver")
	host := flag.String("host", "", "Sender IPv4 address (receiver only, skips discovery)")
	name := flag.String("name", "", "Advertised device name (sender only)")
	port := flag.Int("port", 0, "Signaling port, 1~65535")
	statusAddr := flag.String("statusAddr", "", "Serve the status feed on this address, e.g. 127.0.0.1:9091")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	_ = godotenv.Load(".env")

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	applyFlags(cfg, *role, *host, *name, *port, *statusAddr, *debugMode)
	if err := cfg.Validate(); err != nil {
		return err
	}

	if cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("TinyWatch — v%s", version))
	pterm.Println()

	store := state.NewStore()

	if cfg.StatusAddr != "" {
		feed := monitor.New(store)
		if err := feed.Start(cfg.StatusAddr); err != nil {
			return err
		}
		defer feed.Close()
	}

	capability, err := webrtc.NewCapability()
	if err != nil {
		return fmt.Errorf("failed to initialise media: %w", err)
	}

	if cfg.Role == config.RoleNone {
		cfg.Role = askRole()
	}

	util.StartStatsReporter(ctx)

	switch cfg.Role {
	case config.RoleSender:
		err = runSender(ctx, cfg, store, capability)
	case config.RoleReceiver:
		err = runReceiver(ctx, cfg, store, capability)
	}
	if err != nil {
		return err
	}

	util.LogInfo("session closed")
	return nil
}

// applyFlags overrides cfg with every flag that was set.
func applyFlags(cfg *config.Config, role, host, name string, port int, statusAddr string, debug bool) {
	if role != "" {
		cfg.Role = config.Role(strings.ToLower(role))
	}
	if host != "" {
		cfg.Host = host
	}
	if name != "" {
		cfg.Name = name
	}
	if port != 0 {
		cfg.Signaling.Port = port
	}
	if statusAddr != "" {
		cfg.StatusAddr = statusAddr
	}
	if debug {
		cfg.Debug = true
	}
}

// ---------------------------------------------------------------------------
// Run modes
// ---------------------------------------------------------------------------

// runSender captures, advertises and serves receivers until Ctrl+C.
func runSender(ctx context.Context, cfg *config.Config, store *state.Store, capability media.Capability) error {
	sender := app.NewSender(app.SenderConfig{
		Name:         cfg.Name,
		Port:         cfg.Signaling.Port,
		ProbeTimeout: cfg.Signaling.ProbeTimeout,
		Constraints:  cfg.Media.Constraints(),
		Capability:   capability,
		Store:        store,
	})
	defer sender.Close()

	if err := sender.Start(ctx); err != nil {
		return fmt.Errorf("failed to start sender: %w", err)
	}

	addr := store.Snapshot().LocalIP
	if addr == "" {
		addr = "unknown"
	}
	pterm.DefaultBox.WithTitle("Sender").Println(fmt.Sprintf(
		"Name : %s\nIP   : %s\nPort : %d", cfg.Name, addr, cfg.Signaling.Port))
	pterm.Println()
	util.LogInfo("waiting for a receiver...")

	<-ctx.Done()
	return nil
}

// runReceiver connects to cfg.Host, or lets the user pick a sender.
func runReceiver(ctx context.Context, cfg *config.Config, store *state.Store, capability media.Capability) error {
	receiver := app.NewReceiver(app.ReceiverConfig{
		Port:           cfg.Signaling.Port,
		ConnectTimeout: cfg.Signaling.ConnectTimeout,
		Capability:     capability,
		Store:          store,
		OnRemoteStream: func(rs media.RemoteStream) {
			util.LogSuccess("receiving %s from stream %s", rs.Track.ID(), rs.ID)
			go webrtc.DrainTrack(rs.Track)
		},
	})
	defer receiver.Close()

	if cfg.Host != "" {
		if err := receiver.Connect(ctx, cfg.Host); err != nil {
			return fmt.Errorf("failed to connect to %s: %w", cfg.Host, err)
		}
		<-ctx.Done()
		return nil
	}

	if err := receiver.StartDiscovery(); err != nil {
		util.LogError("failed to start discovery: %v", err)
	}
	waitForScan(ctx)

	for {
		err := pickAndConnect(ctx, receiver)
		if err == nil {
			break
		}
		util.LogWarning("%v", err)
		pterm.Println()
		if err := receiver.StartDiscovery(); err != nil {
			util.LogError("failed to restart discovery: %v", err)
		}
	}

	<-ctx.Done()
	return nil
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// askRole prompts for a role when none was configured.
func askRole() config.Role {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Sender   — Share this device's camera", "Receiver — Watch another device"}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	if strings.HasPrefix(role, "Sender") {
		return config.RoleSender
	}
	return config.RoleReceiver
}

// waitForScan gives discovery a moment to find senders before the first
// prompt.
func waitForScan(ctx context.Context) {
	spinner, _ := pterm.DefaultSpinner.Start("Scanning the LAN for senders...")
	select {
	case <-time.After(scanDelay):
	case <-ctx.Done():
	}
	if spinner != nil {
		spinner.Stop()
	}
}

const (
	optionRescan = "Rescan"
	optionManual = "Enter an IP address"
)

// pickAndConnect shows the discovered senders plus a manual entry and
// connects to the choice. It returns nil without connecting once ctx ends.
func pickAndConnect(ctx context.Context, receiver *app.Receiver) error {
	for {
		devices := receiver.Devices()
		options := make([]string, 0, len(devices)+2)
		for _, d := range devices {
			options = append(options, formatDevice(d))
		}
		options = append(options, optionRescan, optionManual)

		choice, _ := pterm.DefaultInteractiveSelect.
			WithOptions(options).
			WithDefaultText(fmt.Sprintf("Found %d sender(s)", len(devices))).
			Show()
		pterm.Println()

		if ctx.Err() != nil {
			return nil
		}

		switch choice {
		case optionRescan:
			waitForScan(ctx)
			continue
		case optionManual:
			return receiver.Connect(ctx, askHost())
		}

		for _, d := range devices {
			if formatDevice(d) == choice {
				return receiver.ConnectDevice(ctx, d)
			}
		}
	}
}

func formatDevice(d discovery.Device) string {
	return fmt.Sprintf("%s (%s:%d)", d.Name, d.Host, d.Port)
}

// askHost prompts for an IPv4 address until a valid one is entered.
func askHost() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Sender IPv4 address (e.g. 192.168.1.50)").
			Show()

		host := strings.TrimSpace(raw)
		if util.ValidIPv4(host) {
			pterm.Println()
			return host
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter an address like 192.168.1.50")
	}
}
