package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/grozycki/esphome-ble-mouse-jiggler/internal/ble"
	"github.com/grozycki/esphome-ble-mouse-jiggler/internal/ble/bluez"
	"github.com/grozycki/esphome-ble-mouse-jiggler/internal/ble/catalog"
	"github.com/grozycki/esphome-ble-mouse-jiggler/internal/config"
	"github.com/grozycki/esphome-ble-mouse-jiggler/internal/hotkey"
	"github.com/grozycki/esphome-ble-mouse-jiggler/internal/inject"
	"github.com/grozycki/esphome-ble-mouse-jiggler/internal/jiggle"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/ble-mouse-jiggler/config.yaml)")
	writeConfig := flag.Bool("write-config", false, "write a default config file and exit")
	flag.Parse()

	if *writeConfig {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		if path == "" {
			log.Printf("Config already exists at %s", config.DefaultConfigPath())
			return
		}
		log.Printf("Default config written to %s", path)
		return
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	printBanner(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize pointer targets
	var (
		host    *ble.Host
		release = func() {}
		targets []inject.Injector
	)
	switch cfg.Output.Method {
	case "ble":
		host, release, err = startHost(ctx, cfg)
		if err != nil {
			log.Fatalf("Failed to start BLE mice: %v\n\nCheck that Bluetooth is on and this process may use it.", err)
		}
		for _, m := range host.Mice() {
			targets = append(targets, inject.NewBLEInjector(m))
		}
		log.Printf("BLE host ready (%d mice)", len(targets))
	default:
		targets = append(targets, inject.NewLocalInjector())
		log.Println("Local pointer injector ready")
	}

	// Initialize jiggle scheduler
	scheduler, err := jiggle.New(jiggle.Options{
		Interval: cfg.Jiggle.Interval,
		Distance: cfg.Jiggle.Distance,
		Enabled:  cfg.Jiggle.Enabled,
		Poll:     time.Second,
	}, targets...)
	if err != nil {
		log.Fatalf("Failed to create jiggle scheduler: %v", err)
	}
	go scheduler.Run(ctx)

	// Initialize hotkey listener
	listener := hotkey.NewListener(cfg.Hotkey.Toggle, cfg.Hotkey.JiggleOnce)
	go listener.Start()

	// Signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	status := time.NewTicker(time.Minute)
	defer status.Stop()

	log.Printf("Ready! Jiggling every %s (%s). Ctrl+C to quit.", cfg.Jiggle.Interval, enabledWord(scheduler.Enabled()))

	// Main event loop
	events := listener.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				// Hotkey listener stopped; keep jiggling without hotkeys.
				log.Println("Hotkey listener stopped")
				events = nil
				continue
			}

			switch ev.Type {
			case hotkey.EventToggle:
				log.Printf("Jiggling %s", enabledWord(scheduler.Toggle()))

			case hotkey.EventJiggleOnce:
				if err := scheduler.JiggleOnce(); err != nil {
					log.Printf("ERROR: jiggle failed: %v", err)
					continue
				}
				log.Println("Jiggled")
			}

		case <-status.C:
			if host != nil {
				logStatus(host)
			}

		case sig := <-sigCh:
			log.Printf("Received %s, shutting down...", sig)
			cancel()
			if host != nil {
				if err := host.Close(); err != nil {
					log.Printf("ERROR: BLE shutdown: %v", err)
				}
			}
			release()
			log.Printf("Goodbye! (%d jiggles)", scheduler.Count())
			// Exit directly to avoid gohook's C cleanup crash.
			// The OS reclaims the event hook on process exit.
			os.Exit(0)
		}
	}
}

// startHost prepares the adapter, registers every configured mouse and
// starts the host's event loop. The returned cleanup releases BlueZ.
func startHost(ctx context.Context, cfg *config.Config) (*ble.Host, func(), error) {
	stack, err := ble.NewPlatformStack(cfg.BLE.Adapter)
	if err != nil {
		return nil, nil, err
	}

	var (
		client  *bluez.Client
		adapter dbus.ObjectPath
		agent   bool
	)
	if cfg.BLE.BlueZSetup {
		// Not fatal: the stack still works, but disconnects and PINs
		// depend on BlueZ.
		client, adapter, err = openBlueZ(cfg)
		if err != nil {
			log.Printf("WARNING: BlueZ adapter setup skipped: %v", err)
		}
	}
	cleanup := func() {
		if client == nil {
			return
		}
		if agent {
			if err := client.UnregisterAgent(); err != nil {
				log.Printf("ERROR: %v", err)
			}
		}
		client.Close()
	}

	if err := stack.Enable(); err != nil {
		cleanup()
		return nil, nil, err
	}
	if client != nil {
		agent = attachBlueZ(ctx, client, adapter, stack)
	}

	policy, err := ble.ParsePolicy(cfg.BLE.Advertising.Policy)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	opts := ble.DefaultHostOptions()
	opts.Policy = policy
	opts.RotateInterval = cfg.BLE.Advertising.RotateInterval
	opts.ReportDescriptors = cfg.BLE.ReportDescriptors
	opts.Retry.MaxAttempts = cfg.BLE.Retry.MaxAttempts
	opts.Retry.MaxDelay = cfg.BLE.Retry.BackoffMax

	host := ble.NewHost(stack, opts)
	for _, mc := range cfg.Mice {
		pin, err := cfg.PinCode(mc)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		if _, err := host.AddMouse(ble.MouseConfig{
			ID:           mc.ID,
			Name:         mc.Name,
			Manufacturer: mc.Manufacturer,
			Model:        mc.Model,
			BatteryLevel: uint8(mc.BatteryLevel),
			PinCode:      pin,
			PnP:          catalog.DefaultPnPID,
		}); err != nil {
			cleanup()
			return nil, nil, err
		}
	}

	go func() {
		if err := host.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("ERROR: BLE event loop: %v", err)
		}
	}()

	if err := host.StartAll(); err != nil {
		cleanup()
		return nil, nil, err
	}
	return host, cleanup, nil
}

// openBlueZ powers the BlueZ adapter and opens it for pairing. The client
// stays open for the link watch and the pairing agent.
func openBlueZ(cfg *config.Config) (*bluez.Client, dbus.ObjectPath, error) {
	client, err := bluez.Connect()
	if err != nil {
		return nil, "", err
	}
	path, err := client.FindAdapter(cfg.BLE.Adapter)
	if err != nil {
		client.Close()
		return nil, "", err
	}
	if err := client.Prepare(path, bluez.Settings{
		Alias:        cfg.Mice[0].Name,
		Discoverable: true,
		Pairable:     true,
	}); err != nil {
		client.Close()
		return nil, "", err
	}
	log.Printf("BlueZ adapter %s ready", path)
	return client, path, nil
}

// attachBlueZ forwards device links to the stack and answers pairing
// requests with the mice's PINs. It reports whether the agent is active.
func attachBlueZ(ctx context.Context, client *bluez.Client, adapter dbus.ObjectPath, stack ble.PlatformStack) bool {
	links, err := client.WatchLinks(ctx, adapter)
	if err != nil {
		log.Printf("WARNING: %v (disconnects may go unnoticed)", err)
	} else {
		go func() {
			for l := range links {
				stack.ReportLink(l.Address, l.Connected)
			}
		}()
	}

	err = client.RegisterAgent(&bluez.Agent{
		Passkey: func(_ dbus.ObjectPath, address string) (uint32, bool) {
			return stack.Passkey(address)
		},
	})
	if err != nil {
		log.Printf("WARNING: %v (pairing PINs are not enforced)", err)
		return false
	}
	stack.SetPairingAgent(true)
	return true
}

// logStatus prints one line per mouse.
func logStatus(host *ble.Host) {
	for _, m := range host.Mice() {
		s := m.Status()
		line := fmt.Sprintf("Mouse %d (%s): %s, %s, %s, %d reports", s.ID, s.Name, s.State, s.Conn, s.Adv, s.ReportsSent)
		if s.Err != nil {
			line += fmt.Sprintf(", last error: %v", s.Err)
		}
		log.Println(line)
	}
}

func enabledWord(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	// No config file, use defaults
	log.Println("No config file found, using defaults (run with -write-config to create one)")
	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	names := make([]string, 0, len(cfg.Mice))
	for _, m := range cfg.Mice {
		names = append(names, fmt.Sprintf("%d:%s", m.ID, m.Name))
	}
	fmt.Println("=== ble-mouse-jiggler ===")
	fmt.Printf("  Mice:    %s\n", strings.Join(names, ", "))
	fmt.Printf("  Output:  %s\n", cfg.Output.Method)
	fmt.Printf("  Jiggle:  every %s, %dpx\n", cfg.Jiggle.Interval, cfg.Jiggle.Distance)
	fmt.Printf("  Adv:     %s\n", cfg.BLE.Advertising.Policy)
	fmt.Printf("  Toggle:  %s\n", strings.Join(cfg.Hotkey.Toggle, "+"))
	fmt.Printf("  Once:    %s\n", strings.Join(cfg.Hotkey.JiggleOnce, "+"))
	fmt.Printf("  Log:     %s\n", cfg.LogLevel)
	fmt.Println("=========================")
}
