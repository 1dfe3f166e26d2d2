// Command test-hotkey is a manual test for the global hotkey listener.
// Run it, then press Ctrl+Shift+J (toggle) or Ctrl+Shift+K (jiggle once)
// to see events. Press Ctrl+C to exit.
//
// Usage:
//
//	go run ./cmd/test-hotkey [--toggle ctrl+shift+j] [--once ctrl+shift+k]
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/grozycki/esphome-ble-mouse-jiggler/internal/hotkey"
)

func main() {
	toggle := flag.String("toggle", "ctrl+shift+j", "toggle combo, keys joined by +")
	once := flag.String("once", "ctrl+shift+k", "jiggle-once combo, keys joined by +")
	flag.Parse()

	fmt.Printf("Listening for %s (toggle) and %s (jiggle once)...\n", *toggle, *once)
	fmt.Println("Press Ctrl+C to exit.")

	listener := hotkey.NewListener(splitCombo(*toggle), splitCombo(*once))

	// Handle Ctrl+C
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Println("\nShutting down...")
		listener.Stop()
	}()

	// Read events
	go func() {
		for ev := range listener.Events() {
			switch ev.Type {
			case hotkey.EventToggle:
				fmt.Println(">>> TOGGLE")
			case hotkey.EventJiggleOnce:
				fmt.Println("<<< JIGGLE ONCE")
			}
		}
		fmt.Println("Event channel closed.")
	}()

	// Blocks until stopped
	listener.Start()
	fmt.Println("Done.")
}

func splitCombo(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.ToLower(s), "+")
}
