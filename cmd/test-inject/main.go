// Command test-inject is a manual test for local pointer injection.
// It waits 3 seconds, then jiggles the pointer back and forth a few times.
// Watch the cursor after the countdown finishes.
//
// Usage:
//
//	go run ./cmd/test-inject [--distance 10] [--count 4]
package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/grozycki/esphome-ble-mouse-jiggler/internal/inject"
	"github.com/grozycki/esphome-ble-mouse-jiggler/internal/jiggle"
)

func main() {
	distance := flag.Int("distance", jiggle.MaxDistance, "pixels moved on each axis")
	count := flag.Int("count", 4, "number of jiggles")
	flag.Parse()

	fmt.Printf("Will jiggle the pointer %d times by %dpx in 3 seconds...\n", *count, *distance)

	for i := 3; i > 0; i-- {
		fmt.Printf("%d...\n", i)
		time.Sleep(time.Second)
	}

	opts := jiggle.DefaultOptions()
	opts.Distance = *distance
	scheduler, err := jiggle.New(opts, inject.NewLocalInjector())
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	for i := 0; i < *count; i++ {
		if err := scheduler.JiggleOnce(); err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		time.Sleep(500 * time.Millisecond)
	}

	fmt.Printf("\nDone! (%d jiggles)\n", scheduler.Count())
}
