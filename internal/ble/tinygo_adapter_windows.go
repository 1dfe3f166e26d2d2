package ble

import (
	"log/slog"

	"tinygo.org/x/bluetooth"
)

// tinyAdapter returns the only adapter WinRT exposes.
func tinyAdapter(name string) *bluetooth.Adapter {
	if name != "" {
		slog.Warn("[BLE] adapter selection is not supported on windows, using the default adapter", "adapter", name)
	}
	return bluetooth.DefaultAdapter
}
