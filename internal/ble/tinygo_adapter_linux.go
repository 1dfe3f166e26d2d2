package ble

import "tinygo.org/x/bluetooth"

// tinyAdapter returns the BlueZ adapter called name ("hci1"), or the first
// adapter when name is empty.
func tinyAdapter(name string) *bluetooth.Adapter {
	if name == "" {
		return bluetooth.DefaultAdapter
	}
	return bluetooth.NewAdapter(name)
}
