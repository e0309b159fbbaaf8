package models

import "screencopy/adb"

// Device is one entry of a discovery result.
type Device struct {
	Index       int    `json:"index"`
	Name        string `json:"name"`
	ProductName string `json:"product_name"`
	Serial      string `json:"serial"`
	State       string `json:"state"`

	// Ref is the underlying USB device the entry was built from.
	Ref adb.DeviceRef `json:"-"`
}
