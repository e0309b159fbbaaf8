package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"golang.org/x/sync/singleflight"

	"screencopy/adb"
	"screencopy/metrics"
	"screencopy/models"
)

// USBManager enumerates attached devices.
type USBManager interface {
	GetDevices(ctx context.Context) ([]adb.DeviceRef, error)
}

// DefaultDiscoveryTimeout bounds one device query.
const DefaultDiscoveryTimeout = 10 * time.Second

type DeviceManager struct {
	DiscoveryTimeout time.Duration

	usb     USBManager
	metrics *metrics.Metrics
	group   singleflight.Group

	mu      sync.RWMutex
	devices []models.Device
}

func NewDeviceManager(usb USBManager, m *metrics.Metrics) *DeviceManager {
	return &DeviceManager{DiscoveryTimeout: DefaultDiscoveryTimeout, usb: usb, metrics: m}
}

// ListDevices queries the USB manager and returns one entry per device,
// indexed by position. Concurrent calls share a single query, which runs
// detached from any one caller's ctx and is bounded by DiscoveryTimeout.
// The result also replaces the snapshot returned by GetAllDevices.
func (m *DeviceManager) ListDevices(ctx context.Context) ([]models.Device, error) {
	ch := m.group.DoChan("devices", func() (interface{}, error) {
		queryCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.DiscoveryTimeout)
		defer cancel()

		refs, err := m.usb.GetDevices(queryCtx)
		if err != nil {
			return nil, newError(KindDiscovery, "list devices", "", err)
		}

		devices := lo.Map(refs, func(ref adb.DeviceRef, i int) models.Device {
			return models.Device{
				Index:       i,
				Name:        ref.Name(),
				ProductName: ref.ProductName(),
				Serial:      ref.Serial(),
				State:       ref.State(),
				Ref:         ref,
			}
		})

		m.mu.Lock()
		m.devices = devices
		m.mu.Unlock()

		m.metrics.RecordDiscovery(len(devices))
		log.Info().Int("count", len(devices)).Msg("📱 ADB devices found")
		return devices, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Err != nil {
		return nil, res.Err
	}
	if res.Shared {
		log.Debug().Msg("Device discovery shared with a concurrent caller")
	}

	// Callers get their own slice header; entries are values.
	return append([]models.Device(nil), res.Val.([]models.Device)...), nil
}

// ScanDevices refreshes the snapshot.
func (m *DeviceManager) ScanDevices(ctx context.Context) error {
	_, err := m.ListDevices(ctx)
	return err
}

// GetAllDevices returns the last discovery result.
func (m *DeviceManager) GetAllDevices() []models.Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Device{}, m.devices...)
}

// GetDevice returns a device from the last discovery result by serial.
func (m *DeviceManager) GetDevice(serial string) (models.Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lo.Find(m.devices, func(d models.Device) bool {
		return d.Serial == serial
	})
}

// QuickPickItems renders devices as pick-list entries, one per device.
func QuickPickItems(devices []models.Device) []models.QuickPickItem {
	return lo.Map(devices, func(d models.Device, _ int) models.QuickPickItem {
		desc := d.Serial
		if d.ProductName != "" {
			desc = d.ProductName + " · " + d.Serial
		}
		return models.QuickPickItem{Label: d.Name, Description: desc, Index: d.Index}
	})
}

// Resolve maps a pick-list index back to the device it was built from.
func Resolve(devices []models.Device, index int) (models.Device, error) {
	if index < 0 || index >= len(devices) {
		return models.Device{}, fmt.Errorf("selection %d out of range (%d devices)", index, len(devices))
	}
	d := devices[index]
	if d.Index != index {
		return models.Device{}, fmt.Errorf("device list out of order at %d", index)
	}
	return d, nil
}
