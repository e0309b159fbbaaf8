package adb

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/samber/lo"
)

// ErrConnectionClosed is returned by a Connection after Close.
var ErrConnectionClosed = errors.New("adb connection closed")

// DeviceRef is a USB-attached device as seen by the adb server.
type DeviceRef interface {
	Serial() string
	Name() string
	ProductName() string
	State() string
	Connect(ctx context.Context) (Connection, error)
}

// Connection is an open channel to one device. Every call is scoped to the
// serial the connection was opened for.
type Connection interface {
	Serial() string
	State(ctx context.Context) (string, error)
	ExecIn(ctx context.Context, command string, data []byte) error
	ScreenCapture(ctx context.Context) ([]byte, error)
	Forward(ctx context.Context, localPort int, remoteSocket string) error
	RemoveForward(ctx context.Context, localPort int) error
	StartShell(ctx context.Context, args []string) (Process, error)
	Close() error
}

// USBManager enumerates USB-attached devices. All device classes are
// allowed; rows without a usb attribute (emulators, tcpip) are skipped.
type USBManager struct {
	client *ADBClient
}

func NewUSBManager(client *ADBClient) *USBManager {
	return &USBManager{client: client}
}

// GetDevices returns one ref per USB-attached device, in adb order.
func (m *USBManager) GetDevices(ctx context.Context) ([]DeviceRef, error) {
	infos, err := m.client.ListDevices(ctx)
	if err != nil {
		return nil, err
	}

	usbInfos := lo.Filter(infos, func(info DeviceInfo, _ int) bool {
		return info.USB != ""
	})
	return lo.Map(usbInfos, func(info DeviceInfo, _ int) DeviceRef {
		return &usbDevice{client: m.client, info: info}
	}), nil
}

type usbDevice struct {
	client *ADBClient
	info   DeviceInfo
}

func (d *usbDevice) Serial() string { return d.info.Serial }
func (d *usbDevice) State() string  { return d.info.State }

// Name prefers the model name, then the product name, then the serial.
func (d *usbDevice) Name() string {
	switch {
	case d.info.Model != "":
		return d.info.Model
	case d.info.Product != "":
		return d.info.Product
	default:
		return d.info.Serial
	}
}

func (d *usbDevice) ProductName() string { return d.info.Product }

func (d *usbDevice) Connect(ctx context.Context) (Connection, error) {
	if d.info.State == StateOffline {
		return nil, fmt.Errorf("device %s is offline", d.info.Serial)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &deviceConn{client: d.client, serial: d.info.Serial}, nil
}

type deviceConn struct {
	client *ADBClient
	serial string

	mu     sync.Mutex
	closed bool
}

func (c *deviceConn) check() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	return nil
}

func (c *deviceConn) Serial() string { return c.serial }

func (c *deviceConn) State(ctx context.Context) (string, error) {
	if err := c.check(); err != nil {
		return "", err
	}
	return c.client.GetState(ctx, c.serial)
}

func (c *deviceConn) ExecIn(ctx context.Context, command string, data []byte) error {
	if err := c.check(); err != nil {
		return err
	}
	return c.client.ExecIn(ctx, c.serial, command, data)
}

func (c *deviceConn) ScreenCapture(ctx context.Context) ([]byte, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.client.ScreenCapture(ctx, c.serial)
}

func (c *deviceConn) Forward(ctx context.Context, localPort int, remoteSocket string) error {
	if err := c.check(); err != nil {
		return err
	}
	return c.client.Forward(ctx, c.serial, localPort, remoteSocket)
}

func (c *deviceConn) RemoveForward(ctx context.Context, localPort int) error {
	if err := c.check(); err != nil {
		return err
	}
	return c.client.RemoveForward(ctx, c.serial, localPort)
}

func (c *deviceConn) StartShell(ctx context.Context, args []string) (Process, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.client.ExecuteCommandBackground(ctx, c.serial, args)
}

func (c *deviceConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
