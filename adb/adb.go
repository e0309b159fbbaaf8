package adb

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Device states reported by adb.
const (
	StateDevice       = "device"
	StateUnauthorized = "unauthorized"
	StateOffline      = "offline"
)

// DeviceInfo is one row of `adb devices -l`.
type DeviceInfo struct {
	Serial      string
	State       string
	USB         string // usb:<bus path>, empty for network transports
	Product     string
	Model       string
	Device      string
	TransportID string
}

// ADBClient wraps ADB command execution
type ADBClient struct {
	ADBPath string
	env     []string
}

// NewADBClient creates a new ADB client. An empty path means "adb" from PATH.
func NewADBClient(adbPath string) *ADBClient {
	if adbPath == "" {
		adbPath = "adb"
	}
	return &ADBClient{ADBPath: adbPath}
}

// UseCredentials points the adb server at the host identity held by store
// and starts the server with it. The server reads vendor keys only when it
// starts, so started is false when a server was already running: that
// server keeps its own keys until it is restarted with `adb kill-server`.
func (c *ADBClient) UseCredentials(ctx context.Context, store CredentialStore) (started bool, err error) {
	keyPath, err := store.PrivateKeyPath()
	if err != nil {
		return false, fmt.Errorf("failed to load adb credentials: %w", err)
	}
	c.env = append(c.env, "ADB_VENDOR_KEYS="+keyPath)

	output, err := c.command(ctx, "start-server").CombinedOutput()
	if err != nil {
		return false, fmt.Errorf("failed to start adb server: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return strings.Contains(string(output), "daemon started successfully"), nil
}

func (c *ADBClient) command(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.ADBPath, args...)
	if len(c.env) > 0 {
		cmd.Env = append(os.Environ(), c.env...)
	}
	return cmd
}

// ListDevices returns every device row known to the adb server.
func (c *ADBClient) ListDevices(ctx context.Context) ([]DeviceInfo, error) {
	output, err := c.command(ctx, "devices", "-l").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return ParseDeviceList(string(output)), nil
}

// ParseDeviceList parses the output of 'adb devices -l'
func ParseDeviceList(output string) []DeviceInfo {
	var devices []DeviceInfo
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "List of devices") || strings.HasPrefix(line, "*") {
			continue
		}

		// Expected format: <serial> <state> [key:value ...]
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}

		info := DeviceInfo{Serial: parts[0], State: parts[1]}
		for _, part := range parts[2:] {
			key, value, ok := strings.Cut(part, ":")
			if !ok {
				continue
			}
			switch key {
			case "usb":
				info.USB = value
			case "product":
				info.Product = value
			case "model":
				info.Model = strings.ReplaceAll(value, "_", " ")
			case "device":
				info.Device = value
			case "transport_id":
				info.TransportID = value
			}
		}
		devices = append(devices, info)
	}
	return devices
}

// GetState returns the adb state of a single device ("device", "unauthorized", ...)
func (c *ADBClient) GetState(ctx context.Context, serial string) (string, error) {
	output, err := c.command(ctx, "-s", serial, "get-state").CombinedOutput()
	text := strings.TrimSpace(string(output))
	if strings.Contains(text, StateUnauthorized) {
		return StateUnauthorized, nil
	}
	if err != nil {
		return "", fmt.Errorf("get-state failed: %w, output: %s", err, text)
	}
	return text, nil
}

// ExecIn runs command on the device with data written to its stdin as a
// single chunk, then closes stdin.
func (c *ADBClient) ExecIn(ctx context.Context, serial, command string, data []byte) error {
	cmd := c.command(ctx, "-s", serial, "exec-in", command)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start exec-in: %w", err)
	}

	_, writeErr := stdin.Write(data)
	closeErr := stdin.Close()
	waitErr := cmd.Wait()

	switch {
	case writeErr != nil:
		return fmt.Errorf("exec-in write failed: %w", writeErr)
	case closeErr != nil:
		return fmt.Errorf("exec-in close failed: %w", closeErr)
	case waitErr != nil:
		return fmt.Errorf("exec-in failed: %w, stderr: %s", waitErr, stderr.String())
	}
	return nil
}

// ScreenCapture captures the device screen and returns PNG bytes
func (c *ADBClient) ScreenCapture(ctx context.Context, serial string) ([]byte, error) {
	cmd := c.command(ctx, "-s", serial, "exec-out", "screencap", "-p")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("screencap failed: %w, stderr: %s", err, stderr.String())
	}

	return stdout.Bytes(), nil
}

// Forward creates ADB port forwarding from local TCP port to remote abstract socket
// Example: adb -s <serial> forward tcp:27183 localabstract:scrcpy
func (c *ADBClient) Forward(ctx context.Context, serial string, localPort int, remoteSocket string) error {
	cmd := c.command(ctx, "-s", serial, "forward",
		fmt.Sprintf("tcp:%d", localPort),
		fmt.Sprintf("localabstract:%s", remoteSocket))

	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("adb forward failed: %w, output: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// RemoveForward removes ADB port forwarding for the specified local port
func (c *ADBClient) RemoveForward(ctx context.Context, serial string, localPort int) error {
	cmd := c.command(ctx, "-s", serial, "forward", "--remove", fmt.Sprintf("tcp:%d", localPort))

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("adb forward remove failed: %w", err)
	}
	return nil
}

// ExecuteCommandBackground starts a non-blocking shell command on the device.
// The returned process is killed when ctx is cancelled.
func (c *ADBClient) ExecuteCommandBackground(ctx context.Context, serial string, args []string) (Process, error) {
	fullArgs := append([]string{"-s", serial, "shell"}, args...)
	cmd := c.command(ctx, fullArgs...)
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start background command: %w", err)
	}

	return &cmdProcess{cmd: cmd}, nil
}

// Process is a running remote command.
type Process interface {
	Pid() int
	Wait() error
	Kill() error
}

type cmdProcess struct {
	cmd *exec.Cmd
}

func (p *cmdProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *cmdProcess) Wait() error {
	return p.cmd.Wait()
}

func (p *cmdProcess) Kill() error {
	return p.cmd.Process.Kill()
}
