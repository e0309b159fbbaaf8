package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"screencopy/metrics"
	"screencopy/models"
	"screencopy/scrcpy"
)

// Command names, as exposed on the command surface.
const (
	CommandQuickInfo      = "quick-info"
	CommandStartStreaming = "start-streaming"
)

// Recorder persists the outcome of each command flow.
type Recorder interface {
	Record(ctx context.Context, rec models.SessionRecord) error
}

type CommandOptions struct {
	ServerBinaryPath  string
	Scrcpy            scrcpy.Options
	CaptureScreenshot bool
}

// CommandDeps wires the collaborators of Commands.
type CommandDeps struct {
	Window    Window
	Devices   *DeviceManager
	Connector *Connector
	Deployer  *Deployer
	Launcher  *Launcher
	Streaming *StreamingService
	History   Recorder
	Metrics   *metrics.Metrics
}

// Commands implements the user-invocable operations. Each one catches its
// own failures, logs them, shows a short message and records the outcome.
type Commands struct {
	window    Window
	devices   *DeviceManager
	connector *Connector
	deployer  *Deployer
	launcher  *Launcher
	streaming *StreamingService
	history   Recorder
	metrics   *metrics.Metrics
	opts      CommandOptions

	flows sync.WaitGroup
}

func NewCommands(deps CommandDeps, opts CommandOptions) *Commands {
	return &Commands{
		window:    deps.Window,
		devices:   deps.Devices,
		connector: deps.Connector,
		deployer:  deps.Deployer,
		launcher:  deps.Launcher,
		streaming: deps.Streaming,
		history:   deps.History,
		metrics:   deps.Metrics,
		opts:      opts,
	}
}

// Run dispatches a command by name.
func (c *Commands) Run(ctx context.Context, name string) error {
	switch name {
	case CommandQuickInfo:
		return c.QuickInfo(ctx)
	case CommandStartStreaming:
		return c.StartStreaming(ctx)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
}

// Go starts a command in the background under ctx. Wait blocks until every
// command started this way has returned.
func (c *Commands) Go(ctx context.Context, name string) error {
	switch name {
	case CommandQuickInfo, CommandStartStreaming:
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}

	c.flows.Add(1)
	go func() {
		defer c.flows.Done()
		if err := c.Run(ctx, name); err != nil {
			log.Debug().Err(err).Str("command", name).Msg("Command finished with error")
		}
	}()
	return nil
}

// Wait waits for background commands to finish their teardown, or for ctx
// to be done.
func (c *Commands) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.flows.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QuickInfo lists devices, lets the user pick one and echoes the choice.
// With CaptureScreenshot it also grabs one framebuffer into a new panel.
func (c *Commands) QuickInfo(ctx context.Context) error {
	return c.run(ctx, CommandQuickInfo, func(ctx context.Context, rec *models.SessionRecord) error {
		device, err := c.pickDevice(ctx, rec)
		if err != nil {
			return err
		}
		c.window.ShowInformationMessage(ctx, fmt.Sprintf("Selected device: %s (%s)", device.Name, device.Serial))

		if !c.opts.CaptureScreenshot {
			return nil
		}

		session, err := c.connector.Connect(ctx, device)
		if err != nil {
			return err
		}
		defer session.Close()

		png, err := session.Conn.ScreenCapture(ctx)
		if err != nil {
			return newError(KindCapture, "screencap", device.Serial, err)
		}

		panel, err := c.window.CreatePanel(ctx, "Screenshot - "+device.Name)
		if err != nil {
			return fmt.Errorf("create panel: %w", err)
		}
		if err := panel.PostMessage(models.FrameMessage{Type: models.MsgScreenshot, PanelID: panel.ID(), FrameData: png}); err != nil {
			return newError(KindCapture, "post screenshot", device.Serial, err)
		}

		log.Info().Str("serial", device.Serial).Int("bytes", len(png)).Msgf("📸 [%s] Screenshot taken", device.Serial)
		c.window.ShowInformationMessage(ctx, "Screenshot taken.")
		return nil
	})
}

// StartStreaming runs discovery, connect, push, launch and attaches the
// video stream to a new panel. Disposing the panel stops the stream.
func (c *Commands) StartStreaming(ctx context.Context) error {
	return c.run(ctx, CommandStartStreaming, func(ctx context.Context, rec *models.SessionRecord) error {
		device, err := c.pickDevice(ctx, rec)
		if err != nil {
			return err
		}

		session, err := c.connector.Connect(ctx, device)
		if err != nil {
			return err
		}
		defer session.Close()

		if err := c.deployer.PushFile(ctx, session, c.opts.ServerBinaryPath); err != nil {
			return err
		}

		client, err := c.launcher.Start(ctx, session, c.opts.Scrcpy)
		if err != nil {
			return err
		}
		if client == nil {
			return newError(KindLaunchFailure, "start server", device.Serial, ErrNoServerClient)
		}
		defer client.Stop()

		panel, err := c.window.CreatePanel(ctx, "scrcpy - "+device.Name)
		if err != nil {
			return fmt.Errorf("create panel: %w", err)
		}
		defer panel.Dispose()

		streamCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			select {
			case <-panel.Done():
				log.Info().Str("panel_id", panel.ID()).Msgf("🪟 [%s] Panel disposed, stopping stream", device.Serial)
				cancel()
			case <-streamCtx.Done():
			}
		}()

		return c.streaming.Attach(streamCtx, panel.ID(), device.Serial, client.Info(), client.VideoStream(), PanelSink{Panel: panel})
	})
}

// pickDevice discovers devices and asks the user to choose one. The
// discovery result is passed straight to the resolver so the selection
// always maps to the list the user saw.
func (c *Commands) pickDevice(ctx context.Context, rec *models.SessionRecord) (models.Device, error) {
	devices, err := c.devices.ListDevices(ctx)
	if err != nil {
		return models.Device{}, err
	}
	if len(devices) == 0 {
		return models.Device{}, ErrNoDevices
	}

	index, ok, err := c.window.ShowQuickPick(ctx, QuickPickItems(devices))
	if err != nil {
		return models.Device{}, fmt.Errorf("quick pick: %w", err)
	}
	if !ok {
		return models.Device{}, ErrSelectionCancelled
	}

	device, err := Resolve(devices, index)
	if err != nil {
		return models.Device{}, err
	}
	rec.Serial = device.Serial
	return device, nil
}

func (c *Commands) run(ctx context.Context, name string, flow func(context.Context, *models.SessionRecord) error) error {
	rec := models.SessionRecord{
		ID:        uuid.NewString(),
		Command:   name,
		StartedAt: time.Now(),
	}
	log.Info().Str("command", name).Str("session", rec.ID).Msg("▶️ Command started")

	err := flow(ctx, &rec)
	c.finish(ctx, &rec, err)
	return err
}

func (c *Commands) finish(ctx context.Context, rec *models.SessionRecord, err error) {
	switch {
	case err == nil:
		rec.Outcome = models.OutcomeSuccess
	case errors.Is(err, ErrNoDevices):
		rec.Outcome = models.OutcomeNoDevices
		c.window.ShowInformationMessage(ctx, "No devices connected")
	case errors.Is(err, ErrSelectionCancelled):
		rec.Outcome = models.OutcomeCancelled
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		rec.Outcome = models.OutcomeCancelled
		log.Info().Err(err).Str("command", rec.Command).Str("serial", rec.Serial).Msg("⏹️ Command interrupted")
	default:
		kind := KindOf(err)
		rec.Outcome = models.OutcomeFailed
		rec.ErrorKind = kind.String()
		rec.Error = err.Error()
		c.metrics.RecordError(kind.String())
		log.Error().Err(err).Str("command", rec.Command).Str("kind", kind.String()).Str("serial", rec.Serial).Msg("❌ Command failed")
		c.window.ShowErrorMessage(ctx, UserMessage(kind))
	}

	ended := time.Now()
	rec.EndedAt = &ended
	if c.history == nil {
		return
	}
	if err := c.history.Record(context.WithoutCancel(ctx), *rec); err != nil {
		log.Warn().Err(err).Str("session", rec.ID).Msg("⚠️ Failed to record session history")
	}
}
