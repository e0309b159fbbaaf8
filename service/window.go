package service

import (
	"context"

	"screencopy/models"
)

// Window is the editor-style UI the commands talk to.
type Window interface {
	ShowInformationMessage(ctx context.Context, message string)
	ShowErrorMessage(ctx context.Context, message string)
	// ShowQuickPick returns the Index of the chosen item; ok is false when
	// the pick list was dismissed.
	ShowQuickPick(ctx context.Context, items []models.QuickPickItem) (index int, ok bool, err error)
	CreatePanel(ctx context.Context, title string) (Panel, error)
}

// Panel is a presentation surface that receives posted messages.
type Panel interface {
	ID() string
	PostMessage(message any) error
	// Done is closed once the panel is disposed.
	Done() <-chan struct{}
	Dispose()
}

// FrameSink accepts raw frame payloads.
type FrameSink interface {
	SendFrame(data []byte) error
}

// PanelSink posts each frame to a panel as a videoFrame message.
type PanelSink struct {
	Panel Panel
}

func (s PanelSink) SendFrame(data []byte) error {
	return s.Panel.PostMessage(models.FrameMessage{
		Type:      models.MsgVideoFrame,
		PanelID:   s.Panel.ID(),
		FrameData: data,
	})
}
