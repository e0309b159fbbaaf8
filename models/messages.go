package models

// UI bridge message types
const (
	MsgInfo            = "info"
	MsgError           = "error"
	MsgQuickPick       = "quickPick"
	MsgQuickPickResult = "quickPickResult"
	MsgPanelCreated    = "panelCreated"
	MsgPanelDisposed   = "panelDisposed"
	MsgDisposePanel    = "disposePanel"
	MsgSubscribe       = "subscribe"
	MsgUnsubscribe     = "unsubscribe"
	MsgVideoFrame      = "videoFrame"
	MsgScreenshot      = "screenshot"
)

type QuickPickItem struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
	Index       int    `json:"index"`
}

type NotificationMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type QuickPickMessage struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	Items     []QuickPickItem `json:"items"`
}

type PanelMessage struct {
	Type    string `json:"type"`
	PanelID string `json:"panel_id"`
	Title   string `json:"title,omitempty"`
}

// FrameMessage carries raw frame bytes; JSON encodes them as base64.
type FrameMessage struct {
	Type      string `json:"type"`
	PanelID   string `json:"panel_id"`
	FrameData []byte `json:"frameData"`
}

// ClientMessage is anything a UI client sends over the bridge.
type ClientMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Index     *int   `json:"index,omitempty"`
	PanelID   string `json:"panel_id,omitempty"`
}
