package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"screencopy/metrics"
	"screencopy/scrcpy"
)

// StreamState represents the lifecycle state of a panel stream
type StreamState int

const (
	StateStopped  StreamState = iota // Not running
	StateStarting                    // attached, no packet yet
	StateRunning                     // Actively streaming
	StateStopping                    // Cancel requested
)

func (s StreamState) String() string {
	return [...]string{"STOPPED", "STARTING", "RUNNING", "STOPPING"}[s]
}

// VideoStream yields scrcpy packets. Close must unblock a pending Next.
type VideoStream interface {
	Next() (*scrcpy.Packet, error)
	Close() error
}

// StreamingService forwards video packets into frame sinks and tracks the
// streams attached to each panel.
type StreamingService struct {
	metrics *metrics.Metrics

	mu      sync.RWMutex
	streams map[string]*panelStream
}

// StreamInfo is what the server announced during the handshake.
type StreamInfo struct {
	DeviceName string `json:"device_name,omitempty"`
	Codec      string `json:"codec,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
}

type panelStream struct {
	panelID   string
	serial    string
	info      StreamInfo
	state     StreamState
	cancel    context.CancelFunc
	startedAt time.Time
	frames    int
}

func NewStreamingService(m *metrics.Metrics) *StreamingService {
	return &StreamingService{
		metrics: m,
		streams: make(map[string]*panelStream),
	}
}

// Attach consumes stream until the producer closes it, an error occurs, or
// ctx is cancelled, forwarding every data packet to sink unchanged and in
// order. Other packet types are dropped. Clean end of stream and
// cancellation return nil; anything else is a KindStream error.
func (s *StreamingService) Attach(ctx context.Context, panelID, serial string, info StreamInfo, stream VideoStream, sink FrameSink) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ps := &panelStream{panelID: panelID, serial: serial, info: info, state: StateStarting, cancel: cancel, startedAt: time.Now()}
	s.mu.Lock()
	if _, exists := s.streams[panelID]; exists {
		s.mu.Unlock()
		return newError(KindStream, "attach", serial, fmt.Errorf("panel %s already has a stream", panelID))
	}
	s.streams[panelID] = ps
	s.mu.Unlock()

	s.metrics.StreamStarted()
	defer func() {
		s.mu.Lock()
		delete(s.streams, panelID)
		s.mu.Unlock()
		s.metrics.StreamEnded()
	}()

	// Closing the stream is the only way to interrupt a blocked read.
	stop := context.AfterFunc(ctx, func() {
		stream.Close()
	})
	defer stop()

	log.Info().Str("serial", serial).Str("panel_id", panelID).Msgf("🎬 [%s] Consuming video stream", serial)

	for {
		pkt, err := stream.Next()
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Str("serial", serial).Str("panel_id", panelID).Msgf("⏹️ [%s] Stream cancelled after %d frames", serial, s.frameCount(ps))
				return nil
			}
			if errors.Is(err, io.EOF) {
				log.Info().Str("serial", serial).Str("panel_id", panelID).Msgf("⚠️ [%s] Stream closed by remote device (EOF)", serial)
				return nil
			}
			log.Error().Err(err).Str("serial", serial).Str("panel_id", panelID).Msgf("❌ [%s] Stream read error", serial)
			return newError(KindStream, "read packet", serial, err)
		}

		if pkt.Type != scrcpy.PacketData {
			s.metrics.RecordDropped()
			continue
		}

		if err := sink.SendFrame(pkt.Data); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Str("serial", serial).Str("panel_id", panelID).Msgf("❌ [%s] Failed to forward frame", serial)
			return newError(KindStream, "forward frame", serial, err)
		}
		s.metrics.RecordFrame(len(pkt.Data))

		s.mu.Lock()
		ps.frames++
		if ps.state == StateStarting {
			ps.state = StateRunning
			log.Info().Str("serial", serial).Msgf("🎞️ [%s] First frame forwarded (%d bytes)", serial, len(pkt.Data))
		} else if ps.frames%1000 == 0 {
			log.Debug().Str("serial", serial).Msgf("📹 [%s] Streaming: %d frames sent", serial, ps.frames)
		}
		s.mu.Unlock()
	}
}

func (s *StreamingService) frameCount(ps *panelStream) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ps.frames
}

// StopStreaming cancels the stream attached to a panel.
func (s *StreamingService) StopStreaming(panelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ps, exists := s.streams[panelID]
	if !exists {
		return fmt.Errorf("no stream attached to panel %s", panelID)
	}
	if ps.state == StateStopping {
		return nil
	}

	log.Info().Str("panel_id", panelID).Msgf("🛑 [%s] StopStreaming called (state=%s)", ps.serial, ps.state)
	ps.state = StateStopping
	ps.cancel()
	return nil
}

// StopAllStreaming stops all active streams
func (s *StreamingService) StopAllStreaming() {
	s.mu.RLock()
	panelIDs := make([]string, 0, len(s.streams))
	for id := range s.streams {
		panelIDs = append(panelIDs, id)
	}
	s.mu.RUnlock()

	for _, id := range panelIDs {
		s.StopStreaming(id)
	}
}

// IsStreaming checks if a panel currently has a stream attached
func (s *StreamingService) IsStreaming(panelID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.streams[panelID]
	return exists
}

// StreamStatus describes one attached stream.
type StreamStatus struct {
	PanelID   string    `json:"panel_id"`
	Serial    string    `json:"serial"`
	State     string    `json:"state"`
	Frames    int       `json:"frames"`
	StartedAt time.Time `json:"started_at"`
	StreamInfo
}

// GetStreamingStatus returns the status of all streams
func (s *StreamingService) GetStreamingStatus() map[string]StreamStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := make(map[string]StreamStatus, len(s.streams))
	for id, ps := range s.streams {
		status[id] = StreamStatus{
			PanelID:    ps.panelID,
			Serial:     ps.serial,
			State:      ps.state.String(),
			Frames:     ps.frames,
			StartedAt:  ps.startedAt,
			StreamInfo: ps.info,
		}
	}
	return status
}
