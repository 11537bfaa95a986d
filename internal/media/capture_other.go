//go:build !linux

package media

import (
	"context"
	"log/slog"

	"github.com/pion/webrtc/v4"
)

// Capture has no device access outside Linux. Calls still negotiate and
// receive remote media; every capture request fails with ErrUnsupported.
type Capture struct {
	log *slog.Logger
}

func NewCapture(logger *slog.Logger) (*Capture, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return &Capture{log: logger.With("component", "media")}, nil
}

func (c *Capture) RegisterCodecs(m *webrtc.MediaEngine) error {
	return m.RegisterDefaultCodecs()
}

func (c *Capture) UserMedia(context.Context, Constraints) (*Stream, error) {
	c.log.Warn("local capture is only available on linux")
	return nil, ErrUnsupported
}

func (c *Capture) DisplayMedia(context.Context) (Track, error) {
	return nil, ErrUnsupported
}
