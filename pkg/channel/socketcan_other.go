//go:build !linux

package channel

import (
	"context"
	"errors"
)

// ErrSocketCANUnsupported is returned on platforms without SocketCAN
var ErrSocketCANUnsupported = errors.New("socketcan is only available on linux")

// NewSocketCANChannel is unavailable on this platform
func NewSocketCANChannel(ctx context.Context, iface string) (PhysicalChannel, error) {
	return nil, ErrSocketCANUnsupported
}
