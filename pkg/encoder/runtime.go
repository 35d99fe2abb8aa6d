package encoder

import (
	"github.com/sirupsen/logrus"
)

// Runtime holds the process-level encoder environment: codec library
// search paths, the backend factory lists and the logger. It is owned
// by the embedder and passed to every capture context; there is no
// hidden global state.
type Runtime struct {
	Logger *logrus.Logger

	// LibraryPaths are extra directories searched for codec shared
	// libraries before the system default locations.
	LibraryPaths []string

	// HardwareH264 factories are probed in order when hardware
	// encoding is requested.
	HardwareH264 []H264Factory

	// SoftwareH264 is the unconditional fallback.
	SoftwareH264 H264Factory

	AAC AACFactory
}

// DefaultRuntime returns a runtime with the standard backend order:
// NVIDIA, then AMD, then OpenH264; FAAC for audio.
func DefaultRuntime() *Runtime {
	return &Runtime{
		Logger:       logrus.StandardLogger(),
		HardwareH264: []H264Factory{nvencFactory, amfFactory},
		SoftwareH264: openH264Factory,
		AAC:          faacFactory,
	}
}
