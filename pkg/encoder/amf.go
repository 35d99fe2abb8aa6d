//go:build darwin || linux

package encoder

import (
	"fmt"

	"github.com/ebitengine/purego"
)

var amfFactory = H264Factory{Name: "AMD", New: newAMF}

// newAMF probes for the AMD Advanced Media Framework runtime.
// Like the NVENC probe it only detects the library; dispatch falls
// through to the software encoder.
func newAMF(rt *Runtime, conf H264Config) (H264Encoder, error) {
	handle, err := purego.Dlopen("libamfrt64.so.1", purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAvailable, err)
	}

	var queryVersion func(version *uint64) int32
	purego.RegisterLibFunc(&queryVersion, handle, "AMFQueryVersion")

	var version uint64
	if ret := queryVersion(&version); ret != 0 {
		return nil, fmt.Errorf("%w: AMFQueryVersion: %d", ErrNotAvailable, ret)
	}
	rt.Logger.WithField("version", version).Debug("AMF runtime present")

	return nil, ErrNotAvailable
}
