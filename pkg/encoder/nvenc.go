//go:build darwin || linux

package encoder

import (
	"fmt"

	"github.com/ebitengine/purego"
)

var nvencFactory = H264Factory{Name: "NVIDIA", New: newNVENC}

// newNVENC probes for the NVENC runtime. The probe succeeds only on
// machines with the NVIDIA encode library present and a supported API
// version; session setup is not wired yet, so the probe reports the
// backend unavailable and dispatch falls through.
// TODO: drive an NVEncodeAPI session once the function table is bound.
func newNVENC(rt *Runtime, conf H264Config) (H264Encoder, error) {
	handle, err := purego.Dlopen("libnvidia-encode.so.1", purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAvailable, err)
	}

	var getMaxVersion func(version *uint32) int32
	purego.RegisterLibFunc(&getMaxVersion, handle, "NvEncodeAPIGetMaxSupportedVersion")

	var version uint32
	if ret := getMaxVersion(&version); ret != 0 {
		return nil, fmt.Errorf("%w: NvEncodeAPIGetMaxSupportedVersion: %d", ErrNotAvailable, ret)
	}
	rt.Logger.WithField("version", version).Debug("NVENC runtime present")

	return nil, ErrNotAvailable
}
