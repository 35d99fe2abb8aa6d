//go:build !darwin && !linux

package encoder

// Codec libraries are loaded with dlopen, which purego only provides
// on darwin and linux. Other platforms get no built-in backends;
// embedders supply their own factories through the Runtime.

func unavailableH264(name string) H264Factory {
	return H264Factory{
		Name: name,
		New: func(rt *Runtime, conf H264Config) (H264Encoder, error) {
			return nil, ErrNotAvailable
		},
	}
}

var (
	nvencFactory    = unavailableH264("NVIDIA")
	amfFactory      = unavailableH264("AMD")
	openH264Factory = unavailableH264("OpenH264")

	faacFactory = AACFactory{
		Name: "FAAC",
		New: func(rt *Runtime, conf AACConfig) (AACEncoder, error) {
			return nil, ErrNotAvailable
		},
	}
)
