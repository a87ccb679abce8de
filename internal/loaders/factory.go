package loaders

import (
	"errors"

	"github.com/ALEYI17/InfraSight_gpudebug/pkg/types"
)

var ErrUnknownProgram = errors.New("unsupported or unknown program")

func NewEbpfGpuLoaders(program string, cfg TracerConfig, collectors ...types.Gpu_collectors) (types.Gpu_loaders, error) {
	switch program {
	case types.LoaderHsaRuntime:
		return NewHsaTracerLoader(cfg, collectors...)
	default:
		return nil, ErrUnknownProgram
	}
}
