package savearea

import "strings"

const WavefrontSize = 64

// Layout carries the per-architecture parameters the decoder needs.
type Layout struct {
	HasAccVGPRs   bool
	WavefrontSize uint32
}

type archInfo struct {
	hasAccVGPRs bool
}

var supportedArchs = map[string]archInfo{
	"gfx900": {hasAccVGPRs: false},
	"gfx906": {hasAccVGPRs: false},
	"gfx908": {hasAccVGPRs: true},
}

// GfxTarget extracts the gfx processor name from an ISA string such as
// "amdgcn-amd-amdhsa--gfx908:sramecc+:xnack-". It returns "" when none is present.
func GfxTarget(isa string) string {
	if i := strings.LastIndex(isa, "--"); i >= 0 {
		isa = isa[i+2:]
	}
	if i := strings.IndexByte(isa, ':'); i >= 0 {
		isa = isa[:i]
	}
	isa = strings.TrimSpace(isa)
	if !strings.HasPrefix(isa, "gfx") {
		return ""
	}
	return isa
}

// LayoutForISA reports the save-area layout of a supported architecture.
func LayoutForISA(isa string) (Layout, bool) {
	info, ok := supportedArchs[GfxTarget(isa)]
	if !ok {
		return Layout{WavefrontSize: WavefrontSize}, false
	}
	return Layout{HasAccVGPRs: info.hasAccVGPRs, WavefrontSize: WavefrontSize}, true
}

func SupportedTargets() []string {
	return []string{"gfx900", "gfx906", "gfx908"}
}
