package tensor

import (
	"runtime"

	xcpu "golang.org/x/sys/cpu"
)

// CPUFeatures records the instruction set extensions the kernels care about.
type CPUFeatures struct {
	HasAVX2 bool
	HasFMA  bool
	HasNEON bool
}

var cpu = detectCPU()

func detectCPU() CPUFeatures {
	f := CPUFeatures{}
	switch runtime.GOARCH {
	case "amd64", "386":
		f.HasAVX2 = xcpu.X86.HasAVX2
		f.HasFMA = xcpu.X86.HasFMA
	case "arm64":
		f.HasNEON = xcpu.ARM64.HasASIMD
	}
	return f
}

// Features reports the detected CPU features.
func Features() CPUFeatures { return cpu }

// wideVectors reports whether the unrolled inner loops are worth using.
func wideVectors() bool { return cpu.HasAVX2 || cpu.HasNEON }
