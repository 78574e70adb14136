//go:build ignore

// Command cpu_features prints the CPU features the tensor kernels detect.
//
//	go run scripts/cpu_features.go
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/goccy/go-json"
	xcpu "golang.org/x/sys/cpu"

	"github.com/samcharles93/dit/internal/tensor"
)

type output struct {
	GoVersion string          `json:"go_version"`
	GoOS      string          `json:"go_os"`
	GoArch    string          `json:"go_arch"`
	CPUs      int             `json:"cpus"`
	Kernels   map[string]bool `json:"kernels"`
	Features  map[string]bool `json:"features"`
}

func main() {
	f := tensor.Features()
	out := output{
		GoVersion: runtime.Version(),
		GoOS:      runtime.GOOS,
		GoArch:    runtime.GOARCH,
		CPUs:      runtime.NumCPU(),
		Kernels: map[string]bool{
			"avx2": f.HasAVX2,
			"fma":  f.HasFMA,
			"neon": f.HasNEON,
		},
		Features: map[string]bool{
			"AVX":        xcpu.X86.HasAVX,
			"AVX2":       xcpu.X86.HasAVX2,
			"FMA":        xcpu.X86.HasFMA,
			"AVX512F":    xcpu.X86.HasAVX512F,
			"AVX512BW":   xcpu.X86.HasAVX512BW,
			"AVX512VNNI": xcpu.X86.HasAVX512VNNI,
			"ASIMD":      xcpu.ARM64.HasASIMD,
			"ASIMDDP":    xcpu.ARM64.HasASIMDDP,
			"SVE":        xcpu.ARM64.HasSVE,
		},
	}

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(b))
}
