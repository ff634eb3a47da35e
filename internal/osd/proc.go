package osd

import (
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cast"
)

// ProcessorsEnv overrides the detected logical processor count when set to a
// positive integer.
const ProcessorsEnv = "WORKQ_PROCESSORS"

// NumProcessors returns the effective logical processor count: the value of
// ProcessorsEnv when valid, otherwise runtime.NumCPU.
func NumProcessors() int {
	if v, ok := os.LookupEnv(ProcessorsEnv); ok {
		if n, err := cast.ToIntE(strings.TrimSpace(v)); err == nil && n > 0 {
			return n
		}
	}
	return runtime.NumCPU()
}

// Yield is the processor yield hint used inside spin loops.
func Yield() {
	runtime.Gosched()
}
