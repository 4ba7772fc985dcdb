// Command shim is the instrumentation library preloaded into every target run.
//
//	go build -buildmode=c-shared -o build/libcorrfuzz_shim.so ./cmd/shim
package main

import "C"

import (
	"os"

	"corrfuzz/internal/shim"
	"corrfuzz/internal/symbols"
)

var state *shim.Shim

//export corrfuzzLoad
func corrfuzzLoad() {
	state = shim.Load(os.Getenv, shim.NewFaultLogger(shim.FaultLogName))
}

//export corrfuzzFinalize
func corrfuzzFinalize() {
	if state == nil {
		return
	}
	// errors are already in the fault log
	_ = state.Finalize(symbols.Process{})
}

func main() {}
