// Command guardcount is a diagnostic preload library: it prints the number of
// coverage guards of the target and exits before the target's main runs.
//
//	go build -buildmode=c-shared -o build/libcorrfuzz_guardcount.so ./cmd/guardcount
package main

import "C"

import (
	"fmt"
	"os"

	"corrfuzz/internal/symbols"
)

//export corrfuzzPrintGuardCount
func corrfuzzPrintGuardCount() C.int {
	count, ok := symbols.Process{}.GuardCount()
	if !ok {
		fmt.Fprintf(os.Stderr, "%s not found\n", symbols.GuardCountSymbol)
		return 1
	}
	fmt.Println(count)
	return 0
}

func main() {}
