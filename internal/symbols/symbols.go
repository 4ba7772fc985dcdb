// Package symbols resolves the coverage symbols of the current process. It is
// only usable from code running inside an instrumented target.
package symbols

/*
#cgo LDFLAGS: -ldl
#define _GNU_SOURCE
#include <dlfcn.h>
#include <stddef.h>
#include <stdint.h>
#include <stdlib.h>

static void *lookup(const char *name) {
	return dlsym(RTLD_DEFAULT, name);
}

static size_t call_size(void *fn) {
	return ((size_t (*)(void))fn)();
}

static const int32_t *call_values(void *fn) {
	return ((const int32_t *(*)(void))fn)();
}
*/
import "C"

import "unsafe"

const (
	GuardCountSymbol  = "get_guard_count"
	GuardValuesSymbol = "get_guard_values"
	StepSymbol        = "__afl_correctness_step"
)

// Lookup returns the address of name in the global scope, or nil.
func Lookup(name string) unsafe.Pointer {
	cs := C.CString(name)
	defer C.free(unsafe.Pointer(cs))
	return C.lookup(cs)
}

// Process implements shim.Target against the running process.
type Process struct{}

func (Process) GuardCount() (int, bool) {
	fn := Lookup(GuardCountSymbol)
	if fn == nil {
		return 0, false
	}
	return int(C.call_size(fn)), true
}

func (Process) GuardValues(n int) ([]int32, bool) {
	fn := Lookup(GuardValuesSymbol)
	if fn == nil {
		return nil, false
	}
	values := C.call_values(fn)
	if values == nil {
		return nil, false
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(values)), n), true
}

// ProgressStep reads the word-sized global the instrumented compiler bumps.
func (Process) ProgressStep() (uint64, bool) {
	addr := Lookup(StepSymbol)
	if addr == nil {
		return 0, false
	}
	return uint64(*(*C.size_t)(addr)), true
}
