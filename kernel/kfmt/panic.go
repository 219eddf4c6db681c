package kfmt

import (
	"gokernel/kernel"
	"gokernel/kernel/cpu"
)

var (
	// cpuHaltFn is mocked by tests and is automatically inlined by the compiler.
	cpuHaltFn = cpu.Halt

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}
)

// SetHaltHandler replaces the function that Panic invokes after reporting
// the error. The kernel uses it to signal a test harness instead of halting;
// passing nil restores cpu.Halt.
func SetHaltHandler(fn func()) {
	if fn == nil {
		fn = cpu.Halt
	}
	cpuHaltFn = fn
}

// Panic outputs the supplied error (if not nil) to the console and halts the
// CPU. Calls to Panic never return. Panic is the single fatal error handler
// for the kernel: memory subsystem failures propagate as *kernel.Error values
// up to the caller which hands them over to Panic.
func Panic(e interface{}) {
	var err *kernel.Error

	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		panicString(t)
		return
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	Printf("\n-----------------------------------\n")
	if err != nil {
		severity := "error"
		if err.Fatal() {
			severity = "unrecoverable error"
		}
		Printf("[%s] %s (%s): %s\n", err.Module, severity, err.Kind.String(), err.Message)
	}
	Printf("*** kernel panic: system halted ***")
	Printf("\n-----------------------------------\n")

	cpuHaltFn()
}

// panicString reports a string-based panic.
func panicString(msg string) {
	errRuntimePanic.Message = msg
	Panic(errRuntimePanic)
}
