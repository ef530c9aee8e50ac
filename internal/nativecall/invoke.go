// Package nativecall crosses the Go-to-machine-code boundary in the one
// direction this compiler needs from the host process itself: invoking an
// already-compiled guest function's native entry point and recovering its
// result. It mirrors the shape of the teacher's own jitcall (a no-body Go
// function declaration backed by a per-architecture assembly file), the
// same technique any Go program uses to call into hand-assembled or
// dynamically generated machine code without cgo.
package nativecall

import (
	"math"
	"runtime"
)

// invoke is implemented in invoke_amd64.s. It must run with the calling
// goroutine locked to its OS thread: the callee addresses memory through
// R15, a plain general-purpose register with no OS-level thread affinity,
// so a goroutine that migrated mid-call would resume on a thread with a
// clobbered R15.
func invoke(entry, frame, memBase uintptr) uint64

// Int calls a compiled function expecting its result (if any) in the
// int-class return convention (compiler.emitEpilogue's AX), returning the
// raw 64-bit bit pattern; callers narrow to i32 themselves when the
// callee's signature says so.
func Int(entry, frame, memBase uintptr) uint64 {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	return invoke(entry, frame, memBase)
}

// Float calls a compiled function whose result is float-class. Per
// compiler.emitEpilogue, a float result is left in X0 rather than AX,
// which invoke's plain AX-returning ABI can't see directly; float-result
// functions instead store their result into the frame's return slot
// (offset 0, the same slot a caller would read a stack-passed return
// value from) as their last action before RET, and Float reads it back
// from there rather than from invoke's return value.
func Float(entry, frame, memBase uintptr, frameMem []byte) float64 {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	invoke(entry, frame, memBase)
	bits := uint64(0)
	for i := 0; i < 8 && i < len(frameMem); i++ {
		bits |= uint64(frameMem[i]) << (8 * i)
	}
	return math.Float64frombits(bits)
}
