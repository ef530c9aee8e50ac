//go:build !windows

// Package coderegion owns the growable, page-aligned, RWX-mapped buffer
// that holds every compiled function's native code. Unlike the teacher's
// one-shot mmapCodeSegment (which maps exactly the bytes of a single
// already-assembled function), this region is grown incrementally as the
// emission pass appends functions one at a time, since stencil pasting
// and relocation happen directly against the mapped bytes.
package coderegion

import (
	"errors"
	"fmt"
	"syscall"
	"unsafe"
)

const pageSize = 4096

// Region is a single growable RWX memory mapping. It is not safe for
// concurrent use: per §5, compilation is single-threaded.
type Region struct {
	mem []byte // the full current mapping, PROT_READ|PROT_WRITE|PROT_EXEC
	len int    // bytes actually written so far
}

// New creates a region with an initial capacity of at least one page.
func New(initialCapacity int) (*Region, error) {
	if initialCapacity <= 0 {
		initialCapacity = pageSize
	}
	mem, err := mmapRWX(roundUpPage(initialCapacity))
	if err != nil {
		return nil, fmt.Errorf("coderegion: initial mmap: %w", err)
	}
	return &Region{mem: mem}, nil
}

// Append copies code into the region, growing (and copying into a fresh
// mapping) if necessary, and returns the absolute address the code now
// lives at along with its offset from the region's base.
func (r *Region) Append(code []byte) (addr uintptr, offset int, err error) {
	if len(code) == 0 {
		return r.baseAddr() + uintptr(r.len), r.len, nil
	}
	if r.len+len(code) > len(r.mem) {
		if err := r.grow(r.len + len(code)); err != nil {
			return 0, 0, err
		}
	}
	offset = r.len
	copy(r.mem[offset:], code)
	r.len += len(code)
	return r.baseAddr() + uintptr(offset), offset, nil
}

// AlignTo16 pads the region with NOP bytes (0x90) until the write cursor
// is 16-byte aligned, per §4.3's function-entry-point alignment rule.
func (r *Region) AlignTo16() error {
	pad := (16 - (r.len % 16)) % 16
	if pad == 0 {
		return nil
	}
	nops := make([]byte, pad)
	for i := range nops {
		nops[i] = 0x90
	}
	_, _, err := r.Append(nops)
	return err
}

// Bytes returns the written portion of the region, for patching
// relocations in place before the code is ever executed.
func (r *Region) Bytes() []byte { return r.mem[:r.len] }

// BaseAddr returns the address of byte 0 of the region.
func (r *Region) BaseAddr() uintptr { return r.baseAddr() }

func (r *Region) baseAddr() uintptr {
	if len(r.mem) == 0 {
		return 0
	}
	return addrOf(r.mem)
}

func (r *Region) grow(need int) error {
	newCap := roundUpPage(need * 2)
	newMem, err := mmapRWX(newCap)
	if err != nil {
		return fmt.Errorf("coderegion: grow mmap: %w", err)
	}
	copy(newMem, r.mem[:r.len])
	if err := munmap(r.mem); err != nil {
		return fmt.Errorf("coderegion: grow munmap old: %w", err)
	}
	r.mem = newMem
	return nil
}

// Close releases the underlying mapping. After Close, any code previously
// returned by Append is no longer valid to execute.
func (r *Region) Close() error {
	if len(r.mem) == 0 {
		return nil
	}
	err := munmap(r.mem)
	r.mem = nil
	r.len = 0
	return err
}

func roundUpPage(n int) int {
	return ((n + pageSize - 1) / pageSize) * pageSize
}

func mmapRWX(size int) ([]byte, error) {
	if size <= 0 {
		return nil, errors.New("coderegion: mmap size must be positive")
	}
	return syscall.Mmap(
		-1, 0, size,
		syscall.PROT_READ|syscall.PROT_WRITE|syscall.PROT_EXEC,
		syscall.MAP_ANON|syscall.MAP_PRIVATE,
	)
}

func munmap(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return syscall.Munmap(b)
}

// addrOf returns the address of a mapped slice's backing storage. Stencil
// relocations and call-site patches need this as a plain integer, not a
// Go pointer, since the bytes they point at are machine code rather than
// a value the garbage collector should ever chase.
func addrOf(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}
