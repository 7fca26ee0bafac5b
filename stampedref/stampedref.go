// Package stampedref provides a 128-bit ABA-safe atomic reference: a
// pointer paired with a monotonically-incrementing stamp, loaded and
// swapped as a single atomic word.
//
// The stamp's sole purpose is ABA defence: between a reader observing a
// pointer and that reader attempting a CAS against it, the pointed-to
// memory may have been freed and reused for an unrelated node at the
// same address. A plain pointer-only CAS would then succeed against
// stale expectations; pairing the pointer with a stamp that increments
// on every successful update makes a given (pointer, stamp) observation
// unique for the cell's lifetime, so a reused address with a different
// stamp is correctly rejected.
//
// Grounded on code.hybscloud.com/atomix's Uint128, the 128-bit
// lo/hi compare-and-swap primitive used by code.hybscloud.com/lfq's
// cycle-tagged MPMC slots (mpmc_128.go) — the only Go 128-bit stamped
// atomic in the retrieved reference set. Here lo holds the stamp and hi
// holds the pointer, reinterpreted through unsafe.Pointer; lfq instead
// puts a cycle counter in lo and a payload value in hi, since its slots
// never need to be dereferenced as pointers.
package stampedref

import (
	"unsafe"

	"code.hybscloud.com/atomix"
)

// StampedRef is a (ptr, stamp) pair stored in a single 128-bit atomic
// word. The zero value holds (nil, 0) and is ready to use.
type StampedRef[T any] struct {
	word atomix.Uint128
}

// Get atomically loads the pointer and its paired stamp.
func (r *StampedRef[T]) Get() (*T, uint64) {
	stamp, ptrBits := r.word.LoadAcquire()
	return (*T)(unsafe.Pointer(uintptr(ptrBits))), stamp
}

// Set atomically stores ptr and stamp as a single unit. Set is for
// initialization and single-owner setup; concurrent readers/writers
// must use CAS.
func (r *StampedRef[T]) Set(ptr *T, stamp uint64) {
	r.word.StoreRelease(stamp, uint64(uintptr(unsafe.Pointer(ptr))))
}

// CompareAndSwap atomically replaces (expectedPtr, expectedStamp) with
// (newPtr, newStamp), succeeding only if the cell still holds exactly
// the expected pair. It returns whether the swap took effect.
func (r *StampedRef[T]) CompareAndSwap(expectedPtr, newPtr *T, expectedStamp, newStamp uint64) bool {
	return r.word.CompareAndSwapAcqRel(
		expectedStamp, uint64(uintptr(unsafe.Pointer(expectedPtr))),
		newStamp, uint64(uintptr(unsafe.Pointer(newPtr))),
	)
}
