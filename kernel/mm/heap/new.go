package heap

import (
	"gokernel/kernel"
	"unsafe"
)

var errIndexOutOfRange = &kernel.Error{Module: "heap", Message: "vector index out of range", Kind: kernel.KindPrecondition}

// New allocates a zeroed value of type T on the kernel heap. If the
// allocation fails the allocation error handler is invoked and New returns
// nil if the handler returns.
//
// The garbage collector does not scan the kernel heap so T must not contain
// pointers to Go-managed memory.
func New[T any]() *T {
	var zero T
	size, align := unsafe.Sizeof(zero), unsafe.Alignof(zero)

	ptr := Alloc(size, align)
	if ptr == nil {
		allocErrorHandler(ErrOutOfMemory)
		return nil
	}

	value := (*T)(ptr)
	*value = zero
	return value
}

// Delete releases a value allocated by New.
func Delete[T any](value *T) {
	if value == nil {
		return
	}
	var zero T
	Free(unsafe.Pointer(value), unsafe.Sizeof(zero), unsafe.Alignof(zero))
}

// Vec is a growable array whose backing store lives on the kernel heap. The
// zero value is an empty vector ready to use. Like New, Vec must not hold
// pointers to Go-managed memory.
type Vec[T any] struct {
	data     unsafe.Pointer
	len, cap int
}

// minVecCap is the capacity allocated by the first Push.
const minVecCap = 4

// Len returns the number of elements in the vector.
func (v *Vec[T]) Len() int { return v.len }

// Cap returns the number of elements the vector can hold without growing.
func (v *Vec[T]) Cap() int { return v.cap }

// Push appends value to the vector, doubling the backing store when full.
// It returns false if the backing store could not be grown; the allocation
// error handler is invoked before returning.
func (v *Vec[T]) Push(value T) bool {
	if v.len == v.cap && !v.grow() {
		return false
	}

	*v.slot(v.len) = value
	v.len++
	return true
}

// At returns the element at index i. It panics if i is out of range.
func (v *Vec[T]) At(i int) T {
	v.checkIndex(i)
	return *v.slot(i)
}

// Set replaces the element at index i. It panics if i is out of range.
func (v *Vec[T]) Set(i int, value T) {
	v.checkIndex(i)
	*v.slot(i) = value
}

// Slice returns a view of the vector contents that is valid until the next
// Push or Release.
func (v *Vec[T]) Slice() []T {
	if v.len == 0 {
		return nil
	}
	return unsafe.Slice((*T)(v.data), v.len)
}

// Release frees the backing store and resets the vector.
func (v *Vec[T]) Release() {
	if v.data != nil {
		size, align := v.layout(v.cap)
		Free(v.data, size, align)
	}
	*v = Vec[T]{}
}

func (v *Vec[T]) grow() bool {
	newCap := max(minVecCap, v.cap*2)
	size, align := v.layout(newCap)

	data := Alloc(size, align)
	if data == nil {
		allocErrorHandler(ErrOutOfMemory)
		return false
	}

	if v.data != nil {
		oldSize, _ := v.layout(v.cap)
		kernel.Memcopy(uintptr(v.data), uintptr(data), oldSize)
		Free(v.data, oldSize, align)
	}

	v.data, v.cap = data, newCap
	return true
}

func (v *Vec[T]) layout(capacity int) (size, align uintptr) {
	var zero T
	return unsafe.Sizeof(zero) * uintptr(capacity), unsafe.Alignof(zero)
}

func (v *Vec[T]) slot(i int) *T {
	var zero T
	return (*T)(unsafe.Add(v.data, uintptr(i)*unsafe.Sizeof(zero)))
}

func (v *Vec[T]) checkIndex(i int) {
	if i < 0 || i >= v.len {
		panic(errIndexOutOfRange)
	}
}
