//go:build !amd64 && !riscv64

package kmain

const defaultHeapStart = 0x4444_4444_0000
