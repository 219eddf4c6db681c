package kmain

// defaultHeapStart places the heap in the lower half of the 48-bit address
// space, away from the identity-mapped low memory.
const defaultHeapStart = 0x4444_4444_0000
