package kmain

// defaultHeapStart is 128GiB; Sv39 only translates addresses below 256GiB in
// the lower half.
const defaultHeapStart = 0x20_0000_0000
