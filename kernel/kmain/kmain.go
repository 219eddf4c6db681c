package kmain

import (
	"gokernel/kernel"
	"gokernel/kernel/cpu"
	"gokernel/kernel/kfmt"
	"gokernel/kernel/mm"
	"gokernel/kernel/mm/vmm"
	"gokernel/multiboot"
)

// maxMemoryRegions bounds the number of memory map entries that the kernel
// keeps track of. Entries beyond this limit are ignored.
const maxMemoryRegions = 64

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

	// physMemOffset is the virtual address where the rt0 code maps all
	// physical memory. The rt0 code identity-maps low memory so it is 0.
	physMemOffset uintptr

	// memoryMap is static so the memory map can be collected before the
	// heap exists.
	memoryMap [maxMemoryRegions]mm.MemoryRegion

	// The following functions are mocked by tests.
	configFn     = DefaultConfig
	initMemoryFn = InitMemory
	nativeArchFn = vmm.NativeArch
	debugExitFn  = cpu.DebugExit
	panicFn      = kfmt.Panic
)

// Kmain is the only Go symbol that is visible (exported) from the rt0
// initialization code. This function is invoked by the rt0 assembly code after
// setting up the GDT and setting up a a minimal g0 struct that allows Go code
// using the 4K stack allocated by the assembly code.
//
// The rt0 code passes the address of the multiboot info payload provided by
// the bootloader as well as the physical addresses for the kernel start/end.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the CPU.
//
//go:noinline
func Kmain(multibootInfoPtr, kernelStart, kernelEnd uintptr) {
	cfg := configFn()
	kfmt.SetLogLevel(cfg.LogLevel)
	if cfg.ExitOnFatal {
		kfmt.SetHaltHandler(exitFailure)
	}

	multiboot.SetInfoPtr(multibootInfoPtr)
	regions, dropped := multiboot.MemoryMap(memoryMap[:0])
	if dropped != 0 {
		kfmt.Logf(kfmt.LevelWarn, "kmain", "ignoring %d memory map entries\n", dropped)
	}

	info := BootInfo{
		MemoryMap:   regions,
		PhysOffset:  physMemOffset,
		KernelStart: kernelStart,
		KernelEnd:   kernelEnd,
	}
	if err := initMemoryFn(cfg, info, nativeArchFn()); err != nil {
		panicFn(err)
		return
	}

	if cfg.ExitOnFatal {
		debugExitFn(cpu.ExitSuccess)
	}

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating kfmt.Panic as dead-code and eliminating it.
	panicFn(errKmainReturned)
}

func exitFailure() {
	debugExitFn(cpu.ExitFailure)
}
