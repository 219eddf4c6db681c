//go:build linux

package main

import (
	"os"
	"strings"

	"gokernel/kernel/mm"
	"gokernel/kernel/mm/vmm"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
)

// Scenario describes an emulated machine and the heap workload to run on it.
type Scenario struct {
	Machine  MachineConfig  `toml:"machine"`
	Regions  []RegionConfig `toml:"region"`
	Heap     HeapConfig     `toml:"heap"`
	Workload WorkloadConfig `toml:"workload"`
}

type MachineConfig struct {
	// PhysSize is the amount of emulated physical memory in bytes.
	PhysSize uint64 `toml:"phys_size"`

	// Codec selects the page table format: "x86_64" or "sv39".
	Codec string `toml:"codec"`

	KernelStart uint64 `toml:"kernel_start"`
	KernelEnd   uint64 `toml:"kernel_end"`
}

type RegionConfig struct {
	Start uint64 `toml:"start"`
	End   uint64 `toml:"end"`
	Kind  string `toml:"kind"`
}

type HeapConfig struct {
	Size   uint64 `toml:"size"`
	Policy string `toml:"policy"`
}

type WorkloadConfig struct {
	// Blocks is the number of heap blocks allocated by the workload. Block
	// sizes cycle through Sizes.
	Blocks int      `toml:"blocks"`
	Sizes  []uint64 `toml:"sizes"`
	Align  uint64   `toml:"align"`

	// VecLen is the number of elements pushed to a heap-backed vector.
	VecLen int `toml:"vec_len"`
}

var regionKinds = map[string]mm.RegionKind{
	"usable":           mm.RegionUsable,
	"reserved":         mm.RegionReserved,
	"acpi_reclaimable": mm.RegionAcpiReclaimable,
	"nvs":              mm.RegionNvs,
	"bad_memory":       mm.RegionBadMemory,
}

var codecs = map[string]vmm.EntryCodec{
	"x86_64": vmm.X86_64{},
	"sv39":   vmm.Sv39{},
}

// DefaultScenario returns a 16MiB machine with the first MiB reserved, a
// kernel image at 1MiB and an 8MiB heap.
func DefaultScenario() *Scenario {
	return &Scenario{
		Machine: MachineConfig{
			PhysSize:    16 * uint64(mm.Mb),
			Codec:       "x86_64",
			KernelStart: 0x100000,
			KernelEnd:   0x180000,
		},
		Regions: []RegionConfig{
			{Start: 0, End: 0x100000, Kind: "reserved"},
			{Start: 0x100000, End: 16 * uint64(mm.Mb), Kind: "usable"},
		},
		Heap: HeapConfig{
			Size:   8 * uint64(mm.Mb),
			Policy: vmm.RemapError.String(),
		},
		Workload: WorkloadConfig{
			Blocks: 1000,
			Sizes:  []uint64{8, 24, 100, 512, 2048, 4096},
			Align:  8,
			VecLen: 1000,
		},
	}
}

// LoadScenario reads a scenario from a TOML file. Zero or missing settings
// take their DefaultScenario values.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read scenario")
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a TOML scenario.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	if err := toml.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(err, "failed to parse scenario")
	}
	s.applyDefaults(DefaultScenario())

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Scenario) applyDefaults(def *Scenario) {
	if s.Machine.PhysSize == 0 {
		s.Machine.PhysSize = def.Machine.PhysSize
	}
	if s.Machine.Codec == "" {
		s.Machine.Codec = def.Machine.Codec
	}
	if s.Machine.KernelStart == 0 && s.Machine.KernelEnd == 0 {
		s.Machine.KernelStart, s.Machine.KernelEnd = def.Machine.KernelStart, def.Machine.KernelEnd
	}
	if len(s.Regions) == 0 {
		s.Regions = def.Regions
	}
	for i := range s.Regions {
		if s.Regions[i].Kind == "" {
			s.Regions[i].Kind = "usable"
		}
	}
	if s.Heap.Size == 0 {
		s.Heap.Size = def.Heap.Size
	}
	if s.Heap.Policy == "" {
		s.Heap.Policy = def.Heap.Policy
	}
	if s.Workload.Blocks == 0 {
		s.Workload.Blocks = def.Workload.Blocks
	}
	if len(s.Workload.Sizes) == 0 {
		s.Workload.Sizes = def.Workload.Sizes
	}
	if s.Workload.Align == 0 {
		s.Workload.Align = def.Workload.Align
	}
	if s.Workload.VecLen == 0 {
		s.Workload.VecLen = def.Workload.VecLen
	}
}

// Validate checks the scenario for settings that cannot be applied to the
// emulated machine.
func (s *Scenario) Validate() error {
	if _, ok := codecs[strings.ToLower(s.Machine.Codec)]; !ok {
		return errors.Errorf("unknown page table codec %q", s.Machine.Codec)
	}
	if _, ok := vmm.ParseRemapPolicy(s.Heap.Policy); !ok {
		return errors.Errorf("unknown remap policy %q", s.Heap.Policy)
	}
	if s.Machine.KernelEnd < s.Machine.KernelStart {
		return errors.Errorf("kernel image end 0x%x precedes its start 0x%x", s.Machine.KernelEnd, s.Machine.KernelStart)
	}
	for i, r := range s.Regions {
		if _, ok := regionKinds[r.Kind]; !ok {
			return errors.Errorf("region %d: unknown kind %q", i, r.Kind)
		}
		if r.End < r.Start {
			return errors.Errorf("region %d: end 0x%x precedes start 0x%x", i, r.End, r.Start)
		}
		if r.End > s.Machine.PhysSize {
			return errors.Errorf("region %d: end 0x%x exceeds physical memory size 0x%x", i, r.End, s.Machine.PhysSize)
		}
	}
	if !mm.IsPowerOfTwo(uintptr(s.Workload.Align)) {
		return errors.Errorf("workload alignment %d is not a power of two", s.Workload.Align)
	}
	if s.Workload.Blocks < 0 || s.Workload.VecLen < 0 {
		return errors.New("workload counts must not be negative")
	}
	return nil
}

// MemoryMap converts the scenario regions to a memory map.
func (s *Scenario) MemoryMap() []mm.MemoryRegion {
	regions := make([]mm.MemoryRegion, 0, len(s.Regions))
	for _, r := range s.Regions {
		regions = append(regions, mm.MemoryRegion{Start: r.Start, End: r.End, Kind: regionKinds[r.Kind]})
	}
	return regions
}

// Codec returns the page table codec selected by the scenario.
func (s *Scenario) Codec() vmm.EntryCodec {
	return codecs[strings.ToLower(s.Machine.Codec)]
}

// RemapPolicy returns the remap policy selected by the scenario.
func (s *Scenario) RemapPolicy() vmm.RemapPolicy {
	policy, _ := vmm.ParseRemapPolicy(s.Heap.Policy)
	return policy
}
