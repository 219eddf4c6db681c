//go:build linux

// Command memsim boots the kernel memory subsystem on an emulated machine
// and exercises the kernel heap. The machine layout and the workload are
// described by a TOML scenario file.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"
)

const (
	logLevelFlag = "log-level"
	rawLogFlag   = "raw-kernel-log"
	codecFlag    = "codec"
	policyFlag   = "policy"
	heapSizeFlag = "heap-size"
)

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "boot the memory subsystem and run the scenario workload",
	ArgsUsage: "[scenario.toml]",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  codecFlag,
			Usage: "override the page table format (x86_64, sv39)",
		},
		&cli.StringFlag{
			Name:  policyFlag,
			Usage: "override the remap policy (error, overwrite, idempotent)",
		},
		&cli.Uint64Flag{
			Name:  heapSizeFlag,
			Usage: "override the heap size in bytes",
		},
	},
	Action: runAction,
}

var dumpCommand = &cli.Command{
	Name:  "dump-scenario",
	Usage: "print the default scenario as TOML",
	Action: func(c *cli.Context) error {
		return writeScenario(c.App.Writer, DefaultScenario())
	},
}

func app() *cli.App {
	return &cli.App{
		Name:  "memsim",
		Usage: "kernel memory subsystem simulator",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  logLevelFlag,
				Value: logrus.InfoLevel.String(),
				Usage: "log level (trace, debug, info, warn, error)",
			},
			&cli.BoolFlag{
				Name:  rawLogFlag,
				Usage: "write kernel log lines to stderr instead of forwarding them through the logger",
			},
		},
		Commands: []*cli.Command{
			runCommand,
			dumpCommand,
		},
		ErrWriter: defaultLogOutput(),
	}
}

func main() {
	if err := app().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runAction(c *cli.Context) error {
	restore, err := setupLogging(c.String(logLevelFlag), c.Bool(rawLogFlag), c.App.ErrWriter)
	if err != nil {
		return err
	}
	defer restore()

	scenario := DefaultScenario()
	if path := c.Args().First(); path != "" {
		if scenario, err = LoadScenario(path); err != nil {
			return errors.Wrap(err, path)
		}
	}
	if err := applyOverrides(c, scenario); err != nil {
		return err
	}

	log := logrus.WithFields(logrus.Fields{
		"codec":  scenario.Machine.Codec,
		"policy": scenario.Heap.Policy,
	})
	report, err := Simulate(scenario, log)
	if report != nil {
		log = log.WithFields(logrus.Fields{
			"stage":         report.Stage.String(),
			"frames_used":   report.Frames.Allocated,
			"frames_usable": report.Frames.Usable,
		})
	}
	if err != nil {
		log.WithError(err).Error("simulation failed")
		return err
	}

	log.WithFields(logrus.Fields{
		"live_blocks":    report.LiveBlocks,
		"vec_sum":        report.VecSum,
		"heap_allocs":    report.Heap.Allocs,
		"heap_frees":     report.Heap.Frees,
		"failed_allocs":  report.Heap.FailedAllocs,
		"fallback_free":  report.Heap.FallbackFree,
		"fallback_holes": report.Heap.FallbackHoles,
	}).Info("simulation complete")
	return writeReport(c.App.Writer, report)
}

// applyOverrides applies the command line overrides to the scenario.
func applyOverrides(c *cli.Context, s *Scenario) error {
	if c.IsSet(codecFlag) {
		s.Machine.Codec = c.String(codecFlag)
	}
	if c.IsSet(policyFlag) {
		s.Heap.Policy = c.String(policyFlag)
	}
	if c.IsSet(heapSizeFlag) {
		s.Heap.Size = c.Uint64(heapSizeFlag)
	}
	return s.Validate()
}

func writeScenario(w io.Writer, s *Scenario) error {
	data, err := toml.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "failed to encode scenario")
	}
	_, err = w.Write(data)
	return err
}

func writeReport(w io.Writer, r *Report) error {
	_, err := fmt.Fprintf(w, "stage: %s\nframes: %d/%d\nheap frame: 0x%x\nlive blocks: %d\nvec sum: %d\nfree blocks: %v\n",
		r.Stage, r.Frames.Allocated, r.Frames.Usable, uintptr(r.HeapFrame), r.LiveBlocks, r.VecSum, r.Heap.FreeBlocks)
	return err
}
