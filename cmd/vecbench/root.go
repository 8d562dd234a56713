package main

import (
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/notargets/vecbench/bench"
	"github.com/notargets/vecbench/device"
	"github.com/notargets/vecbench/kernels"
)

var (
	trials      int
	blockSize   int
	deviceProps string
	syncEach    bool
	tolerance   float64
	seed        uint64
	progress    bool
	verbose     bool

	rootCmd = &cobra.Command{
		Use:   "vecbench <kernel_id> <array_size>",
		Short: "JIT-compile an elementwise vector kernel and benchmark its launch latency",
		Long: `vecbench JIT-compiles one of two elementwise kernels, runs it repeatedly
against device-resident vectors, reports the average per-launch time, and
validates the device result against a host recomputation.

kernel_id selects the kernel: 0 computes A[i] = B[i] / C, 1 computes
A[i] = B[i] * C for a random scalar C. array_size is the number of
double-precision elements in each vector.

The default timing methodology ("batched") enqueues every launch and
synchronizes once, so the average reflects launch-issue overhead plus one
synchronization. --sync-each synchronizes after every launch instead and
reports the mean and standard deviation of true per-launch wall times.`,
		Args:          cobra.ExactArgs(2),
		RunE:          runBenchmark,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.Flags().IntVar(&trials, "trials", bench.DefaultTrials, "number of timed kernel launches")
	rootCmd.Flags().IntVar(&blockSize, "block-size", bench.DefaultBlockSize, "threads per block")
	rootCmd.Flags().StringVar(&deviceProps, "device", "",
		`OCCA device properties JSON, e.g. '{"mode": "CUDA", "device_id": 0}' (default: first available backend)`)
	rootCmd.Flags().BoolVar(&syncEach, "sync-each", false, "synchronize after every launch and report per-launch statistics")
	rootCmd.Flags().Float64Var(&tolerance, "tolerance", bench.DefaultTolerance, "absolute validation tolerance")
	rootCmd.Flags().Uint64Var(&seed, "seed", 0, "random seed for host data (0 = time-derived)")
	rootCmd.Flags().BoolVar(&progress, "progress", false, "show launch progress (sync-each mode only)")
	rootCmd.Flags().BoolVar(&verbose, "verbose", false, "debug-level logging")
}

// parsePositionals validates the two required arguments. Any kernel id
// outside {0, 1} and any non-positive or non-numeric size is a usage error.
func parsePositionals(args []string) (kernels.Variant, int, error) {
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, 0, fmt.Errorf("kernel_id %q is not an integer", args[0])
	}
	variant, err := kernels.Select(id)
	if err != nil {
		return 0, 0, err
	}

	n, err := strconv.Atoi(args[1])
	if err != nil {
		return 0, 0, fmt.Errorf("array_size %q is not an integer", args[1])
	}
	if n <= 0 {
		return 0, 0, fmt.Errorf("array_size must be positive, got %d", n)
	}
	return variant, n, nil
}

func runBenchmark(cmd *cobra.Command, args []string) error {
	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	variant, numElements, err := parsePositionals(args)
	if err != nil {
		return err
	}
	// Past this point failures are runtime errors, not usage errors.
	cmd.SilenceUsage = true

	fmt.Printf("%s selected.\n", variant.Label())

	dev, err := device.Open(deviceProps)
	if err != nil {
		return err
	}
	defer dev.Free()
	logrus.Infof("using %s backend", dev.Mode())

	cfg := bench.Config{
		Variant:     variant,
		NumElements: numElements,
		BlockSize:   blockSize,
		Trials:      trials,
		Tolerance:   tolerance,
		Seed:        seed,
		SyncEach:    syncEach,
		Progress:    progress,
	}
	if err := cfg.Validate(); err != nil {
		cmd.SilenceUsage = false
		return err
	}

	fmt.Printf("kernel launch with %d blocks of %d threads\n",
		kernels.GridSize(numElements, blockSize), blockSize)

	res, err := bench.Run(dev, cfg)
	if err != nil {
		return err
	}

	fmt.Printf("Time = %f\n", res.AvgPerLaunch.Seconds())
	fmt.Printf("%d trials on %s, %s timing, total %v\n",
		res.Trials, res.Mode, res.Methodology, res.Elapsed)
	if res.Methodology == bench.MethodSyncEach {
		fmt.Printf("per-launch stddev = %v\n", res.StdDev)
	}
	return nil
}
