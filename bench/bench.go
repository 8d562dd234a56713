// Package bench runs the benchmark: host buffers, device mirrors, the timed
// launch loop, and validation of the copied-back result.
package bench

import (
	"fmt"
	"math"
	"time"
	"unsafe"

	"github.com/notargets/gocca"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/notargets/vecbench/device"
	"github.com/notargets/vecbench/kernels"
)

const (
	DefaultTrials    = 10000
	DefaultBlockSize = 256
	DefaultTolerance = 1e-10
)

// Timing methodology names reported in Result.
const (
	MethodBatched  = "batched"   // enqueue all trials, synchronize once
	MethodSyncEach = "sync-each" // synchronize after every launch
)

// Config fixes the geometry and measurement parameters for one run.
type Config struct {
	Variant     kernels.Variant
	NumElements int
	BlockSize   int
	Trials      int
	Tolerance   float64
	Seed        uint64 // 0 derives a seed from the clock
	SyncEach    bool   // per-launch timing instead of the batched loop
	Progress    bool   // progress bar, sync-each mode only
}

func (c Config) Validate() error {
	if c.NumElements <= 0 {
		return fmt.Errorf("array size must be positive, got %d", c.NumElements)
	}
	if c.BlockSize <= 0 {
		return fmt.Errorf("block size must be positive, got %d", c.BlockSize)
	}
	if c.Trials <= 0 {
		return fmt.Errorf("trial count must be positive, got %d", c.Trials)
	}
	if c.Tolerance <= 0 {
		return fmt.Errorf("tolerance must be positive, got %v", c.Tolerance)
	}
	return nil
}

// Result summarizes one completed, validated run.
type Result struct {
	Mode         string // backend mode the run executed on
	Blocks       int
	BlockSize    int
	Trials       int
	Scalar       float64
	Elapsed      time.Duration
	AvgPerLaunch time.Duration
	StdDev       time.Duration // zero in batched mode
	Methodology  string
}

// Run executes the whole linear flow: fill host vectors, mirror them on the
// device, build the kernel once, launch it cfg.Trials times, copy back, and
// validate. Every device handle is released on all exit paths.
func Run(dev *gocca.OCCADevice, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	src := rand.NewSource(seed)
	fill := distuv.Uniform{Min: 0, Max: 1, Src: src}
	// The scalar stays clear of zero: dividing by a near-zero value would
	// push results past the absolute tolerance.
	scalarDist := distuv.Uniform{Min: 1, Max: float64(1 << 31), Src: src}

	n := cfg.NumElements
	hostA := make([]float64, n)
	hostB := make([]float64, n)
	for i := 0; i < n; i++ {
		hostA[i] = fill.Rand()
		hostB[i] = fill.Rand()
	}
	c := scalarDist.Rand()

	bufBytes := int64(n * 8)
	dA := dev.Malloc(bufBytes, unsafe.Pointer(&hostA[0]), nil)
	defer dA.Free()
	dB := dev.Malloc(bufBytes, unsafe.Pointer(&hostB[0]), nil)
	defer dB.Free()

	kernel, err := device.BuildKernel(dev, cfg.Variant.Source(n, cfg.BlockSize), kernels.EntryPoint)
	if err != nil {
		return nil, err
	}
	defer kernel.Free()

	res := &Result{
		Mode:      dev.Mode(),
		Blocks:    kernels.GridSize(n, cfg.BlockSize),
		BlockSize: cfg.BlockSize,
		Trials:    cfg.Trials,
		Scalar:    c,
	}

	if cfg.SyncEach {
		if err := runSyncEach(dev, kernel, dA, dB, c, n, cfg, res); err != nil {
			return nil, err
		}
	} else {
		if err := runBatched(dev, kernel, dA, dB, c, n, cfg, res); err != nil {
			return nil, err
		}
	}

	hostOut := make([]float64, n)
	dA.CopyTo(unsafe.Pointer(&hostOut[0]), bufBytes)

	if err := Validate(cfg.Variant, hostB, hostOut, c, cfg.Tolerance); err != nil {
		return nil, err
	}
	return res, nil
}

// runBatched enqueues all trials without per-launch blocking; one Finish
// covers them. The average therefore measures launch-issue overhead plus one
// synchronization.
func runBatched(dev *gocca.OCCADevice, kernel *gocca.OCCAKernel,
	dA, dB *gocca.OCCAMemory, c float64, n int, cfg Config, res *Result) error {

	t0 := time.Now()
	for i := 0; i < cfg.Trials; i++ {
		if err := kernel.RunWithArgs(dA, dB, c, int32(n)); err != nil {
			return &device.OpError{
				Op:   fmt.Sprintf("launch trial %d", i),
				Mode: dev.Mode(),
				Err:  err,
			}
		}
	}
	dev.Finish()

	res.Elapsed = time.Since(t0)
	res.AvgPerLaunch = res.Elapsed / time.Duration(cfg.Trials)
	res.Methodology = MethodBatched
	return nil
}

// runSyncEach synchronizes after every launch, measuring true per-launch
// wall time at the cost of pipeline overlap. Bar updates happen outside the
// timed region.
func runSyncEach(dev *gocca.OCCADevice, kernel *gocca.OCCAKernel,
	dA, dB *gocca.OCCAMemory, c float64, n int, cfg Config, res *Result) error {

	samples := make([]float64, cfg.Trials)
	var bar *progressbar.ProgressBar
	if cfg.Progress {
		bar = progressbar.Default(int64(cfg.Trials), "launches")
	}

	var total time.Duration
	for i := 0; i < cfg.Trials; i++ {
		t0 := time.Now()
		if err := kernel.RunWithArgs(dA, dB, c, int32(n)); err != nil {
			return &device.OpError{
				Op:   fmt.Sprintf("launch trial %d", i),
				Mode: dev.Mode(),
				Err:  err,
			}
		}
		dev.Finish()
		d := time.Since(t0)
		samples[i] = d.Seconds()
		total += d

		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}

	res.Elapsed = total
	res.AvgPerLaunch = time.Duration(stat.Mean(samples, nil) * float64(time.Second))
	res.StdDev = time.Duration(stat.StdDev(samples, nil) * float64(time.Second))
	res.Methodology = MethodSyncEach
	return nil
}

// Validate compares every device-computed element against the host
// recomputation. The first mismatch aborts with its index and both values.
func Validate(v kernels.Variant, b, got []float64, c, tol float64) error {
	if len(got) != len(b) {
		return fmt.Errorf("output length %d does not match input length %d", len(got), len(b))
	}
	for i := range b {
		want := v.Apply(b[i], c)
		if !scalar.EqualWithinAbs(got[i], want, tol) {
			return fmt.Errorf("wrong result at element %d: got %v, want %v (|diff| = %v, tolerance %v)",
				i, got[i], want, math.Abs(got[i]-want), tol)
		}
	}
	return nil
}
