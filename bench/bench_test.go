package bench

import (
	"strings"
	"testing"
	"unsafe"

	"github.com/notargets/gocca"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/vecbench/device"
	"github.com/notargets/vecbench/kernels"
)

// testDevice opens any available backend, skipping the test when none exists.
func testDevice(t *testing.T) *gocca.OCCADevice {
	t.Helper()
	dev, err := device.Open("")
	if err != nil {
		t.Skipf("no OCCA backend available: %v", err)
	}
	return dev
}

func TestConfigValidate(t *testing.T) {
	valid := Config{
		Variant:     kernels.Multiply,
		NumElements: 1024,
		BlockSize:   DefaultBlockSize,
		Trials:      DefaultTrials,
		Tolerance:   DefaultTolerance,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero_elements", func(c *Config) { c.NumElements = 0 }},
		{"negative_elements", func(c *Config) { c.NumElements = -5 }},
		{"zero_block_size", func(c *Config) { c.BlockSize = 0 }},
		{"zero_trials", func(c *Config) { c.Trials = 0 }},
		{"zero_tolerance", func(c *Config) { c.Tolerance = 0 }},
		{"negative_tolerance", func(c *Config) { c.Tolerance = -1e-10 }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected validation error for %s", tc.name)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	b := []float64{0.1, 0.5, 0.9, 0.25}
	c := 37.5

	t.Run("ExactMatch", func(t *testing.T) {
		got := make([]float64, len(b))
		for i := range b {
			got[i] = kernels.Divide.Apply(b[i], c)
		}
		if err := Validate(kernels.Divide, b, got, c, DefaultTolerance); err != nil {
			t.Errorf("exact result rejected: %v", err)
		}
	})

	t.Run("WithinTolerance", func(t *testing.T) {
		got := make([]float64, len(b))
		for i := range b {
			got[i] = kernels.Multiply.Apply(b[i], c) + 5e-11
		}
		if err := Validate(kernels.Multiply, b, got, c, DefaultTolerance); err != nil {
			t.Errorf("result inside tolerance rejected: %v", err)
		}
	})

	t.Run("FirstMismatchReported", func(t *testing.T) {
		got := make([]float64, len(b))
		for i := range b {
			got[i] = kernels.Multiply.Apply(b[i], c)
		}
		got[2] += 1e-6
		err := Validate(kernels.Multiply, b, got, c, DefaultTolerance)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "element 2")
	})

	t.Run("LengthMismatch", func(t *testing.T) {
		if err := Validate(kernels.Divide, b, b[:2], c, DefaultTolerance); err == nil {
			t.Error("expected error for mismatched lengths")
		}
	})
}

func TestRunEndToEnd(t *testing.T) {
	dev := testDevice(t)
	defer dev.Free()

	for _, variant := range []kernels.Variant{kernels.Divide, kernels.Multiply} {
		t.Run(variant.Label(), func(t *testing.T) {
			cfg := Config{
				Variant:     variant,
				NumElements: 1024,
				BlockSize:   256,
				Trials:      10,
				Tolerance:   DefaultTolerance,
				Seed:        42,
			}
			res, err := Run(dev, cfg)
			require.NoError(t, err)

			assert.Equal(t, 4, res.Blocks)
			assert.Equal(t, 256, res.BlockSize)
			assert.Equal(t, 10, res.Trials)
			assert.Equal(t, MethodBatched, res.Methodology)
			assert.GreaterOrEqual(t, res.AvgPerLaunch.Seconds(), 0.0)
			assert.GreaterOrEqual(t, res.Scalar, 1.0)
		})
	}
}

func TestRunSyncEach(t *testing.T) {
	dev := testDevice(t)
	defer dev.Free()

	cfg := Config{
		Variant:     kernels.Multiply,
		NumElements: 300, // deliberately not a block multiple
		BlockSize:   256,
		Trials:      5,
		Tolerance:   DefaultTolerance,
		Seed:        7,
		SyncEach:    true,
	}
	res, err := Run(dev, cfg)
	require.NoError(t, err)

	assert.Equal(t, MethodSyncEach, res.Methodology)
	assert.Equal(t, 2, res.Blocks)
	assert.GreaterOrEqual(t, res.AvgPerLaunch.Seconds(), 0.0)
	assert.GreaterOrEqual(t, res.StdDev.Seconds(), 0.0)
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	dev := testDevice(t)
	defer dev.Free()

	_, err := Run(dev, Config{Variant: kernels.Divide, NumElements: 0,
		BlockSize: 256, Trials: 1, Tolerance: DefaultTolerance})
	if err == nil {
		t.Fatal("expected error for zero-element config")
	}
	if !strings.Contains(err.Error(), "positive") {
		t.Errorf("unexpected error text: %v", err)
	}
}

// TestDivideMultiplyInverse runs the divide kernel, feeds its output to the
// multiply kernel with the same scalar, and checks that the input vector is
// reconstructed within tolerance.
func TestDivideMultiplyInverse(t *testing.T) {
	dev := testDevice(t)
	defer dev.Free()

	const n = 1024
	const c = 12345.678

	hostB := make([]float64, n)
	for i := range hostB {
		hostB[i] = float64(i%97)/97.0 + 0.01
	}

	bufBytes := int64(n * 8)
	dB := dev.Malloc(bufBytes, unsafe.Pointer(&hostB[0]), nil)
	defer dB.Free()
	dQuot := dev.Malloc(bufBytes, nil, nil)
	defer dQuot.Free()
	dBack := dev.Malloc(bufBytes, nil, nil)
	defer dBack.Free()

	divKernel, err := device.BuildKernel(dev, kernels.Divide.Source(n, 256), kernels.EntryPoint)
	require.NoError(t, err)
	defer divKernel.Free()
	mulKernel, err := device.BuildKernel(dev, kernels.Multiply.Source(n, 256), kernels.EntryPoint)
	require.NoError(t, err)
	defer mulKernel.Free()

	require.NoError(t, divKernel.RunWithArgs(dQuot, dB, c, int32(n)))
	require.NoError(t, mulKernel.RunWithArgs(dBack, dQuot, c, int32(n)))
	dev.Finish()

	hostBack := make([]float64, n)
	dBack.CopyTo(unsafe.Pointer(&hostBack[0]), bufBytes)

	assert.InDeltaSlice(t, hostB, hostBack, 1e-10)
}
