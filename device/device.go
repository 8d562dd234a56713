// Package device acquires the single OCCA device for a run and JIT-compiles
// kernel source into it. Every failure is reported through OpError so the
// caller sees the operation, the backend mode, and the underlying diagnostic.
package device

import (
	"fmt"

	"github.com/notargets/gocca"
)

// preferredModes are tried in order when no explicit properties are given.
var preferredModes = []string{
	`{"mode": "OpenMP"}`,
	`{"mode": "CUDA", "device_id": 0}`,
	`{"mode": "Serial"}`,
}

// OpError reports a failed device interaction.
type OpError struct {
	Op   string // operation that failed, e.g. "build kernel vectorAdd"
	Mode string // backend mode, empty if no device exists yet
	Err  error
}

func (e *OpError) Error() string {
	if e.Mode == "" {
		return fmt.Sprintf("vecbench device: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("vecbench device: %s on %s: %v", e.Op, e.Mode, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// Open creates the OCCA device for the run. props is an OCCA property JSON
// string such as `{"mode": "CUDA", "device_id": 0}`; when empty, the
// preferred backends are tried in order and the first that initializes wins.
// The caller owns the device and must Free it.
func Open(props string) (*gocca.OCCADevice, error) {
	if props != "" {
		dev, err := gocca.NewDevice(props)
		if err != nil {
			return nil, &OpError{Op: "create device " + props, Err: err}
		}
		return dev, nil
	}

	var firstErr error
	for _, p := range preferredModes {
		dev, err := gocca.NewDevice(p)
		if err == nil {
			return dev, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, &OpError{Op: "create device", Err: firstErr}
}

// BuildKernel JIT-compiles source and resolves entry in one step. The
// returned handle is built once and reused for every launch; a failure
// carries the backend's full compile log in the wrapped error.
func BuildKernel(dev *gocca.OCCADevice, source, entry string) (*gocca.OCCAKernel, error) {
	var kernel *gocca.OCCAKernel
	var err error

	if dev.Mode() == "OpenMP" {
		// Workaround for OCCA bug: OpenMP doesn't get default -O3 flag
		props := gocca.JsonParse(`{"compiler_flags": "-O3"}`)
		defer props.Free()
		kernel, err = dev.BuildKernelFromString(source, entry, props)
	} else {
		kernel, err = dev.BuildKernelFromString(source, entry, nil)
	}

	if err != nil {
		return nil, &OpError{Op: "build kernel " + entry, Mode: dev.Mode(), Err: err}
	}
	if kernel == nil {
		return nil, &OpError{
			Op:   "build kernel " + entry,
			Mode: dev.Mode(),
			Err:  fmt.Errorf("build returned nil kernel"),
		}
	}
	return kernel, nil
}
