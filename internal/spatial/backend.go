// Package spatial evaluates formulas containing differential operators over
// gridded fields. Grid arithmetic runs on a Backend; the CPU backend is
// always available and device backends can be registered as accelerators.
package spatial

import (
	"log/slog"
	"sync"
)

// Axis selects the differentiation direction on a grid.
type Axis int

const (
	// AxisX differentiates along columns.
	AxisX Axis = iota
	// AxisY differentiates along rows.
	AxisY
)

// Array is an opaque grid held by a backend. Values enter through
// Backend.Upload or Backend.Full and leave through Backend.ToHost.
type Array interface {
	Shape() (h, w int)
}

// Backend performs grid arithmetic. Map and Zip dispatch by operation name so
// implementations can translate to device kernels. Release frees any pooled
// device memory after a request completes.
type Backend interface {
	Name() string
	Upload(field [][]float64) (Array, error)
	Full(h, w int, v float64) (Array, error)
	Map(a Array, fn string) (Array, error)
	Zip(a, b Array, op string) (Array, error)
	Gradient(a Array, coords []float64, axis Axis) (Array, error)
	ToHost(a Array) ([][]float64, error)
	Release()
}

var (
	deviceMu      sync.RWMutex
	deviceFactory func() (Backend, error)
	deviceName    string
)

// RegisterDeviceBackend installs a factory for an accelerator backend. The
// factory is invoked once per request when device execution is enabled; a
// factory error disables the device for that request.
func RegisterDeviceBackend(name string, factory func() (Backend, error)) {
	deviceMu.Lock()
	defer deviceMu.Unlock()
	deviceName = name
	deviceFactory = factory
}

// UnregisterDeviceBackend removes any installed accelerator factory.
func UnregisterDeviceBackend() {
	deviceMu.Lock()
	defer deviceMu.Unlock()
	deviceName = ""
	deviceFactory = nil
}

func newDeviceBackend(logger *slog.Logger) Backend {
	deviceMu.RLock()
	factory := deviceFactory
	name := deviceName
	deviceMu.RUnlock()

	if factory == nil {
		return nil
	}
	backend, err := factory()
	if err != nil {
		logger.Warn("device backend unavailable, using CPU",
			slog.String("backend", name), slog.String("error", err.Error()))
		return nil
	}
	return backend
}
