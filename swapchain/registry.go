// Copyright 2025 The cix-gpu Authors. All rights reserved.

package swapchain

import "sync"

// Factory constructs a Presenter for the X11 surface s. Concrete
// backend packages (x11dri3, waylandbypass, x11shm) register one via
// RegisterPresenter from their own init function, mirroring the way
// github.com/gviegas/scene/driver registers concrete GPU drivers.
// This keeps the selector in this package free of import-cycle-
// inducing dependencies on the concrete backend packages.
type Factory func(s Surface) Presenter

var (
	factoryMu sync.Mutex
	factories = map[Kind]Factory{}
)

// RegisterPresenter registers the constructor for a presentation
// backend. It is meant to be called from an init function in the
// backend's own package; registering the same Kind twice replaces
// the previous factory.
func RegisterPresenter(kind Kind, f Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[kind] = f
}

// newPresenter constructs a fresh Presenter for kind, or nil if no
// backend package registered a factory for it.
func newPresenter(kind Kind, s Surface) Presenter {
	factoryMu.Lock()
	f := factories[kind]
	factoryMu.Unlock()
	if f == nil {
		return nil
	}
	return f(s)
}
