// Copyright 2025 The cix-gpu Authors. All rights reserved.

package swapchain

// Kind identifies which presentation backend a Swapchain has
// selected. Exactly one is active for the swapchain's lifetime;
// backends are never hot-swapped.
type Kind int

const (
	// KindNone means no backend has been selected yet.
	KindNone Kind = iota
	// KindBypass is the Xwayland-detection bypass backend, speaking
	// zwp_linux_dmabuf_v1 directly to the compositor.
	KindBypass
	// KindDRI3 is the DRI3/Present pixmap backend.
	KindDRI3
	// KindSHM is the shared-memory fallback backend.
	KindSHM
)

func (k Kind) String() string {
	switch k {
	case KindBypass:
		return "bypass"
	case KindDRI3:
		return "dri3"
	case KindSHM:
		return "shm"
	default:
		return "none"
	}
}

// Presenter is the capability set common to all three presentation
// backends. There is no dynamic-dispatch hot path: one variant is
// chosen at swapchain creation (see Selector) and held for the
// swapchain's lifetime.
type Presenter interface {
	// Kind identifies the backend.
	Kind() Kind

	// IsAvailable reports whether the backend's availability probe
	// succeeds in the current environment.
	IsAvailable() bool

	// Init performs one-time backend initialization. Called at most
	// once, after IsAvailable has returned true.
	Init() error

	// CreateImageResources builds the backend-specific presentation
	// artifact for img from its ExternalMemory, writing the result
	// into img.Artifact. Fds consumed by the backend must be dup'd
	// first; the originals remain owned by the swapchain for Vulkan
	// import.
	CreateImageResources(img *SwapchainImage, fourcc uint32, modifier uint64) error

	// PresentImage submits img's artifact to the server. serial is
	// the swapchain's monotonically incremented send-sequence
	// counter; backends that do not use serials ignore it.
	PresentImage(img *SwapchainImage, serial uint64) error

	// DestroyImageResources tears down img's backend-specific
	// artifact and, where applicable, closes the fds it consumed.
	DestroyImageResources(img *SwapchainImage)

	// DeferredReleaseEnabled reports whether presents through this
	// backend need the deferred-release ring (true for DRI3 and
	// bypass; false for SHM, which releases synchronously).
	DeferredReleaseEnabled() bool
}
