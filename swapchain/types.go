// Copyright 2025 The cix-gpu Authors. All rights reserved.

// Package swapchain implements the presentation engine of a Vulkan
// WSI swapchain targeting an X11 surface. It selects one of three
// presentation backends (DRI3/Present, an Xwayland-bypass path that
// speaks zwp_linux_dmabuf_v1 directly to the compositor, or an SHM
// fallback), manages the DMA-BUF-backed lifecycle of the swapchain's
// images, and coordinates the application's render loop with
// asynchronous buffer-release signals from the display server.
//
// The generic image acquire/release queue, the DMA-BUF allocator, DRM
// format enumeration, Vulkan external-memory import and the X11
// surface object itself are treated as external collaborators (see
// Base, Allocator, Importer and Surface) rather than implemented here.
package swapchain

import (
	"github.com/vulkan-go/vulkan"
)

// Status is the lifecycle state of a SwapchainImage.
type Status int

const (
	// Free means the image is available for acquisition.
	Free Status = iota
	// Acquired means the application holds the image for rendering.
	Acquired
	// Presented means the image has been handed to the presenter and
	// must not be written until the backend has observed release,
	// the synchronous copy has returned (SHM), or the deferred-
	// release ring has advanced past it.
	Presented
	// Invalid means the image has been torn down.
	Invalid
)

func (s Status) String() string {
	switch s {
	case Free:
		return "FREE"
	case Acquired:
		return "ACQUIRED"
	case Presented:
		return "PRESENTED"
	case Invalid:
		return "INVALID"
	default:
		return "UNKNOWN"
	}
}

// MaxPlanes is the maximum number of DMA-BUF planes an ExternalMemory
// can describe.
const MaxPlanes = 4

// ExternalMemory is the DMA-BUF-backed description of a swapchain
// image's memory, as produced by the Allocator collaborator.
//
// Its fds are closed exactly once: when the presentation artifact
// built from them is destroyed (zero-copy backends) or when the
// image itself is destroyed (SHM). Importing a plane's fd into
// Vulkan does not transfer closure responsibility to the importer.
type ExternalMemory struct {
	Fds       [MaxPlanes]int
	Strides   [MaxPlanes]uint32
	Offsets   [MaxPlanes]uint32
	PlaneCount int
	Disjoint  bool
	// HandleType mirrors VkExternalMemoryHandleTypeFlagBits; opaque
	// to this package beyond being forwarded to the Importer.
	HandleType uint32
}

// validFds returns the fds actually in use, per PlaneCount.
func (m *ExternalMemory) validFds() []int {
	return m.Fds[:m.PlaneCount]
}

// PresentFence is a syncobj-style payload used to block buffer reuse
// on GPU completion. Its contents are opaque to this package; it is
// threaded through from the Importer collaborator to the presenter.
type PresentFence struct {
	Syncobj uintptr
	Valid   bool
}

// Artifact is the backend-specific presentable object built from an
// image's ExternalMemory. Exactly one field is meaningful at a time,
// determined by the swapchain's active Kind.
type Artifact struct {
	// X11Pixmap is set by the DRI3 backend.
	X11Pixmap uint32
	// WaylandBuffer is an opaque *dmabufv1.WlBuffer handle, set by the
	// Wayland-bypass backend. Stored as any to avoid this package
	// depending on the backend's Wayland packages directly.
	WaylandBuffer any
	// ShmRegion points at the SHM-backed staging region, set by the
	// SHM backend.
	ShmRegion *ShmRegion
}

// ShmRegion is the host-visible linear staging buffer used by the
// SHM presentation path.
type ShmRegion struct {
	SegmentID uint32 // X11 SHM segment id (shm.Seg)
	Addr      []byte // mmap'd bytes, length Stride*Height
	Stride    uint32
	Height    uint32
}

// SwapchainImage is one element of a Swapchain's fixed-size ordered
// image sequence.
type SwapchainImage struct {
	Status Status

	VkImage  vulkan.Image
	VkMemory vulkan.DeviceMemory

	ExternalMem ExternalMemory
	Fence       PresentFence
	Artifact    Artifact

	// index is the image's position within Swapchain.images; it is
	// set once at creation and never changes.
	index int
}

// FormatNegotiation records the DRM fourcc/modifier/plane layout
// locked in at the first image's creation and reused for every
// subsequent image of the same swapchain.
type FormatNegotiation struct {
	Done     bool
	Fourcc   uint32
	Modifier uint64
	Disjoint bool

	// Exportable and Importable track, independently, which
	// modifiers the allocator can export and which the device can
	// import, before intersection selects the one locked-in Modifier
	// above. Kept around for diagnostics and for idempotence checks
	// across repeated swapchain creation with the same create-info.
	Exportable []uint64
	Importable []uint64
}
