// Copyright 2025 The cix-gpu Authors. All rights reserved.

package swapchain

import (
	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/vulkan-go/vulkan"
)

// Base is the generic WSI swapchain base collaborator. It lives
// outside this package's scope: image acquire/release queueing and
// present-id extension accounting belong to it. Swapchain calls back
// into it but never implements it.
type Base interface {
	// PresentIDEnabled reports whether the VK_KHR_present_id
	// extension is enabled for this swapchain.
	PresentIDEnabled() bool

	// SetPresentID forwards the id of the most recently attempted
	// present (successful or not) to the present-id extension
	// bookkeeping owned by the base layer.
	SetPresentID(id uint64)

	// WakePageFlip posts the base layer's page-flip semaphore so
	// that a page-flip worker blocked on it wakes promptly instead
	// of waiting out its own timeout. Called unconditionally during
	// teardown.
	WakePageFlip()
}

// Surface is the X11 surface object collaborator: the connection,
// window and geometry are already established by the layer above
// this package.
type Surface interface {
	Connection() *xgb.Conn
	Window() xproto.Window
	RootWindow() xproto.Window
	Width() int
	Height() int

	// VisualDepth returns the X11 visual depth for the surface, or
	// 0 if it could not be queried (callers fall back to 24).
	VisualDepth() int
}

// DrmFormatModifierProperties describes one candidate DRM format
// modifier for a Vulkan format, as reported by the (out-of-scope)
// Vulkan external-memory/DRM-format-modifier capability query.
type DrmFormatModifierProperties struct {
	Modifier        uint64
	Exportable      bool
	Importable      bool
	RequiresDisjoint bool
}

// Allocator is the DMA-BUF allocator collaborator.
type Allocator interface {
	// ExportableModifiers returns the modifiers the allocator can
	// export buffers with for the given DRM fourcc.
	ExportableModifiers(fourcc uint32) ([]uint64, error)

	// Allocate allocates a new DMA-BUF-backed buffer and returns its
	// external-memory description. The modifier must be one
	// returned by ExportableModifiers.
	Allocate(fourcc uint32, modifier uint64, width, height int) (ExternalMemory, error)
}

// ImageCreateInfo is the subset of VkImageCreateInfo this package
// needs to negotiate formats and request Vulkan imports.
type ImageCreateInfo struct {
	Format       uint32 // VkFormat, opaque to this package
	Width        int
	Height       int
	Usage        uint32 // VkImageUsageFlags, opaque to this package
	SharingMode  uint32
	QueueFamilies []uint32
}

// Importer is the Vulkan external-memory import collaborator: it
// binds a DMA-BUF-backed ExternalMemory to a Vulkan image. Importing
// a memory object may close the fds it was given; callers must build
// any presentation artifact that still needs those fds first.
type Importer interface {
	// DrmFormatModifierProperties reports, for the given Vulkan
	// format, every DRM modifier the device supports under DMA-BUF
	// external memory import, annotated with exportability/
	// importability/disjoint-plane requirements.
	DrmFormatModifierProperties(format uint32) ([]DrmFormatModifierProperties, error)

	// ImportImage imports mem as a Vulkan image using the given
	// modifier and disjoint-plane flag and returns the resulting
	// handles.
	ImportImage(info ImageCreateInfo, mem ExternalMemory, modifier uint64, disjoint bool) (vulkan.Image, vulkan.DeviceMemory, error)
}
