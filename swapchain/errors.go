// Copyright 2025 The cix-gpu Authors. All rights reserved.

package swapchain

import "errors"

// ErrInitFailure means that a presentation backend's availability
// probe succeeded but its init step did not. The selector falls
// back to the next backend in the chain; if every backend fails,
// swapchain creation fails with this error.
var ErrInitFailure = errors.New("swapchain: backend initialization failed")

// ErrFormatUnsupported means that the allocator collaborator reports
// no importable DRM modifier for the requested Vulkan format.
var ErrFormatUnsupported = errors.New("swapchain: no importable format/modifier for device")

// ErrOutOfHostMemory covers allocation-time failures: the allocator
// collaborator, container growth, or dup of a DMA-BUF fd.
var ErrOutOfHostMemory = errors.New("swapchain: out of host memory")

// ErrSurfaceLost means a wire-level I/O failure occurred (flush,
// dispatch, display disconnect). It is surfaced from Present verbatim
// so that the WSI layer above can retire the swapchain.
var ErrSurfaceLost = errors.New("swapchain: surface lost")

// ErrTimeout means GetFreeBuffer reached its deadline without a
// free image becoming available.
var ErrTimeout = errors.New("swapchain: timed out waiting for a free image")

// ErrOutOfDate means the event pump's run flag was cleared while a
// blocking GetFreeBuffer call was waiting.
var ErrOutOfDate = errors.New("swapchain: swapchain out of date")

// ErrNoBackbuffer means every image is currently ACQUIRED or
// PRESENTED; the caller must wait via GetFreeBuffer.
var ErrNoBackbuffer = errors.New("swapchain: all images in use")
