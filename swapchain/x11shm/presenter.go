// Copyright 2025 The cix-gpu Authors. All rights reserved.

// Package x11shm implements the shared-memory presentation backend
// (spec §4.4): the universal fallback used when neither DRI3/Present
// nor the Wayland-bypass path is available. Each swapchain image owns
// a host-visible linear staging region, attached to the X server via
// the SHM extension and blitted with shm.PutImage; the contract is
// synchronous, so no deferred-release ring is needed.
package x11shm

import (
	"fmt"

	"github.com/BurntSushi/xgb/shm"
	"github.com/BurntSushi/xgb/xproto"
	"golang.org/x/sys/unix"

	"github.com/cix-gpu/wsi/swapchain"
)

func init() {
	swapchain.RegisterPresenter(swapchain.KindSHM, func(s swapchain.Surface) swapchain.Presenter {
		return New(s)
	})
}

// Presenter implements swapchain.Presenter for the SHM backend. It
// deliberately does not implement swapchain.Pumpable: its event-pump
// behavior is the condition-variable-gated pending-completions loop
// driven directly by the swapchain package (see eventPump.runSHM).
type Presenter struct {
	surface swapchain.Surface
	gc      xproto.Gcontext
}

func New(surface swapchain.Surface) *Presenter {
	return &Presenter{surface: surface}
}

func (p *Presenter) Kind() swapchain.Kind { return swapchain.KindSHM }

func (p *Presenter) DeferredReleaseEnabled() bool { return false }

// IsAvailable probes for the SHM extension. It is the universal
// floor of the fallback chain: if this probe fails there is no
// presentable backend left and selection must report an error.
func (p *Presenter) IsAvailable() bool {
	c := p.surface.Connection()
	if c == nil {
		return false
	}
	if err := shm.Init(c); err != nil {
		return false
	}
	reply, err := shm.QueryVersion(c).Reply()
	return err == nil && reply != nil
}

// Init creates a graphics context on the surface's window, used by
// every subsequent PutImage.
func (p *Presenter) Init() error {
	c := p.surface.Connection()
	gcID, err := c.NewId()
	if err != nil {
		return fmt.Errorf("x11shm: allocating gcontext id: %w", err)
	}
	gc := xproto.Gcontext(gcID)
	if err := xproto.CreateGCChecked(c, gc, xproto.Drawable(p.surface.Window()), 0, nil).Check(); err != nil {
		return fmt.Errorf("x11shm: CreateGC: %w", err)
	}
	p.gc = gc
	return nil
}

// CreateImageResources attaches img's memory-backed SHM segment to
// the X server via shm.AttachFd, passing a dup of plane 0's fd. The
// region itself (mmap'd bytes, stride, height) was built by the
// swapchain's AllocateAndBind from the Allocator's plane-0 fd and
// carried in through img.Artifact.ShmRegion.
func (p *Presenter) CreateImageResources(img *swapchain.SwapchainImage, fourcc uint32, modifier uint64) error {
	region := img.Artifact.ShmRegion
	if region == nil {
		return fmt.Errorf("x11shm: image has no SHM region")
	}

	c := p.surface.Connection()
	segID, err := c.NewId()
	if err != nil {
		return fmt.Errorf("x11shm: allocating segment id: %w", err)
	}

	fd := img.ExternalMem.Fds[0]
	dup, err := unix.Dup(fd)
	if err != nil {
		return fmt.Errorf("x11shm: dup segment fd: %w", err)
	}

	if err := shm.AttachFdChecked(c, shm.Seg(segID), uint32(dup), false).Check(); err != nil {
		unix.Close(dup)
		return fmt.Errorf("x11shm: Attach: %w", err)
	}

	region.SegmentID = segID
	return nil
}

// PresentImage blits region's contents to the surface's window with
// shm.PutImage and waits for the request to complete, matching the
// synchronous contract of spec §4.4: by the time this returns, the
// image is safe to reuse.
func (p *Presenter) PresentImage(img *swapchain.SwapchainImage, serial uint64) error {
	region := img.Artifact.ShmRegion
	if region == nil || region.SegmentID == 0 {
		return fmt.Errorf("x11shm: image has no attached SHM segment")
	}
	c := p.surface.Connection()

	depth := uint8(p.surface.VisualDepth())
	if depth == 0 {
		depth = 24
	}

	w := uint16(p.surface.Width())
	h := uint16(p.surface.Height())
	cookie := shm.PutImage(
		c, xproto.Drawable(p.surface.Window()), p.gc,
		w, h, 0, 0, w, h, 0, 0,
		depth, xproto.ImageFormatZPixmap, 0,
		shm.Seg(region.SegmentID), 0,
	)
	return cookie.Check()
}

// DestroyImageResources detaches img's SHM segment from the server.
// The mmap'd region is unmapped by the swapchain package when the
// image itself is destroyed; plane 0's fd is not closed here.
func (p *Presenter) DestroyImageResources(img *swapchain.SwapchainImage) {
	region := img.Artifact.ShmRegion
	if region == nil || region.SegmentID == 0 {
		return
	}
	c := p.surface.Connection()
	shm.Detach(c, shm.Seg(region.SegmentID))
	region.SegmentID = 0
}
