// Copyright 2025 The cix-gpu Authors. All rights reserved.

// Package x11dri3 implements the DRI3/Present presentation backend
// (spec §4.2): a swapchain image's DMA-BUF planes are turned into an
// X11 pixmap via DRI3's PixmapFromBuffers, and presented through the
// Present extension's PresentPixmap with the COPY option. The
// extension's CompleteNotify/IdleNotify events are drained by the
// event pump and discarded; completion is not tracked per image.
package x11dri3

import (
	"fmt"
	"sync"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"

	"github.com/cix-gpu/wsi/swapchain"
	"github.com/cix-gpu/wsi/swapchain/x11dri3/dri3ext"
	"github.com/cix-gpu/wsi/swapchain/x11dri3/presentext"
)

// pumpInterval is the fixed tick between PumpTick calls (spec §5).
const pumpInterval = 4 * time.Millisecond

func init() {
	swapchain.RegisterPresenter(swapchain.KindDRI3, func(s swapchain.Surface) swapchain.Presenter {
		return New(s)
	})
}

// Presenter implements swapchain.Presenter and swapchain.Pumpable for
// the DRI3/Present backend.
type Presenter struct {
	surface swapchain.Surface

	mu        sync.Mutex
	eventID   uint32
	available bool
	serial    uint32
}

// New constructs a DRI3/Present presenter bound to surface. It does
// not probe availability; call IsAvailable for that.
func New(surface swapchain.Surface) *Presenter {
	return &Presenter{surface: surface}
}

func (p *Presenter) Kind() swapchain.Kind { return swapchain.KindDRI3 }

func (p *Presenter) DeferredReleaseEnabled() bool { return true }

// IsAvailable probes for the DRI3 and Present extensions on the
// surface's connection, per spec §4.1.
func (p *Presenter) IsAvailable() bool {
	c := p.surface.Connection()
	if c == nil {
		return false
	}
	if err := dri3ext.Init(c); err != nil {
		return false
	}
	if err := presentext.Init(c); err != nil {
		return false
	}

	dv, err := dri3ext.QueryVersion(c, 1, 2).Reply()
	if err != nil || dv == nil || (dv.MajorVersion == 0 && dv.MinorVersion == 0) {
		return false
	}
	pv, err := presentext.QueryVersion(c, 1, 2).Reply()
	if err != nil || pv == nil {
		return false
	}
	p.mu.Lock()
	p.available = true
	p.mu.Unlock()
	return true
}

// Init selects Present events on the surface's window.
func (p *Presenter) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.available {
		return fmt.Errorf("x11dri3: not available")
	}
	c := p.surface.Connection()
	eventID, err := c.NewId()
	if err != nil {
		return fmt.Errorf("x11dri3: allocating event id: %w", err)
	}
	mask := uint32(presentext.EventMaskCompleteNotify | presentext.EventMaskIdleNotify)
	if err := presentext.SelectInput(c, eventID, p.surface.Window(), mask).Check(); err != nil {
		return fmt.Errorf("x11dri3: selecting present input: %w", err)
	}
	p.eventID = eventID
	return nil
}

// CreateImageResources builds an X11 pixmap from img's DMA-BUF planes
// via DRI3 PixmapFromBuffers (spec §4.2). The fds handed to the X
// server are dup'd first so that Vulkan import, which may close the
// originals, does not race pixmap creation.
func (p *Presenter) CreateImageResources(img *swapchain.SwapchainImage, fourcc uint32, modifier uint64) error {
	c := p.surface.Connection()
	pixmapID, err := c.NewId()
	if err != nil {
		return fmt.Errorf("x11dri3: allocating pixmap id: %w", err)
	}

	mem := img.ExternalMem
	var strides, offsets [4]uint32
	n := mem.PlaneCount
	for i := 0; i < n && i < 4; i++ {
		strides[i] = mem.Strides[i]
		offsets[i] = mem.Offsets[i]
	}

	depth, bpp := depthAndBppForFourcc(fourcc)
	if depth == 0 {
		depth = uint8(p.surface.VisualDepth())
		if depth == 0 {
			depth = 24
		}
	}

	if err := dupPlaneFdsToConn(c, mem.Fds[:n]); err != nil {
		return fmt.Errorf("x11dri3: sending dma-buf fds: %w", err)
	}

	cookie := dri3ext.PixmapFromBuffers(
		c, xproto.Pixmap(pixmapID), p.surface.Window(), uint8(n),
		uint16(p.surface.Width()), uint16(p.surface.Height()),
		strides, offsets, depth, bpp, modifier,
	)
	// Checking this request's own cookie stands in for the round-trip
	// a get_geometry call would otherwise force: any rejection of the
	// buffers (bad modifier, bad stride) still surfaces synchronously
	// here, before the pixmap id is handed back to the caller.
	if err := cookie.Check(); err != nil {
		return fmt.Errorf("x11dri3: PixmapFromBuffers: %w", err)
	}

	img.Artifact.X11Pixmap = pixmapID
	return nil
}

// PresentImage submits img's pixmap via Present's PresentPixmap,
// carrying serial (truncated to 32 bits; the extension's own wire
// format is 32-bit) in the request. The COPY option
// is mandatory here: the ring's release timing (spec §4.5, §5) assumes
// the compositor copies the pixmap's contents rather than scanning it
// out directly, which is what lets DestroyImageResources run without
// waiting on IdleNotify.
func (p *Presenter) PresentImage(img *swapchain.SwapchainImage, serial uint64) error {
	c := p.surface.Connection()
	cookie := presentext.PresentPixmap(
		c, p.surface.Window(), xproto.Pixmap(img.Artifact.X11Pixmap),
		uint32(serial), presentext.OptionCopy, 0, 0, 0,
	)
	return cookie.Check()
}

// DestroyImageResources frees the pixmap backing img. The DMA-BUF fds
// themselves were already handed off (and dup'd) at creation time;
// freeing the pixmap is sufficient to release the server's reference.
func (p *Presenter) DestroyImageResources(img *swapchain.SwapchainImage) {
	if img.Artifact.X11Pixmap == 0 {
		return
	}
	c := p.surface.Connection()
	xproto.FreePixmap(c, xproto.Pixmap(img.Artifact.X11Pixmap))
	img.Artifact.X11Pixmap = 0
}

// PumpInterval implements swapchain.Pumpable.
func (p *Presenter) PumpInterval() time.Duration { return pumpInterval }

// PumpTick drains and discards every pending X11 event, including the
// Present extension's CompleteNotify and IdleNotify. No event is
// correlated back to a SwapchainImage: ring advancement happens in
// the swapchain package's Present at submission time, which this tick
// does not call into; PumpTick's role is limited to keeping the
// connection's event queue from growing unbounded (spec §5).
func (p *Presenter) PumpTick() error {
	c := p.surface.Connection()
	for {
		ev, err := c.PollForEvent()
		if err != nil {
			return err
		}
		if ev == nil {
			return nil
		}
	}
}

func depthAndBppForFourcc(fourcc uint32) (depth, bpp uint8) {
	const (
		fourccXR24 = 0x34325258 // 'XR24': DRM_FORMAT_XRGB8888
		fourccAR24 = 0x34325241 // 'AR24': DRM_FORMAT_ARGB8888
	)
	switch fourcc {
	case fourccXR24:
		return 24, 32
	case fourccAR24:
		return 32, 32
	default:
		return 0, 32
	}
}
