// Copyright 2025 The cix-gpu Authors. All rights reserved.

package swapchain

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/vulkan-go/vulkan"
	"golang.org/x/sys/unix"
)

// MaxPendingCompletions bounds the number of outstanding SHM
// completions a swapchain will queue before Present blocks (spec §5).
const MaxPendingCompletions = 128

// Config carries everything Swapchain.New needs from the layers
// above and below it: the (out-of-scope) generic WSI base, the X11
// surface object, and the DMA-BUF allocator/Vulkan-import
// collaborators.
type Config struct {
	Base      Base
	Surface   Surface
	Allocator Allocator
	Importer  Importer
	ImageCount int

	// Selector lets tests override process-name/maps detection; the
	// zero value uses the real /proc files.
	Selector Selector
}

// Swapchain is the presentation engine described by this package: it
// owns a fixed-size ordered sequence of images, the active presenter
// variant, the deferred-release ring (when the backend needs one),
// the event-pump goroutine, and the send-sequence counter used by the
// DRI3 backend's serials.
type Swapchain struct {
	base      Base
	surface   Surface
	allocator Allocator
	importer  Importer

	presenter       Presenter
	kind            Kind
	deferredEnabled bool

	// mu guards everything below. Some internal methods assume the
	// caller already holds mu and are named with a "Locked" suffix;
	// callers must never call a "Locked" method without holding mu,
	// and must never call a non-"Locked" method while holding mu.
	// This stands in for the recursive mutex the original uses,
	// since Go's sync.Mutex is not reentrant (see DESIGN.md).
	mu     sync.Mutex
	images []SwapchainImage
	ring   *ring
	format FormatNegotiation
	sendSBC uint64

	pendingCompletions int
	pumpWake           *sync.Cond

	pump *eventPump
}

// New creates a swapchain for cfg.ImageCount images, selecting a
// presentation backend per spec §4.1 and starting the event pump.
func New(cfg Config) (*Swapchain, error) {
	if cfg.ImageCount <= 0 {
		return nil, fmt.Errorf("swapchain: invalid image count %d", cfg.ImageCount)
	}

	sc := &Swapchain{
		base:      cfg.Base,
		surface:   cfg.Surface,
		allocator: cfg.Allocator,
		importer:  cfg.Importer,
		images:    make([]SwapchainImage, cfg.ImageCount),
		ring:      newRing(),
		pump:      newEventPump(),
	}
	sc.pumpWake = sync.NewCond(&sc.mu)
	for i := range sc.images {
		sc.images[i].Status = Free
		sc.images[i].index = i
	}

	selector := cfg.Selector
	presenter, err := selector.Select(cfg.Surface)
	if err != nil {
		return nil, fmt.Errorf("swapchain: %w: %v", ErrInitFailure, err)
	}
	sc.presenter = presenter
	sc.kind = presenter.Kind()
	sc.deferredEnabled = deferredReleaseEnabled(sc.kind)

	if sc.kind == KindBypass {
		log.Printf("swapchain: bypass active, unmapping X11 window")
		if err := xproto.UnmapWindowChecked(cfg.Surface.Connection(), cfg.Surface.Window()).Check(); err != nil {
			log.Printf("swapchain: unmapping X11 window for bypass: %v", err)
		}
	}

	sc.initPlatform()
	return sc, nil
}

// initPlatform starts the event pump, per spec §5.
func (sc *Swapchain) initPlatform() {
	backend, _ := sc.presenter.(Pumpable)
	sc.pump.start(sc, backend)
}

// Kind returns the selected presentation backend.
func (sc *Swapchain) Kind() Kind { return sc.kind }

// DeferredReleaseEnabled reports whether this swapchain's backend
// uses the deferred-release ring.
func (sc *Swapchain) DeferredReleaseEnabled() bool { return sc.deferredEnabled }

// VisualDepth exposes the X11 visual depth chosen for the surface,
// defaulting to 24 when the query failed (spec §9 Open Question).
func (sc *Swapchain) VisualDepth() int {
	if d := sc.surface.VisualDepth(); d > 0 {
		return d
	}
	return 24
}

// CreateImage negotiates the swapchain's format (on the first call)
// and reuses it thereafter, per spec §4.6.
func (sc *Swapchain) CreateImage(info ImageCreateInfo, slot int) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if slot < 0 || slot >= len(sc.images) {
		return fmt.Errorf("swapchain: slot %d out of range", slot)
	}

	if sc.kind == KindSHM {
		// SHM images are host-visible linear; no format negotiation
		// against DMA-BUF modifiers is needed.
		return nil
	}

	if !sc.format.Done {
		if err := sc.negotiateFormatLocked(info); err != nil {
			return err
		}
	}
	return nil
}

// negotiateFormatLocked implements the first-image negotiation of
// spec §4.6, supplemented with the exportable/importable/disjoint
// split of SPEC_FULL §11 item 3. sc.mu must be held.
func (sc *Swapchain) negotiateFormatLocked(info ImageCreateInfo) error {
	props, err := sc.importer.DrmFormatModifierProperties(info.Format)
	if err != nil {
		return fmt.Errorf("swapchain: querying format properties: %w", err)
	}

	fourcc := info.Format // collaborator contract: caller already
	// converted the Vulkan format to a DRM fourcc before handing it
	// to the swapchain; this package treats the value opaquely.

	exportable, err := sc.allocator.ExportableModifiers(fourcc)
	if err != nil {
		return fmt.Errorf("swapchain: querying exportable modifiers: %w", err)
	}
	exportableSet := make(map[uint64]bool, len(exportable))
	for _, m := range exportable {
		exportableSet[m] = true
	}

	var importable []uint64
	var chosen *DrmFormatModifierProperties
	for i, p := range props {
		if p.Importable {
			importable = append(importable, p.Modifier)
		}
		if p.Importable && exportableSet[p.Modifier] && chosen == nil {
			chosen = &props[i]
		}
	}
	if chosen == nil {
		return ErrFormatUnsupported
	}

	sc.format = FormatNegotiation{
		Done:       true,
		Fourcc:     fourcc,
		Modifier:   chosen.Modifier,
		Disjoint:   chosen.RequiresDisjoint,
		Exportable: exportable,
		Importable: importable,
	}
	return nil
}

// AllocateAndBind allocates the image's memory and, on zero-copy
// backends, builds the presenter artifact before importing into
// Vulkan (import may close the fds), per spec §4.6.
func (sc *Swapchain) AllocateAndBind(slot int) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if slot < 0 || slot >= len(sc.images) {
		return fmt.Errorf("swapchain: slot %d out of range", slot)
	}
	img := &sc.images[slot]

	if sc.kind == KindSHM {
		return sc.allocateAndBindSHMLocked(img)
	}
	return sc.allocateAndBindZeroCopyLocked(img)
}

func (sc *Swapchain) allocateAndBindZeroCopyLocked(img *SwapchainImage) error {
	if !sc.format.Done {
		return fmt.Errorf("swapchain: format not negotiated")
	}

	mem, err := sc.allocator.Allocate(sc.format.Fourcc, sc.format.Modifier, sc.surface.Width(), sc.surface.Height())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOutOfHostMemory, err)
	}
	img.ExternalMem = mem

	if err := sc.presenter.CreateImageResources(img, sc.format.Fourcc, sc.format.Modifier); err != nil {
		return fmt.Errorf("swapchain: creating presentation artifact: %w", err)
	}

	info := ImageCreateInfo{Format: sc.format.Fourcc, Width: sc.surface.Width(), Height: sc.surface.Height()}
	vkImg, vkMem, err := sc.importer.ImportImage(info, mem, sc.format.Modifier, mem.Disjoint)
	if err != nil {
		sc.presenter.DestroyImageResources(img)
		return fmt.Errorf("swapchain: importing into Vulkan: %w", err)
	}
	img.VkImage = vkImg
	img.VkMemory = vkMem
	return nil
}

// allocateAndBindSHMLocked builds the host-visible staging region a
// SHM image presents from (spec §4.4: size = stride * height, mmap'd
// from the allocator's plane-0 fd) before handing off to the
// presenter, which only attaches an already-built region to the X
// server.
func (sc *Swapchain) allocateAndBindSHMLocked(img *SwapchainImage) error {
	mem, err := sc.allocator.Allocate(0, 0, sc.surface.Width(), sc.surface.Height())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOutOfHostMemory, err)
	}
	img.ExternalMem = mem

	stride := mem.Strides[0]
	if stride == 0 {
		stride = uint32(sc.surface.Width()) * 4
	}
	height := uint32(sc.surface.Height())
	addr, err := unix.Mmap(mem.Fds[0], 0, int(stride*height), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("%w: mmap SHM region: %v", ErrOutOfHostMemory, err)
	}
	img.Artifact.ShmRegion = &ShmRegion{Addr: addr, Stride: stride, Height: height}

	if err := sc.presenter.CreateImageResources(img, 0, 0); err != nil {
		unix.Munmap(addr)
		img.Artifact.ShmRegion = nil
		return fmt.Errorf("swapchain: creating SHM resources: %w", err)
	}

	info := ImageCreateInfo{Width: sc.surface.Width(), Height: sc.surface.Height()}
	vkImg, vkMem, err := sc.importer.ImportImage(info, mem, 0, false)
	if err != nil {
		sc.presenter.DestroyImageResources(img)
		unix.Munmap(addr)
		img.Artifact.ShmRegion = nil
		return fmt.Errorf("swapchain: importing host-visible image: %w", err)
	}
	img.VkImage = vkImg
	img.VkMemory = vkMem
	return nil
}

// Acquire transitions slot from FREE to ACQUIRED. It does not block;
// callers use GetFreeBuffer first.
func (sc *Swapchain) Acquire(slot int) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	img := &sc.images[slot]
	if img.Status != Free {
		return ErrNoBackbuffer
	}
	img.Status = Acquired
	return nil
}

// Present submits the image at slot to the active presenter and
// applies the deferred-release/immediate-release policy of spec §4.5
// and §4.6. It is the function a dedicated presentation worker calls;
// it may block on the SHM pending-completions cap (spec §5).
func (sc *Swapchain) Present(slot int) error {
	sc.mu.Lock()

	for sc.kind == KindSHM && sc.pendingCompletions == MaxPendingCompletions {
		if !sc.pump.isRunning() {
			sc.sendSBC++
			serial := sc.sendSBC
			sc.mu.Unlock()
			sc.unpresent(slot)
			if sc.base != nil {
				sc.base.SetPresentID(serial)
			}
			return nil
		}
		sc.pumpWake.Wait()
	}

	sc.sendSBC++
	serial := sc.sendSBC
	img := &sc.images[slot]
	img.Status = Presented

	if sc.kind == KindSHM {
		sc.pendingCompletions++
	}
	sc.mu.Unlock()

	err := sc.presenter.PresentImage(img, serial)

	sc.mu.Lock()
	if err == nil {
		if sc.deferredEnabled {
			if oldest := sc.ring.advance(true, slot); oldest != sentinel {
				sc.unpresentLocked(oldest)
			}
		} else {
			sc.unpresentLocked(slot)
		}
	} else {
		log.Printf("swapchain: present failed on %s: %v", sc.kind, err)
		// Presentation-time failures unpresent the offending image
		// immediately; the ring is not advanced (spec §4.5, §7).
		sc.unpresentLocked(slot)
	}
	if sc.base != nil {
		sc.base.SetPresentID(serial)
	}
	sc.pumpWake.Broadcast()
	sc.mu.Unlock()

	if err != nil {
		return fmt.Errorf("%w: %v", ErrSurfaceLost, err)
	}
	return nil
}

// unpresent releases slot to the free pool; it acquires mu itself.
func (sc *Swapchain) unpresent(slot int) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.unpresentLocked(slot)
}

// unpresentLocked releases slot to the free pool. sc.mu must be held.
func (sc *Swapchain) unpresentLocked(slot int) {
	if slot < 0 || slot >= len(sc.images) {
		return
	}
	sc.images[slot].Status = Free
	sc.pumpWake.Broadcast()
}

// drainOnePendingCompletion is called by the SHM event-pump loop once
// it has slept past a completion; it decrements the outstanding
// count and wakes any Present call blocked on the cap.
func (sc *Swapchain) drainOnePendingCompletion() {
	sc.mu.Lock()
	if sc.pendingCompletions > 0 {
		sc.pendingCompletions--
	}
	sc.pumpWake.Broadcast()
	sc.mu.Unlock()
}

// freeImageFoundLocked reports whether any image has status FREE.
// sc.mu must be held.
func (sc *Swapchain) freeImageFoundLocked() bool {
	for i := range sc.images {
		if sc.images[i].Status == Free {
			return true
		}
	}
	return false
}

// GetFreeBuffer waits until at least one image has status FREE,
// honoring timeout = 0 (poll), a negative timeout (block
// indefinitely) or a positive deadline, per spec §4.6/§8.
func (sc *Swapchain) GetFreeBuffer(timeout time.Duration) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if timeout == 0 {
		if sc.freeImageFoundLocked() {
			return nil
		}
		return ErrTimeout
	}

	if timeout < 0 {
		for !sc.freeImageFoundLocked() {
			if !sc.pump.isRunning() {
				return ErrOutOfDate
			}
			sc.pumpWake.Wait()
		}
		return nil
	}

	deadline := time.Now().Add(timeout)
	for !sc.freeImageFoundLocked() {
		if !sc.pump.isRunning() {
			return ErrOutOfDate
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrTimeout
		}
		waitOrTimeout(sc.pumpWake, remaining)
	}
	return nil
}

// DestroyImage tears down one image's presentation artifact, unmaps
// its SHM region if it has one, and clears its Vulkan image and
// memory handles. The Vulkan objects themselves are not destroyed by
// this package: the Importer collaborator offers no call for that.
func (sc *Swapchain) DestroyImage(slot int) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.destroyImageLocked(slot)
}

func (sc *Swapchain) destroyImageLocked(slot int) {
	if slot < 0 || slot >= len(sc.images) {
		return
	}
	img := &sc.images[slot]
	if img.Status == Invalid {
		return
	}
	sc.presenter.DestroyImageResources(img)
	if region := img.Artifact.ShmRegion; region != nil {
		unix.Munmap(region.Addr)
		img.Artifact.ShmRegion = nil
	}
	img.Status = Invalid
	img.VkImage = vulkan.Image(vulkan.NullHandle)
	img.VkMemory = vulkan.DeviceMemory(vulkan.NullHandle)
}

// Teardown stops the event pump, drains the deferred-release ring,
// destroys every image's presentation artifact and clears its Vulkan
// handles (see DestroyImage; the Vulkan objects are not destroyed
// here), and then wakes the base layer's page-flip semaphore.
func (sc *Swapchain) Teardown() {
	sc.pump.stop()

	sc.mu.Lock()
	for _, idx := range sc.ring.drain() {
		sc.unpresentLocked(idx)
	}
	for i := range sc.images {
		sc.destroyImageLocked(i)
	}
	sc.mu.Unlock()

	if sc.base != nil {
		sc.base.WakePageFlip()
	}
}
