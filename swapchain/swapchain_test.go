// Copyright 2025 The cix-gpu Authors. All rights reserved.

package swapchain

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vulkan-go/vulkan"
	"golang.org/x/sys/unix"
)

type fakeBase struct {
	presentIDEnabled bool
	lastPresentID    uint64
	wokenPageFlip    int
}

func (b *fakeBase) PresentIDEnabled() bool    { return b.presentIDEnabled }
func (b *fakeBase) SetPresentID(id uint64)    { b.lastPresentID = id }
func (b *fakeBase) WakePageFlip()             { b.wokenPageFlip++ }

type fakeAllocator struct{}

func (fakeAllocator) ExportableModifiers(fourcc uint32) ([]uint64, error) {
	return []uint64{0x1, 0x2}, nil
}

func (fakeAllocator) Allocate(fourcc uint32, modifier uint64, width, height int) (ExternalMemory, error) {
	return ExternalMemory{Fds: [MaxPlanes]int{-1, -1, -1, -1}, PlaneCount: 1}, nil
}

// shmFileAllocator stands in for a real SHM allocator: it backs plane
// 0 with a truncated regular file so allocateAndBindSHMLocked's
// unix.Mmap call has a real, mmapable fd to work against, the way a
// POSIX shm_open/memfd_create-backed allocator would.
type shmFileAllocator struct {
	t      *testing.T
	stride uint32
}

func (a *shmFileAllocator) ExportableModifiers(fourcc uint32) ([]uint64, error) { return nil, nil }

func (a *shmFileAllocator) Allocate(fourcc uint32, modifier uint64, width, height int) (ExternalMemory, error) {
	path := filepath.Join(a.t.TempDir(), "shm-region")
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0o600)
	if err != nil {
		return ExternalMemory{}, err
	}
	a.t.Cleanup(func() { unix.Close(fd) })

	stride := a.stride
	if stride == 0 {
		stride = uint32(width) * 4
	}
	if err := unix.Ftruncate(fd, int64(stride)*int64(height)); err != nil {
		return ExternalMemory{}, err
	}

	mem := ExternalMemory{PlaneCount: 1}
	mem.Fds[0] = fd
	mem.Strides[0] = stride
	return mem, nil
}

type fakeImporter struct{}

func (fakeImporter) DrmFormatModifierProperties(format uint32) ([]DrmFormatModifierProperties, error) {
	return []DrmFormatModifierProperties{
		{Modifier: 0x1, Importable: true},
		{Modifier: 0x3, Importable: true},
	}, nil
}

func (fakeImporter) ImportImage(info ImageCreateInfo, mem ExternalMemory, modifier uint64, disjoint bool) (vulkan.Image, vulkan.DeviceMemory, error) {
	return vulkan.Image(1), vulkan.DeviceMemory(1), nil
}

type fakePresenter struct {
	kind              Kind
	deferredEnabled   bool
	presentCalls      int
	destroyCalls      int
	failNextPresent   bool
}

func (p *fakePresenter) Kind() Kind        { return p.kind }
func (p *fakePresenter) IsAvailable() bool { return true }
func (p *fakePresenter) Init() error       { return nil }

func (p *fakePresenter) CreateImageResources(img *SwapchainImage, fourcc uint32, modifier uint64) error {
	img.Artifact.X11Pixmap = 42
	return nil
}

func (p *fakePresenter) PresentImage(img *SwapchainImage, serial uint64) error {
	p.presentCalls++
	if p.failNextPresent {
		p.failNextPresent = false
		return assert.AnError
	}
	return nil
}

func (p *fakePresenter) DestroyImageResources(img *SwapchainImage) { p.destroyCalls++ }
func (p *fakePresenter) DeferredReleaseEnabled() bool               { return p.deferredEnabled }

func withFakeFactory(t *testing.T, kind Kind, p Presenter) {
	factoryMu.Lock()
	saved := factories
	factories = map[Kind]Factory{kind: func(Surface) Presenter { return p }}
	factoryMu.Unlock()
	t.Cleanup(func() {
		factoryMu.Lock()
		factories = saved
		factoryMu.Unlock()
	})
}

type fakeSurface struct{}

func (fakeSurface) Connection() *xgb.Conn  { return nil }
func (fakeSurface) Window() xproto.Window     { return 0 }
func (fakeSurface) RootWindow() xproto.Window { return 0 }
func (fakeSurface) Width() int                { return 1920 }
func (fakeSurface) Height() int               { return 1080 }
func (fakeSurface) VisualDepth() int          { return 24 }

func newTestSwapchain(t *testing.T, presenter *fakePresenter) (*Swapchain, *fakeBase) {
	withFakeFactory(t, presenter.kind, presenter)
	base := &fakeBase{}
	sc, err := New(Config{
		Base:       base,
		Surface:    fakeSurface{},
		Allocator:  fakeAllocator{},
		Importer:   fakeImporter{},
		ImageCount: 3,
		Selector:   Selector{ProcName: "no-such-app", Maps: func() (string, error) { return "", nil }},
	})
	require.NoError(t, err)
	t.Cleanup(sc.Teardown)
	return sc, base
}

func TestNewSelectsRegisteredBackend(t *testing.T) {
	presenter := &fakePresenter{kind: KindSHM}
	sc, _ := newTestSwapchain(t, presenter)
	assert.Equal(t, KindSHM, sc.Kind())
	assert.False(t, sc.DeferredReleaseEnabled())
}

func TestCreateImageNegotiatesFormatOnce(t *testing.T) {
	presenter := &fakePresenter{kind: KindDRI3, deferredEnabled: true}
	sc, _ := newTestSwapchain(t, presenter)

	info := ImageCreateInfo{Format: 0x1, Width: 1920, Height: 1080}
	require.NoError(t, sc.CreateImage(info, 0))
	require.NoError(t, sc.AllocateAndBind(0))

	img := sc.images[0]
	assert.Equal(t, vulkan.Image(1), img.VkImage)
	assert.True(t, sc.format.Done)
	assert.Equal(t, uint64(0x1), sc.format.Modifier, "intersection of importable+exportable picks modifier 0x1")
}

func TestCreateImageFailsWhenNoCommonModifier(t *testing.T) {
	presenter := &fakePresenter{kind: KindDRI3, deferredEnabled: true}
	withFakeFactory(t, KindDRI3, presenter)

	sc, err := New(Config{
		Surface:    fakeSurface{},
		Allocator:  disjointAllocator{},
		Importer:   fakeImporter{},
		ImageCount: 1,
		Selector:   Selector{ProcName: "no-such-app", Maps: func() (string, error) { return "", nil }},
	})
	require.NoError(t, err)
	defer sc.Teardown()

	err = sc.CreateImage(ImageCreateInfo{Format: 0x1}, 0)
	assert.ErrorIs(t, err, ErrFormatUnsupported)
}

type disjointAllocator struct{}

func (disjointAllocator) ExportableModifiers(fourcc uint32) ([]uint64, error) { return []uint64{0x99}, nil }
func (disjointAllocator) Allocate(fourcc uint32, modifier uint64, width, height int) (ExternalMemory, error) {
	return ExternalMemory{}, nil
}

func TestPresentAdvancesRingAndReleasesOldestImage(t *testing.T) {
	presenter := &fakePresenter{kind: KindDRI3, deferredEnabled: true}
	sc, base := newTestSwapchain(t, presenter)

	for i := 0; i < 3; i++ {
		require.NoError(t, sc.Acquire(i))
	}

	require.NoError(t, sc.Present(0))
	assert.Equal(t, Presented, sc.images[0].Status)

	require.NoError(t, sc.Present(1))
	assert.Equal(t, Presented, sc.images[1].Status)

	// The third present evicts image 0 from the two-deep ring.
	require.NoError(t, sc.Present(2))
	assert.Equal(t, Free, sc.images[0].Status)
	assert.Equal(t, Presented, sc.images[2].Status)

	assert.Equal(t, uint64(3), base.lastPresentID)
	assert.Equal(t, 3, presenter.presentCalls)
}

func TestPresentFailureReleasesImmediately(t *testing.T) {
	presenter := &fakePresenter{kind: KindDRI3, deferredEnabled: true, failNextPresent: true}
	sc, _ := newTestSwapchain(t, presenter)

	require.NoError(t, sc.Acquire(0))
	err := sc.Present(0)
	assert.ErrorIs(t, err, ErrSurfaceLost)
	assert.Equal(t, Free, sc.images[0].Status, "a failed present releases the image rather than holding it in the ring")
}

func TestGetFreeBufferTimesOutWhenNoneFree(t *testing.T) {
	presenter := &fakePresenter{kind: KindSHM}
	sc, _ := newTestSwapchain(t, presenter)

	for i := range sc.images {
		require.NoError(t, sc.Acquire(i))
	}

	err := sc.GetFreeBuffer(10 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestGetFreeBufferZeroTimeoutPolls(t *testing.T) {
	presenter := &fakePresenter{kind: KindSHM}
	sc, _ := newTestSwapchain(t, presenter)

	assert.NoError(t, sc.GetFreeBuffer(0), "all images start free")
}

func TestTeardownDestroysEveryImageAndWakesPageFlip(t *testing.T) {
	presenter := &fakePresenter{kind: KindDRI3, deferredEnabled: true}
	sc, base := newTestSwapchain(t, presenter)

	for i := 0; i < 3; i++ {
		require.NoError(t, sc.Acquire(i))
		require.NoError(t, sc.Present(i))
	}

	sc.Teardown()
	assert.Equal(t, 1, base.wokenPageFlip)
	for i := range sc.images {
		assert.Equal(t, Invalid, sc.images[i].Status)
	}
	assert.Equal(t, 3, presenter.destroyCalls)
}

// TestAllocateAndBindSHMBuildsRegion exercises the SHM staging-region
// path end to end: the allocator hands back a real mmapable fd, and
// AllocateAndBind is expected to build and mmap img.Artifact.ShmRegion
// itself (the universal-fallback backend that must always succeed)
// before ever calling into the presenter.
func TestAllocateAndBindSHMBuildsRegion(t *testing.T) {
	presenter := &fakePresenter{kind: KindSHM}
	withFakeFactory(t, KindSHM, presenter)

	allocator := &shmFileAllocator{t: t}
	sc, err := New(Config{
		Surface:    fakeSurface{},
		Allocator:  allocator,
		Importer:   fakeImporter{},
		ImageCount: 1,
		Selector:   Selector{ProcName: "no-such-app", Maps: func() (string, error) { return "", nil }},
	})
	require.NoError(t, err)
	defer sc.Teardown()

	require.NoError(t, sc.CreateImage(ImageCreateInfo{Width: 1920, Height: 1080}, 0))
	require.NoError(t, sc.AllocateAndBind(0))

	img := sc.images[0]
	require.NotNil(t, img.Artifact.ShmRegion, "a successful SHM bind must leave a staging region behind")
	region := img.Artifact.ShmRegion
	assert.Equal(t, uint32(1920*4), region.Stride)
	assert.Equal(t, uint32(1080), region.Height)
	assert.Len(t, region.Addr, int(region.Stride*region.Height), "mmap'd region must cover stride*height bytes")
	assert.Equal(t, vulkan.Image(1), img.VkImage)
}

// TestAllocateAndBindSHMUnmapsRegionOnCreateFailure checks the error
// path: if the presenter rejects the resources, the region must be
// unmapped rather than leaked, and left cleared on the image.
func TestAllocateAndBindSHMUnmapsRegionOnCreateFailure(t *testing.T) {
	presenter := &failingCreatePresenter{kind: KindSHM}
	withFakeFactory(t, KindSHM, presenter)

	allocator := &shmFileAllocator{t: t}
	sc, err := New(Config{
		Surface:    fakeSurface{},
		Allocator:  allocator,
		Importer:   fakeImporter{},
		ImageCount: 1,
		Selector:   Selector{ProcName: "no-such-app", Maps: func() (string, error) { return "", nil }},
	})
	require.NoError(t, err)
	defer sc.Teardown()

	require.NoError(t, sc.CreateImage(ImageCreateInfo{Width: 64, Height: 64}, 0))
	err = sc.AllocateAndBind(0)
	assert.Error(t, err)
	assert.Nil(t, sc.images[0].Artifact.ShmRegion)
}

type failingCreatePresenter struct {
	kind Kind
}

func (p *failingCreatePresenter) Kind() Kind        { return p.kind }
func (p *failingCreatePresenter) IsAvailable() bool { return true }
func (p *failingCreatePresenter) Init() error       { return nil }
func (p *failingCreatePresenter) CreateImageResources(img *SwapchainImage, fourcc uint32, modifier uint64) error {
	return assert.AnError
}
func (p *failingCreatePresenter) PresentImage(img *SwapchainImage, serial uint64) error { return nil }
func (p *failingCreatePresenter) DestroyImageResources(img *SwapchainImage)             {}
func (p *failingCreatePresenter) DeferredReleaseEnabled() bool                          { return false }
