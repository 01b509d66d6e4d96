// Copyright 2025 The cix-gpu Authors. All rights reserved.

package swapchain

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallbackChain(t *testing.T) {
	assert.Equal(t, []Kind{KindBypass, KindDRI3, KindSHM}, fallbackChain(KindBypass))
	assert.Equal(t, []Kind{KindDRI3, KindBypass, KindSHM}, fallbackChain(KindDRI3))
	assert.Equal(t, []Kind{KindSHM}, fallbackChain(KindSHM))
}

func TestSelectorPreferenceDetectsZink(t *testing.T) {
	s := &Selector{
		ProcName: "no-such-app-in-any-routing-file",
		Maps:     func() (string, error) { return "7f0000000000-7f0000100000 r-xp 00000000 00:00 0 zink_dri.so", nil },
	}
	assert.Equal(t, KindBypass, s.preference())
}

func TestSelectorPreferenceDefaultsToDRI3(t *testing.T) {
	s := &Selector{
		ProcName: "no-such-app-in-any-routing-file",
		Maps:     func() (string, error) { return "", fmt.Errorf("no maps") },
	}
	assert.Equal(t, KindDRI3, s.preference())
}

func TestSelectorSelectFallsBackToSHM(t *testing.T) {
	factoryMu.Lock()
	savedFactories := factories
	factories = map[Kind]Factory{
		KindBypass: func(s Surface) Presenter { return &stubPresenter{kind: KindBypass, available: false} },
		KindDRI3:   func(s Surface) Presenter { return &stubPresenter{kind: KindDRI3, available: false} },
		KindSHM:    func(s Surface) Presenter { return &stubPresenter{kind: KindSHM, available: true} },
	}
	factoryMu.Unlock()
	defer func() {
		factoryMu.Lock()
		factories = savedFactories
		factoryMu.Unlock()
	}()

	s := &Selector{
		ProcName: "no-such-app-in-any-routing-file",
		Maps:     func() (string, error) { return "", nil },
	}
	p, err := s.Select(nil)
	require.NoError(t, err)
	assert.Equal(t, KindSHM, p.Kind())
}

func TestSelectorSelectReturnsErrWhenNoneAvailable(t *testing.T) {
	factoryMu.Lock()
	savedFactories := factories
	factories = map[Kind]Factory{
		KindSHM: func(s Surface) Presenter { return &stubPresenter{kind: KindSHM, available: false} },
	}
	factoryMu.Unlock()
	defer func() {
		factoryMu.Lock()
		factories = savedFactories
		factoryMu.Unlock()
	}()

	s := &Selector{ProcName: "no-such-app-in-any-routing-file", Maps: func() (string, error) { return "", nil }}
	_, err := s.Select(nil)
	assert.ErrorIs(t, err, ErrInitFailure)
}

type stubPresenter struct {
	kind      Kind
	available bool
	initErr   error
}

func (p *stubPresenter) Kind() Kind                    { return p.kind }
func (p *stubPresenter) IsAvailable() bool             { return p.available }
func (p *stubPresenter) Init() error                   { return p.initErr }
func (p *stubPresenter) CreateImageResources(*SwapchainImage, uint32, uint64) error { return nil }
func (p *stubPresenter) PresentImage(*SwapchainImage, uint64) error                 { return nil }
func (p *stubPresenter) DestroyImageResources(*SwapchainImage)                      {}
func (p *stubPresenter) DeferredReleaseEnabled() bool                              { return p.kind != KindSHM }
