// Copyright 2025 The cix-gpu Authors. All rights reserved.

package swapchain

import (
	"bufio"
	"log"
	"os"
	"strings"
)

// zinkEnvVar, when set to "zink", strongly implies a translated-GL
// workload that misbehaves with DRI3's copy semantics.
const zinkEnvVar = "MESA_LOADER_DRIVER_OVERRIDE"

// noBypassEnvVar, when set to any value, disables bypass availability.
const noBypassEnvVar = "WSI_NO_WAYLAND_BYPASS"

// zinkLoadedMarker is the substring used to detect zink_dri.so mapped
// into the process's address space.
const zinkLoadedMarker = "zink_dri.so"

// Selector decides which presentation backend a Swapchain uses. It
// is a thin, stateless set of pure functions plus the attempt-and-
// fallback loop over Presenter candidates; see spec §4.1.
type Selector struct {
	// ProcName overrides the process short name used for the
	// configuration-override lookup. Tests set this directly instead
	// of relying on /proc/self/comm.
	ProcName string

	// Maps is an override for the /proc/self/maps scan used by
	// auto-detection; nil means read the real file.
	Maps func() (string, error)
}

// preference determines the preferred backend per spec §4.1 phases 1
// and 2. It never attempts to construct or probe a Presenter.
func (s *Selector) preference() Kind {
	procName := s.ProcName
	if procName == "" {
		if name, err := processShortName(); err == nil {
			procName = name
		}
	}

	if procName != "" {
		if kind, ok := lookupConfigOverride(procName); ok {
			log.Printf("swapchain: config override %q -> %s", procName, kind)
			return kind
		}
	}

	if s.isZinkWorkload() {
		log.Printf("swapchain: detected zink workload -> bypass")
		return KindBypass
	}
	return KindDRI3
}

// isZinkWorkload implements spec §4.1 phase 2's auto-detection.
func (s *Selector) isZinkWorkload() bool {
	if v := os.Getenv(zinkEnvVar); v == "zink" {
		return true
	}
	mapsText, err := s.readMaps()
	if err != nil {
		return false
	}
	return strings.Contains(mapsText, zinkLoadedMarker)
}

func (s *Selector) readMaps() (string, error) {
	if s.Maps != nil {
		return s.Maps()
	}
	data, err := os.ReadFile("/proc/self/maps")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// bypassDisabled reports whether WSI_NO_WAYLAND_BYPASS disables the
// bypass backend regardless of its own availability probe.
func bypassDisabled() bool {
	_, set := os.LookupEnv(noBypassEnvVar)
	return set
}

// fallbackChain returns the ordered list of Kind this Selector will
// attempt, per spec §4.1 phase 3.
func fallbackChain(preferred Kind) []Kind {
	switch preferred {
	case KindBypass:
		return []Kind{KindBypass, KindDRI3, KindSHM}
	case KindDRI3:
		return []Kind{KindDRI3, KindBypass, KindSHM}
	default:
		return []Kind{KindSHM}
	}
}

// Select runs the full selection algorithm: it computes the
// preferred backend, walks the resulting fallback chain, probing and
// initializing each candidate's Presenter in turn via surface, and
// returns the first one that succeeds. SHM is the universal floor:
// if its own probe fails, an error is returned rather than falling
// further.
func (s *Selector) Select(surface Surface) (Presenter, error) {
	preferred := s.preference()
	chain := fallbackChain(preferred)

	var lastErr error
	for _, kind := range chain {
		if kind == KindBypass && bypassDisabled() {
			log.Printf("swapchain: bypass disabled by %s", noBypassEnvVar)
			continue
		}

		p := newPresenter(kind, surface)
		if p == nil {
			log.Printf("swapchain: no backend registered for %s", kind)
			continue
		}
		if !p.IsAvailable() {
			log.Printf("swapchain: %s not available", kind)
			continue
		}
		if err := p.Init(); err != nil {
			log.Printf("swapchain: %s init failed: %v", kind, err)
			lastErr = err
			continue
		}
		log.Printf("swapchain: selected %s", kind)
		return p, nil
	}

	if lastErr == nil {
		lastErr = ErrInitFailure
	}
	return nil, lastErr
}

// deferredReleaseEnabled reports spec §4.1's selector-set flag:
// bypass and DRI3 both need the deferred ring; SHM never does.
func deferredReleaseEnabled(kind Kind) bool {
	return kind == KindBypass || kind == KindDRI3
}

// configLineScanner is exposed for tests that want to exercise the
// routing-table parser directly without touching the filesystem.
func configLineScanner(r *bufio.Scanner, procName string) (Kind, bool) {
	r.Buffer(make([]byte, maxConfigLine), maxConfigLine)
	for r.Scan() {
		line := r.Text()
		if line == "" || line[0] == '#' {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		if fields[0] != procName {
			continue
		}
		return parsePresenterName(fields[1])
	}
	return KindNone, false
}
