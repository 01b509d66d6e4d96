// Copyright 2025 The cix-gpu Authors. All rights reserved.

package swapchain

import (
	"sync"
	"time"
)

// Pumpable is implemented by backends whose event pump tick is a
// simple "drain whatever is pending" operation: the DRI3 presenter
// drains the X11 event queue, the bypass presenter flushes the
// Wayland connection and drains its release list. The SHM backend
// does not implement this interface; its pump behavior is driven
// directly by the swapchain's pending-completion bookkeeping (see
// eventPump.runSHM).
type Pumpable interface {
	// PumpInterval is the tick period the event pump sleeps for
	// between calls to PumpTick when nothing wakes it early.
	PumpInterval() time.Duration

	// PumpTick performs one non-blocking round of event draining.
	// A returned error means the connection/display is lost; the
	// pump passes it to its onTickError hook when one is set and
	// keeps ticking until it is stopped.
	PumpTick() error
}

// eventPump is the dedicated worker started in initPlatform that
// drains server events for the lifetime of the swapchain (spec §5).
type eventPump struct {
	mu      sync.Mutex
	cond    *sync.Cond
	running bool
	done    chan struct{}

	onTickError func(error)

	// sc is the swapchain this pump was started against, recorded so
	// stop can wake runSHM's wait on sc.pumpWake in addition to this
	// pump's own cond.
	sc *Swapchain
}

func newEventPump() *eventPump {
	p := &eventPump{}
	p.cond = sync.NewCond(&p.mu)
	p.done = make(chan struct{})
	return p
}

// start launches the pump goroutine. backend, when non-nil, selects
// the Pumpable tick/interval behavior; when nil the pump runs the
// SHM pending-completions loop against sc.
func (p *eventPump) start(sc *Swapchain, backend Pumpable) {
	p.mu.Lock()
	p.running = true
	p.sc = sc
	p.mu.Unlock()

	go func() {
		defer close(p.done)
		if backend != nil {
			p.runPumpable(sc, backend)
			return
		}
		p.runSHM(sc)
	}()
}

// runPumpable implements the bypass/DRI3 branches of spec §5: a
// fixed-interval, non-blocking drain cycle.
func (p *eventPump) runPumpable(sc *Swapchain, backend Pumpable) {
	interval := backend.PumpInterval()
	for {
		if !p.isRunning() {
			return
		}
		if err := backend.PumpTick(); err != nil {
			if p.onTickError != nil {
				p.onTickError(err)
			}
		}
		p.mu.Lock()
		if !p.running {
			p.mu.Unlock()
			return
		}
		waitOrTimeout(p.cond, interval)
		p.mu.Unlock()
	}
}

// runSHM implements the SHM branch of spec §5: block on the
// condition variable until at least one image has pending
// completions, then poll with a 1ms sleep until they drain.
func (p *eventPump) runSHM(sc *Swapchain) {
	for p.isRunning() {
		sc.mu.Lock()
		for sc.pendingCompletions == 0 && p.isRunning() {
			sc.pumpWake.Wait()
		}
		pending := sc.pendingCompletions
		sc.mu.Unlock()

		if !p.isRunning() {
			return
		}
		if pending == 0 {
			continue
		}
		time.Sleep(time.Millisecond)
		sc.drainOnePendingCompletion()
	}
}

func (p *eventPump) isRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// stop clears the run flag and wakes the pump so it exits after at
// most one loop iteration, then waits for it to exit.
func (p *eventPump) stop() {
	p.mu.Lock()
	p.running = false
	sc := p.sc
	p.cond.Broadcast()
	p.mu.Unlock()

	// runSHM (when this pump is driving the SHM backend) waits on
	// sc.pumpWake, not p.cond; wake that too, or a teardown with no
	// pending completions parks here forever.
	if sc != nil {
		sc.mu.Lock()
		sc.pumpWake.Broadcast()
		sc.mu.Unlock()
	}
	<-p.done
}

// waitOrTimeout waits on cond for at most d, returning early if the
// condition variable is signaled. cond's lock is held on entry and
// exit, matching sync.Cond.Wait's contract.
func waitOrTimeout(cond *sync.Cond, d time.Duration) {
	// sync.Cond has no WaitTimeout; emulate it with a timer goroutine
	// that broadcasts once d has elapsed. The broadcast is harmless
	// if the real event that the pump was waiting for arrives first.
	timer := time.AfterFunc(d, cond.Broadcast)
	defer timer.Stop()
	cond.Wait()
}
