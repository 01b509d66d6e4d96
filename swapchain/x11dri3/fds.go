// Copyright 2025 The cix-gpu Authors. All rights reserved.

package x11dri3

import (
	"fmt"

	"github.com/BurntSushi/xgb"
	"golang.org/x/sys/unix"
)

// fdSender transmits fds as ancillary (SCM_RIGHTS) data on the same
// socket a *xgb.Conn is using, ahead of the DRI3 request that names
// them by index. xgb does not expose the raw connection socket, so
// the real transport is supplied by whatever surface/display layer
// constructed the *xgb.Conn in the first place (it dialed the socket
// and can hand back a sender bound to that same fd); tests substitute
// a fake to exercise the dup/close contract without a real X server.
var fdSender func(c *xgb.Conn, fds []int) error = defaultFdSender

func defaultFdSender(c *xgb.Conn, fds []int) error {
	return fmt.Errorf("x11dri3: no ancillary-data sender configured for this connection")
}

// SetFdSender installs the function used to transmit DMA-BUF plane
// fds alongside DRI3 requests. Called once by the surface layer that
// owns the X11 connection's socket.
func SetFdSender(f func(c *xgb.Conn, fds []int) error) {
	fdSender = f
}

// dupPlaneFdsToConn duplicates each of fds and hands the duplicates
// to fdSender. Duplicating first means the caller's own fds (owned by
// the swapchain's ExternalMemory) remain valid for the Vulkan import
// that runs concurrently with, or after, this call; the duplicates
// are closed once the server has them, whether or not the send
// itself succeeded.
func dupPlaneFdsToConn(c *xgb.Conn, fds []int) error {
	dups := make([]int, len(fds))
	for i, fd := range fds {
		dup, err := unix.Dup(fd)
		if err != nil {
			for _, d := range dups[:i] {
				unix.Close(d)
			}
			return fmt.Errorf("dup plane fd: %w", err)
		}
		dups[i] = dup
	}
	defer func() {
		for _, d := range dups {
			unix.Close(d)
		}
	}()
	return fdSender(c, dups)
}
