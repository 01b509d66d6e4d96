// Copyright 2025 The cix-gpu Authors. All rights reserved.

package dri3ext

import (
	"testing"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/stretchr/testify/assert"
)

// testConn builds a bare *xgb.Conn carrying only the Extensions map
// the request builders read; it is never dialed, so it can't be used
// to send anything, only to exercise the pure byte-buffer assembly.
func testConn() *xgb.Conn {
	return &xgb.Conn{Extensions: map[string]byte{"DRI3": 150}}
}

// assertWireRequest checks the two invariants every one of these
// hand-built X11 requests must satisfy: length is a multiple of 4
// bytes, and the request's own length word (the 16-bit field at byte
// offset 2, counted in 4-byte units) matches the buffer it actually
// produced. A mismatch here is exactly the class of bug that caused
// pixmapFromBuffersRequest to panic with a slice-out-of-range on
// every DRI3 CreateImageResources call.
func assertWireRequest(t *testing.T, buf []byte) {
	t.Helper()
	if !assert.GreaterOrEqual(t, len(buf), 4) {
		return
	}
	assert.Zero(t, len(buf)%4, "X11 requests must be a multiple of 4 bytes, got %d", len(buf))
	declared := int(xgb.Get16(buf[2:])) * 4
	assert.Equal(t, len(buf), declared, "length word declares %d bytes but buffer is %d", declared, len(buf))
}

func TestQueryVersionRequestLength(t *testing.T) {
	assertWireRequest(t, queryVersionRequest(testConn(), 1, 2))
}

func TestOpenRequestLength(t *testing.T) {
	assertWireRequest(t, openRequest(testConn(), xproto.Drawable(7), 0))
}

func TestPixmapFromBuffersRequestLength(t *testing.T) {
	strides := [4]uint32{256, 0, 0, 0}
	offsets := [4]uint32{0, 0, 0, 0}
	buf := pixmapFromBuffersRequest(testConn(), xproto.Pixmap(1), xproto.Window(2), 1, 64, 64, strides, offsets, 24, 32, 0)
	assertWireRequest(t, buf)
	// 64 bytes: the 61 bytes the fields actually need, rounded up to a
	// multiple of 4. Pinned explicitly since this exact count is what
	// the fixed-size overflow bug got wrong.
	assert.Len(t, buf, 64)
}
