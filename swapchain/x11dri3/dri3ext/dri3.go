// Copyright 2025 The cix-gpu Authors. All rights reserved.

// Package dri3ext implements the subset of the X DRI3 extension this
// module needs: querying the extension's version and turning a set of
// DMA-BUF file descriptors into a backing pixmap. It is written in
// the generated-code style of github.com/BurntSushi/xgb's own
// extension packages (xgb ships bindings for neither DRI3 nor
// Present, so this package and presentext fill the gap by hand).
package dri3ext

import (
	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
)

func init() {
	xgb.ExtModule("DRI3")
}

// Init initializes the DRI3 extension on c. It must be called once
// per connection before any other function in this package is used,
// mirroring the pattern of every other xgb extension's Init.
func Init(c *xgb.Conn) error {
	reply, err := xgb.RegisterExtension(c, "DRI3")
	if err != nil {
		return err
	}
	c.ExtLock.Lock()
	c.Extensions["DRI3"] = reply.MajorOpcode
	for evNum, fun := range xgb.NewExtEventFuncs["DRI3"] {
		xgb.NewExtFuncs[evNum+int(reply.FirstEvent)] = fun
	}
	for errNum, fun := range xgb.NewExtErrorFuncs["DRI3"] {
		xgb.NewExtFuncs[errNum+int(reply.FirstError)] = fun
	}
	c.ExtLock.Unlock()
	return nil
}

// QueryVersionCookie is a request cookie for the DRI3 QueryVersion
// request.
type QueryVersionCookie struct {
	*xgb.Cookie
}

// QueryVersionReply is the reply to a DRI3 QueryVersion request.
type QueryVersionReply struct {
	Sequence     uint16
	Length       uint32
	MajorVersion uint32
	MinorVersion uint32
}

// QueryVersion sends a checked request asking the server for its
// supported DRI3 protocol version.
func QueryVersion(c *xgb.Conn, majorVersion, minorVersion uint32) QueryVersionCookie {
	cookie := c.NewCookie(true, true, queryVersionReplyFunc)
	c.NewRequest(queryVersionRequest(c, majorVersion, minorVersion), cookie)
	return QueryVersionCookie{cookie}
}

// Reply blocks until the QueryVersion reply arrives.
func (ck QueryVersionCookie) Reply() (*QueryVersionReply, error) {
	buf, err := ck.Cookie.Reply()
	if err != nil {
		return nil, err
	}
	if buf == nil {
		return nil, nil
	}
	return queryVersionReplyFunc(buf), nil
}

func queryVersionReplyFunc(buf []byte) *QueryVersionReply {
	v := new(QueryVersionReply)
	b := 1 // skip reply type byte
	b += 1 // unused
	v.Sequence = xgb.Get16(buf[b:])
	b += 2
	v.Length = xgb.Get32(buf[b:])
	b += 4
	v.MajorVersion = xgb.Get32(buf[b:])
	b += 4
	v.MinorVersion = xgb.Get32(buf[b:])
	b += 4
	return v
}

func queryVersionRequest(c *xgb.Conn, majorVersion, minorVersion uint32) []byte {
	size := 12
	b := 0
	buf := make([]byte, size)

	buf[b] = c.Extensions["DRI3"]
	b += 1
	buf[b] = 0 // QueryVersion opcode
	b += 1
	xgb.Put16(buf[b:], uint16(size/4))
	b += 2

	xgb.Put32(buf[b:], majorVersion)
	b += 4
	xgb.Put32(buf[b:], minorVersion)
	b += 4

	return buf
}

// Open sends a checked request asking the server for a file
// descriptor to the DRM device backing drawable, returning the fd in
// the reply's side channel (ancillary data over the X11 socket). xgb
// exposes this via ReplyFds on the raw connection; this package only
// builds the request.
func Open(c *xgb.Conn, drawable xproto.Drawable, provider uint32) *xgb.Cookie {
	cookie := c.NewCookie(true, true, nil)
	c.NewRequest(openRequest(c, drawable, provider), cookie)
	return cookie
}

func openRequest(c *xgb.Conn, drawable xproto.Drawable, provider uint32) []byte {
	size := 12
	b := 0
	buf := make([]byte, size)

	buf[b] = c.Extensions["DRI3"]
	b += 1
	buf[b] = 1 // Open opcode
	b += 1
	xgb.Put16(buf[b:], uint16(size/4))
	b += 2

	xgb.Put32(buf[b:], uint32(drawable))
	b += 4
	xgb.Put32(buf[b:], provider)
	b += 4

	return buf
}

// PixmapFromBuffers sends a checked request that creates pixmap from
// the DMA-BUF file descriptors in fds (already sent as ancillary
// data by the caller through the connection's socket), describing a
// width x height buffer of depth bpp/stride/offset per plane and the
// given DRM fourcc/modifier.
func PixmapFromBuffers(
	c *xgb.Conn,
	pixmap xproto.Pixmap,
	window xproto.Window,
	numFds uint8,
	width, height uint16,
	strides, offsets [4]uint32,
	depth, bpp uint8,
	modifier uint64,
) *xgb.Cookie {
	cookie := c.NewCookie(true, false, nil)
	c.NewRequest(pixmapFromBuffersRequest(c, pixmap, window, numFds, width, height, strides, offsets, depth, bpp, modifier), cookie)
	return cookie
}

func pixmapFromBuffersRequest(
	c *xgb.Conn,
	pixmap xproto.Pixmap,
	window xproto.Window,
	numFds uint8,
	width, height uint16,
	strides, offsets [4]uint32,
	depth, bpp uint8,
	modifier uint64,
) []byte {
	// 4 header + pixmap(4) + window(4) + numFds(1) + width(2) +
	// height(2) + 4*stride(16) + 4*offset(16) + depth(1) + bpp(1) +
	// pad(2) + modifier(8) = 61 bytes, rounded up to a multiple of 4.
	size := 64
	b := 0
	buf := make([]byte, size)

	buf[b] = c.Extensions["DRI3"]
	b += 1
	buf[b] = 2 // PixmapFromBuffers opcode
	b += 1
	xgb.Put16(buf[b:], uint16(size/4))
	b += 2

	xgb.Put32(buf[b:], uint32(pixmap))
	b += 4
	xgb.Put32(buf[b:], uint32(window))
	b += 4
	buf[b] = numFds
	b += 1
	xgb.Put16(buf[b:], width)
	b += 2
	xgb.Put16(buf[b:], height)
	b += 2
	for i := 0; i < 4; i++ {
		xgb.Put32(buf[b:], strides[i])
		b += 4
	}
	for i := 0; i < 4; i++ {
		xgb.Put32(buf[b:], offsets[i])
		b += 4
	}
	buf[b] = depth
	b += 1
	buf[b] = bpp
	b += 1
	b += 2 // unused padding
	xgb.Put32(buf[b:], uint32(modifier))
	b += 4
	xgb.Put32(buf[b:], uint32(modifier>>32))

	return buf
}
