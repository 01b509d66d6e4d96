// Copyright 2025 The cix-gpu Authors. All rights reserved.

package waylandbypass

import "deedles.dev/wl/wire"

// wlCompositor and wlSurface are hand-implemented wl_compositor/
// wl_surface wrappers, kept local to this package rather than reused
// from deedles.dev/wl/client: that package's generated Surface.Attach
// takes its own generated *Buffer type, but this backend attaches
// buffers produced by dmabufv1.BufferParams.Create instead, so the
// request needs to be built directly against the surface's object id.
const (
	opCompositorCreateSurface = 0

	wlSurfaceInterface = "wl_surface"
	wlSurfaceVersion   = uint32(4)

	opSurfaceDestroy = 0
	opSurfaceAttach  = 1
	opSurfaceDamage  = 2
	opSurfaceCommit  = 6
)

type registry interface {
	Add(obj wire.Object)
	Enqueue(msg *wire.MessageBuilder)
}

type wlCompositor struct {
	id    uint32
	state registry
}

func (c *wlCompositor) ID() uint32             { return c.id }
func (c *wlCompositor) SetID(id uint32)        { c.id = id }
func (c *wlCompositor) Delete()                {}
func (c *wlCompositor) MethodName(uint16) string { return "" }
func (c *wlCompositor) Dispatch(*wire.MessageBuffer) error { return nil }

func (c *wlCompositor) CreateSurface() *wlSurface {
	s := &wlSurface{state: c.state}
	c.state.Add(s)

	mb := wire.NewMessage(c, opCompositorCreateSurface)
	mb.WriteNewID(wire.NewID{Interface: wlSurfaceInterface, Version: wlSurfaceVersion, ID: s.id})
	c.state.Enqueue(mb)
	return s
}

type wlSurface struct {
	id    uint32
	state registry
}

func (s *wlSurface) ID() uint32             { return s.id }
func (s *wlSurface) SetID(id uint32)        { s.id = id }
func (s *wlSurface) Delete()                {}
func (s *wlSurface) MethodName(uint16) string { return "" }
func (s *wlSurface) Dispatch(*wire.MessageBuffer) error { return nil }

// Attach attaches the buffer identified by bufID (any object id this
// package's connection knows about as a wl_buffer-compatible object,
// such as a dmabufv1.WlBuffer) at surface-local coordinates x, y.
func (s *wlSurface) Attach(bufID uint32, x, y int32) {
	mb := wire.NewMessage(s, opSurfaceAttach)
	mb.WriteUint(bufID)
	mb.WriteInt(x)
	mb.WriteInt(y)
	s.state.Enqueue(mb)
}

func (s *wlSurface) Damage(x, y, width, height int32) {
	mb := wire.NewMessage(s, opSurfaceDamage)
	mb.WriteInt(x)
	mb.WriteInt(y)
	mb.WriteInt(width)
	mb.WriteInt(height)
	s.state.Enqueue(mb)
}

func (s *wlSurface) Commit() {
	mb := wire.NewMessage(s, opSurfaceCommit)
	s.state.Enqueue(mb)
}
