// Copyright 2025 The cix-gpu Authors. All rights reserved.

// Package dmabufv1 implements the zwp_linux_dmabuf_v1 and
// zwp_linux_buffer_params_v1 Wayland protocol objects: deedles.dev/wl
// ships a generated binding for wayland.xml's core protocol but not
// for this extension, so this package hand-implements the same
// wire.Object contract its generated code uses (SetID/ID/Dispatch/
// Delete), modeled on deedles.dev/wl/client's Compositor/Surface.
package dmabufv1

import (
	"fmt"
	"os"

	"deedles.dev/wl/wire"
)

const (
	linuxDmabufInterface = "zwp_linux_dmabuf_v1"
	linuxDmabufVersion   = uint32(4)

	bufferParamsInterface = "zwp_linux_buffer_params_v1"
	bufferParamsVersion   = uint32(4)
)

// opcodes for zwp_linux_dmabuf_v1 requests.
const (
	opDmabufDestroy     = 0
	opDmabufCreateParams = 1
)

// opcodes for zwp_linux_buffer_params_v1 requests.
const (
	opParamsDestroy  = 0
	opParamsAdd      = 1
	opParamsCreate   = 2
	opParamsCreateImmed = 3
)

// opcodes for zwp_linux_buffer_params_v1 events.
const (
	evParamsCreated = 0
	evParamsFailed  = 1
)

// Registry is the minimal surface this package needs from the client
// state: allocating new object ids and enqueuing built messages.
type Registry interface {
	Add(obj wire.Object)
	Enqueue(msg *wire.MessageBuilder)
}

// LinuxDmabuf is the zwp_linux_dmabuf_v1 global.
type LinuxDmabuf struct {
	id    uint32
	state Registry
}

// IsLinuxDmabuf reports whether a registry global advertises this
// extension at version 3 or later.
func IsLinuxDmabuf(iface string, version uint32) bool {
	return iface == linuxDmabufInterface && version >= 3
}

// Interface and Version report the bind parameters for a registry
// Bind request.
func Interface() string  { return linuxDmabufInterface }
func Version() uint32    { return linuxDmabufVersion }

// NewLinuxDmabuf wraps an object id already bound via the registry
// into a usable LinuxDmabuf.
func NewLinuxDmabuf(state Registry) *LinuxDmabuf {
	return &LinuxDmabuf{state: state}
}

func (d *LinuxDmabuf) ID() uint32             { return d.id }
func (d *LinuxDmabuf) SetID(id uint32)        { d.id = id }
func (d *LinuxDmabuf) Delete()                {}
func (d *LinuxDmabuf) MethodName(uint16) string { return "format" }

func (d *LinuxDmabuf) Dispatch(msg *wire.MessageBuffer) error {
	// The only event, Format/Modifier, is purely informational; this
	// package negotiates modifiers through the swapchain's own
	// Allocator/Importer collaborators instead of format enumeration
	// over the Wayland connection, so events are drained and ignored.
	return nil
}

// CreateParams creates a new zwp_linux_buffer_params_v1 object used
// to describe one DMA-BUF-backed buffer.
func (d *LinuxDmabuf) CreateParams() *BufferParams {
	p := &BufferParams{state: d.state}
	d.state.Add(p)

	mb := wire.NewMessage(d, opDmabufCreateParams)
	mb.WriteNewID(wire.NewID{Interface: bufferParamsInterface, Version: bufferParamsVersion, ID: p.id})
	d.state.Enqueue(mb)
	return p
}

// Destroy destroys the zwp_linux_dmabuf_v1 object.
func (d *LinuxDmabuf) Destroy() {
	mb := wire.NewMessage(d, opDmabufDestroy)
	d.state.Enqueue(mb)
}

// BufferParams is a zwp_linux_buffer_params_v1 object: one per
// DMA-BUF-backed buffer under construction.
type BufferParams struct {
	id    uint32
	state Registry

	Created func(buf *WlBuffer)
	Failed  func()
}

func (p *BufferParams) ID() uint32                   { return p.id }
func (p *BufferParams) SetID(id uint32)              { p.id = id }
func (p *BufferParams) Delete()                      {}
func (p *BufferParams) MethodName(op uint16) string {
	if op == evParamsCreated {
		return "created"
	}
	return "failed"
}

func (p *BufferParams) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case evParamsCreated:
		// The wl_buffer id this event carries is a server-allocated
		// new_id; the registry-side object it corresponds to is the
		// one the dispatch loop already has bound via its own id
		// table, so this package just reports a fresh handle back to
		// the caller rather than re-deriving the numeric id.
		buf := &WlBuffer{state: p.state}
		p.state.Add(buf)
		if err := msg.Err(); err != nil {
			return fmt.Errorf("dmabufv1: decode Created: %w", err)
		}
		if p.Created != nil {
			p.Created(buf)
		}
		return nil
	case evParamsFailed:
		if p.Failed != nil {
			p.Failed()
		}
		return nil
	default:
		return fmt.Errorf("dmabufv1: unknown buffer_params event %d", msg.Op())
	}
}

// Add describes one plane of the buffer. WriteFile dups fd
// internally before queuing it as ancillary data, so the *os.File
// wrapper below is never closed here: closing it would close fd
// itself, which the caller's ExternalMemory still owns.
func (p *BufferParams) Add(fd int, plane uint32, offset, stride uint32, modifier uint64) {
	mb := wire.NewMessage(p, opParamsAdd)
	mb.WriteFile(os.NewFile(uintptr(fd), ""))
	mb.WriteUint(plane)
	mb.WriteUint(offset)
	mb.WriteUint(stride)
	mb.WriteUint(uint32(modifier >> 32))
	mb.WriteUint(uint32(modifier))
	p.state.Enqueue(mb)
}

// Create requests the compositor validate the accumulated planes and
// asynchronously deliver either Created or Failed.
func (p *BufferParams) Create(width, height int32, format uint32, flags uint32) {
	mb := wire.NewMessage(p, opParamsCreate)
	mb.WriteInt(width)
	mb.WriteInt(height)
	mb.WriteUint(format)
	mb.WriteUint(flags)
	p.state.Enqueue(mb)
}

// Destroy destroys the buffer_params object. Safe to call once
// Created or Failed has fired.
func (p *BufferParams) Destroy() {
	mb := wire.NewMessage(p, opParamsDestroy)
	p.state.Enqueue(mb)
}

// WlBuffer is the resulting wl_buffer-compatible object. It satisfies
// the same role as deedles.dev/wl/client's own Buffer type but is
// defined here since it is produced by BufferParams.Create rather
// than by a generated constructor.
type WlBuffer struct {
	id    uint32
	state Registry

	Release func()
}

func (b *WlBuffer) ID() uint32             { return b.id }
func (b *WlBuffer) SetID(id uint32)        { b.id = id }
func (b *WlBuffer) Delete()                {}
func (b *WlBuffer) MethodName(uint16) string { return "release" }

func (b *WlBuffer) Dispatch(msg *wire.MessageBuffer) error {
	if msg.Op() == 0 && b.Release != nil {
		b.Release()
	}
	return nil
}

// Destroy destroys the buffer object.
func (b *WlBuffer) Destroy() {
	mb := wire.NewMessage(b, 0)
	b.state.Enqueue(mb)
}
