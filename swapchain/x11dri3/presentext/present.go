// Copyright 2025 The cix-gpu Authors. All rights reserved.

// Package presentext implements the subset of the X Present extension
// this module needs: querying the extension's version, submitting a
// pixmap for presentation, and decoding the CompleteNotify/IdleNotify
// events. Modeled on the request/reply/
// event structure of github.com/BurntSushi/xgb's generated extension
// packages.
package presentext

import (
	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
)

func init() {
	xgb.ExtModule("Present")
}

// put64/get64 fill the gap left by xgb, which only defines 16- and
// 32-bit wire helpers.
func put64(buf []byte, v uint64) {
	xgb.Put32(buf, uint32(v))
	xgb.Put32(buf[4:], uint32(v>>32))
}

func get64(buf []byte) uint64 {
	lo := uint64(xgb.Get32(buf))
	hi := uint64(xgb.Get32(buf[4:]))
	return lo | hi<<32
}

// Init initializes the Present extension on c.
func Init(c *xgb.Conn) error {
	reply, err := xgb.RegisterExtension(c, "Present")
	if err != nil {
		return err
	}
	c.ExtLock.Lock()
	c.Extensions["Present"] = reply.MajorOpcode
	c.ExtLock.Unlock()
	return nil
}

// Option flags for the Present extension's PresentPixmap request.
const (
	OptionNone    = 0
	OptionAsync   = 1 << 0
	OptionCopy    = 1 << 1
	OptionUSTTime = 1 << 2
)

// Capability/notify masks used when selecting Present input events.
const (
	EventMaskConfigureNotify = 1 << 0
	EventMaskCompleteNotify  = 1 << 1
	EventMaskIdleNotify      = 1 << 2
	EventMaskRedirectNotify  = 1 << 3
)

// CompleteKind distinguishes a CompleteNotify event's cause.
type CompleteKind uint8

const (
	CompleteKindPixmap CompleteKind = 0
	CompleteKindNotifyMSC CompleteKind = 1
)

// QueryVersionCookie is a request cookie for the Present QueryVersion
// request.
type QueryVersionCookie struct {
	*xgb.Cookie
}

// QueryVersionReply is the reply to a Present QueryVersion request.
type QueryVersionReply struct {
	MajorVersion uint32
	MinorVersion uint32
}

// QueryVersion asks the server for its supported Present protocol
// version.
func QueryVersion(c *xgb.Conn, majorVersion, minorVersion uint32) QueryVersionCookie {
	cookie := c.NewCookie(true, true, queryVersionReplyFunc)
	c.NewRequest(queryVersionRequest(c, majorVersion, minorVersion), cookie)
	return QueryVersionCookie{cookie}
}

func (ck QueryVersionCookie) Reply() (*QueryVersionReply, error) {
	buf, err := ck.Cookie.Reply()
	if err != nil || buf == nil {
		return nil, err
	}
	return queryVersionReplyFunc(buf), nil
}

func queryVersionReplyFunc(buf []byte) *QueryVersionReply {
	v := new(QueryVersionReply)
	b := 8 // skip reply-type/unused/sequence/length
	v.MajorVersion = xgb.Get32(buf[b:])
	b += 4
	v.MinorVersion = xgb.Get32(buf[b:])
	return v
}

func queryVersionRequest(c *xgb.Conn, majorVersion, minorVersion uint32) []byte {
	size := 12
	buf := make([]byte, size)
	b := 0
	buf[b] = c.Extensions["Present"]
	b += 1
	buf[b] = 0 // QueryVersion opcode
	b += 1
	xgb.Put16(buf[b:], uint16(size/4))
	b += 2
	xgb.Put32(buf[b:], majorVersion)
	b += 4
	xgb.Put32(buf[b:], minorVersion)
	return buf
}

// PresentPixmap submits an unchecked PresentPixmap request: pixmap is
// presented to window with the given serial (which the server echoes
// in the matching CompleteNotify event) and option flags.
func PresentPixmap(
	c *xgb.Conn,
	window xproto.Window,
	pixmap xproto.Pixmap,
	serial uint32,
	options uint32,
	targetMsc uint64,
	divisor uint64,
	remainder uint64,
) *xgb.Cookie {
	cookie := c.NewCookie(false, false, nil)
	c.NewRequest(presentPixmapRequest(c, window, pixmap, serial, options, targetMsc, divisor, remainder), cookie)
	return cookie
}

func presentPixmapRequest(
	c *xgb.Conn,
	window xproto.Window,
	pixmap xproto.Pixmap,
	serial uint32,
	options uint32,
	targetMsc uint64,
	divisor uint64,
	remainder uint64,
) []byte {
	// 4 header + 11*4 fixed fields + 4 unused pad + 3*8 (targetMsc/
	// divisor/remainder) = 76 bytes.
	size := 76
	buf := make([]byte, size)
	b := 0
	buf[b] = c.Extensions["Present"]
	b += 1
	buf[b] = 1 // PresentPixmap opcode
	b += 1
	xgb.Put16(buf[b:], uint16(size/4))
	b += 2

	xgb.Put32(buf[b:], uint32(window))
	b += 4
	xgb.Put32(buf[b:], uint32(pixmap))
	b += 4
	xgb.Put32(buf[b:], serial)
	b += 4
	xgb.Put32(buf[b:], 0) // valid-area region, none
	b += 4
	xgb.Put32(buf[b:], 0) // update-area region, none
	b += 4
	xgb.Put32(buf[b:], 0) // x-off
	b += 4
	xgb.Put32(buf[b:], 0) // y-off
	b += 4
	xgb.Put32(buf[b:], 0) // target CRTC, none
	b += 4
	xgb.Put32(buf[b:], 0) // wait fence
	b += 4
	xgb.Put32(buf[b:], 0) // idle fence
	b += 4
	xgb.Put32(buf[b:], options)
	b += 4
	b += 4 // unused
	put64(buf[b:], targetMsc)
	b += 8
	put64(buf[b:], divisor)
	b += 8
	put64(buf[b:], remainder)

	return buf
}

// SelectInput registers window to receive Present events matching
// mask, delivered to eventID (an XID allocated by the caller via
// conn.NewId()).
func SelectInput(c *xgb.Conn, eventID uint32, window xproto.Window, mask uint32) *xgb.Cookie {
	cookie := c.NewCookie(false, false, nil)
	c.NewRequest(selectInputRequest(c, eventID, window, mask), cookie)
	return cookie
}

func selectInputRequest(c *xgb.Conn, eventID uint32, window xproto.Window, mask uint32) []byte {
	size := 16
	buf := make([]byte, size)
	b := 0
	buf[b] = c.Extensions["Present"]
	b += 1
	buf[b] = 3 // SelectInput opcode
	b += 1
	xgb.Put16(buf[b:], uint16(size/4))
	b += 2
	xgb.Put32(buf[b:], eventID)
	b += 4
	xgb.Put32(buf[b:], uint32(window))
	b += 4
	xgb.Put32(buf[b:], mask)
	return buf
}

// CompleteNotifyEvent is the decoded form of a Present CompleteNotify
// generic event.
type CompleteNotifyEvent struct {
	Kind      CompleteKind
	Window    xproto.Window
	Serial    uint32
	Ust       uint64
	Msc       uint64
}

// DecodeCompleteNotify decodes a generic-event payload already
// identified by the caller (via xgb's GenericEvent.Evtype) as a
// Present CompleteNotify.
func DecodeCompleteNotify(buf []byte) CompleteNotifyEvent {
	var e CompleteNotifyEvent
	b := 8
	e.Kind = CompleteKind(buf[b])
	b += 4
	e.Window = xproto.Window(xgb.Get32(buf[b:]))
	b += 4
	e.Serial = xgb.Get32(buf[b:])
	b += 4
	e.Ust = get64(buf[b:])
	b += 8
	e.Msc = get64(buf[b:])
	return e
}

// IdleNotifyEvent is the decoded form of a Present IdleNotify generic
// event: it reports that pixmap is no longer referenced by the
// server and may be reused or destroyed.
type IdleNotifyEvent struct {
	Window xproto.Window
	Serial uint32
	Pixmap xproto.Pixmap
}

// DecodeIdleNotify decodes a generic-event payload already identified
// as a Present IdleNotify.
func DecodeIdleNotify(buf []byte) IdleNotifyEvent {
	var e IdleNotifyEvent
	b := 8
	b += 4 // unused
	e.Window = xproto.Window(xgb.Get32(buf[b:]))
	b += 4
	e.Serial = xgb.Get32(buf[b:])
	b += 4
	e.Pixmap = xproto.Pixmap(xgb.Get32(buf[b:]))
	return e
}
