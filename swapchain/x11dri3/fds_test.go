// Copyright 2025 The cix-gpu Authors. All rights reserved.

package x11dri3

import (
	"testing"

	"github.com/BurntSushi/xgb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestDupPlaneFdsToConnSendsDuplicatesNotOriginals(t *testing.T) {
	fds := make([]int, 2)
	require.NoError(t, unix.Pipe(fds))
	orig := fds[1] // write end: lets the test assert writability
	defer unix.Close(fds[0])
	defer unix.Close(orig)

	var sent []int
	SetFdSender(func(c *xgb.Conn, fds []int) error {
		sent = append(sent, fds...)
		return nil
	})
	defer SetFdSender(defaultFdSender)

	require.NoError(t, dupPlaneFdsToConn(nil, []int{orig}))

	require.Len(t, sent, 1)
	assert.NotEqual(t, orig, sent[0], "the fd handed to the sender must be a duplicate, not the caller's own fd")

	// The duplicate is closed by dupPlaneFdsToConn once the sender
	// returns, so writing to it now must fail.
	_, err := unix.Write(sent[0], []byte("x"))
	assert.Error(t, err, "the duplicate should already be closed")

	// The original fd must remain open and usable: it is still owned
	// by the caller's ExternalMemory.
	_, err = unix.Write(orig, []byte("x"))
	assert.NoError(t, err, "the original fd must survive the call")
}

func TestDupPlaneFdsToConnPropagatesSenderError(t *testing.T) {
	fds := make([]int, 2)
	require.NoError(t, unix.Pipe(fds))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	SetFdSender(defaultFdSender)
	defer SetFdSender(defaultFdSender)

	err := dupPlaneFdsToConn(nil, []int{fds[0]})
	assert.Error(t, err)
}
