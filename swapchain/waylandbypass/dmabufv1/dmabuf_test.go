// Copyright 2025 The cix-gpu Authors. All rights reserved.

package dmabufv1

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsLinuxDmabuf(t *testing.T) {
	assert.True(t, IsLinuxDmabuf("zwp_linux_dmabuf_v1", 3))
	assert.True(t, IsLinuxDmabuf("zwp_linux_dmabuf_v1", 4))
	assert.False(t, IsLinuxDmabuf("zwp_linux_dmabuf_v1", 2), "versions below 3 are rejected")
	assert.False(t, IsLinuxDmabuf("wl_compositor", 4))
}

func TestInterfaceAndVersion(t *testing.T) {
	assert.Equal(t, "zwp_linux_dmabuf_v1", Interface())
	assert.Equal(t, uint32(4), Version())
}
