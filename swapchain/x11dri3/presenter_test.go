// Copyright 2025 The cix-gpu Authors. All rights reserved.

package x11dri3

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDepthAndBppForFourcc(t *testing.T) {
	const (
		fourccXR24 = 0x34325258
		fourccAR24 = 0x34325241
		fourccUnknown = 0x12345678
	)

	depth, bpp := depthAndBppForFourcc(fourccXR24)
	assert.Equal(t, uint8(24), depth)
	assert.Equal(t, uint8(32), bpp)

	depth, bpp = depthAndBppForFourcc(fourccAR24)
	assert.Equal(t, uint8(32), depth)
	assert.Equal(t, uint8(32), bpp)

	depth, bpp = depthAndBppForFourcc(fourccUnknown)
	assert.Equal(t, uint8(0), depth, "unknown fourcc leaves depth to the caller's visual-depth fallback")
	assert.Equal(t, uint8(32), bpp)
}
