// Copyright 2025 The cix-gpu Authors. All rights reserved.

package swapchain

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePresenterName(t *testing.T) {
	cases := []struct {
		in   string
		kind Kind
		ok   bool
	}{
		{"dri3", KindDRI3, true},
		{"bypass", KindBypass, true},
		{"shm", KindSHM, true},
		{"nonsense", KindNone, false},
		{"", KindNone, false},
	}
	for _, c := range cases {
		kind, ok := parsePresenterName(c.in)
		assert.Equal(t, c.kind, kind, c.in)
		assert.Equal(t, c.ok, ok, c.in)
	}
}

func TestConfigLineScanner(t *testing.T) {
	text := "# comment\n\nzink-game dri3\nsome-app shm\nmalformed-line\n"
	sc := bufio.NewScanner(strings.NewReader(text))
	kind, ok := configLineScanner(sc, "some-app")
	assert.True(t, ok)
	assert.Equal(t, KindSHM, kind)
}

func TestConfigLineScannerNoMatch(t *testing.T) {
	sc := bufio.NewScanner(strings.NewReader("other-app dri3\n"))
	_, ok := configLineScanner(sc, "some-app")
	assert.False(t, ok)
}

func TestScanConfigFileRejectsOversizedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "routing.conf")
	longName := strings.Repeat("a", 300)
	assert.NoError(t, os.WriteFile(path, []byte(longName+" dri3\n"), 0o644))

	_, ok := scanConfigFile(path, longName)
	assert.False(t, ok, "names over 255 bytes are not matched")
}

func TestScanConfigFileMatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "routing.conf")
	assert.NoError(t, os.WriteFile(path, []byte("my-app bypass\n"), 0o644))

	kind, ok := scanConfigFile(path, "my-app")
	assert.True(t, ok)
	assert.Equal(t, KindBypass, kind)
}
