package vpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncvault/syncvault/backend"
)

func TestResolve_SimplePath(t *testing.T) {
	p, err := Resolve("docs/readme.md")
	require.NoError(t, err)
	assert.Equal(t, "docs/readme.md", p)
}

func TestResolve_LeadingSlashIsRootRelative(t *testing.T) {
	// "/file.txt" and "file.txt" must resolve identically.
	withSlash, err := Resolve("/file.txt")
	require.NoError(t, err)

	withoutSlash, err := Resolve("file.txt")
	require.NoError(t, err)

	assert.Equal(t, withoutSlash, withSlash)
}

func TestResolve_BackslashesNormalized(t *testing.T) {
	p, err := Resolve(`docs\nested\file.txt`)
	require.NoError(t, err)
	assert.Equal(t, "docs/nested/file.txt", p)
}

func TestResolve_NFCNormalization(t *testing.T) {
	// "é" composed (U+00E9) vs decomposed (U+0065 U+0301) map to one key.
	composed, err := Resolve("café.txt")
	require.NoError(t, err)

	decomposed, err := Resolve("café.txt")
	require.NoError(t, err)

	assert.Equal(t, composed, decomposed)
}

func TestResolve_EmptyInput(t *testing.T) {
	for _, raw := range []string{"", "   ", "\t\n"} {
		_, err := Resolve(raw)
		assert.ErrorIs(t, err, backend.ErrEmptyPath, "input %q", raw)
		assert.ErrorIs(t, err, backend.ErrInvalidOperation)
	}
}

func TestResolve_ParentSegmentRejected(t *testing.T) {
	for _, raw := range []string{"..", "../x", "a/../../b", "a/.."} {
		_, err := Resolve(raw)
		assert.ErrorIs(t, err, backend.ErrPathOutsideRoot, "input %q", raw)
	}
}

func TestResolve_RootItselfRejected(t *testing.T) {
	for _, raw := range []string{"/", ".", "./", "//"} {
		_, err := Resolve(raw)
		assert.ErrorIs(t, err, backend.ErrRootPath, "input %q", raw)
	}
}

func TestResolve_RedundantSegmentsCleaned(t *testing.T) {
	p, err := Resolve("a//b/./c/")
	require.NoError(t, err)
	assert.Equal(t, "a/b/c", p)
}

func TestJoin(t *testing.T) {
	p, err := Join("docs", "nested", "file.txt")
	require.NoError(t, err)
	assert.Equal(t, "docs/nested/file.txt", p)
}

func TestSplit(t *testing.T) {
	parent, base := Split("docs/nested/file.txt")
	assert.Equal(t, "docs/nested", parent)
	assert.Equal(t, "file.txt", base)

	parent, base = Split("file.txt")
	assert.Equal(t, "", parent)
	assert.Equal(t, "file.txt", base)
}
