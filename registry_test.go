package syncvault

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncvault/syncvault/backend"
	"github.com/syncvault/syncvault/localfs"
)

func newLocalVault(t *testing.T) backend.Backend {
	t.Helper()

	b, err := localfs.New(t.TempDir(), localfs.Options{})
	require.NoError(t, err)

	return b
}

func TestRegistry_RegisterGetUnregister(t *testing.T) {
	r := NewRegistry()
	vault := newLocalVault(t)

	require.NoError(t, r.Register("data", vault, nil))

	got, err := r.Get("data")
	require.NoError(t, err)
	assert.Same(t, vault, got)

	require.NoError(t, r.Unregister("data"))

	_, err = r.Get("data")
	assert.Error(t, err)
}

func TestRegistry_DuplicateNameRejected(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register("data", newLocalVault(t), nil))

	err := r.Register("data", newLocalVault(t), nil)
	assert.ErrorContains(t, err, "already registered")
}

func TestRegistry_UnregisterUnknown(t *testing.T) {
	r := NewRegistry()

	assert.Error(t, r.Unregister("ghost"))
}

func TestRegistry_OptionsCopied(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register("data", newLocalVault(t), map[string]string{"tier": "hot"}))

	opts, err := r.Options("data")
	require.NoError(t, err)
	assert.Equal(t, "hot", opts["tier"])

	// Mutating the returned map must not affect the registry.
	opts["tier"] = "cold"

	again, err := r.Options("data")
	require.NoError(t, err)
	assert.Equal(t, "hot", again["tier"])
}

func TestRegistry_ListSorted(t *testing.T) {
	r := NewRegistry()

	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, r.Register(name, newLocalVault(t), nil))
	}

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, r.List())
}

func TestFactory_OpenLocal(t *testing.T) {
	f := NewFactory(nil)

	dir := t.TempDir()

	b, err := f.Open(context.Background(), "file://"+dir)
	require.NoError(t, err)

	ctx := context.Background()

	_, err = b.Create(ctx, "f.txt", backend.CreateOptions{Data: []byte("x")})
	require.NoError(t, err)

	data, err := b.Read(ctx, "f.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), data)
}

func TestFactory_UnknownScheme(t *testing.T) {
	f := NewFactory(nil)

	_, err := f.Open(context.Background(), "carrier-pigeon://somewhere")
	assert.ErrorContains(t, err, "unsupported URI scheme")
}

func TestFactory_InvalidURI(t *testing.T) {
	f := NewFactory(nil)

	_, err := f.Open(context.Background(), "no-scheme-here")
	assert.ErrorContains(t, err, "missing scheme")

	_, err = f.Open(context.Background(), "file://")
	assert.ErrorContains(t, err, "missing target")
}

func TestFactory_CustomScheme(t *testing.T) {
	f := NewFactory(nil)

	vault := newLocalVault(t)

	f.Register("memory", func(ctx context.Context, target string, params map[string]string) (backend.Backend, error) {
		return vault, nil
	})

	got, err := f.Open(context.Background(), "memory://anything")
	require.NoError(t, err)
	assert.Same(t, vault, got)
}

func TestParseURI(t *testing.T) {
	scheme, target, params, err := parseURI("git+https://github.com/org/repo@main?username=bot&password=tok")
	require.NoError(t, err)
	assert.Equal(t, "git+https", scheme)
	assert.Equal(t, "github.com/org/repo@main", target)
	assert.Equal(t, "bot", params["username"])
	assert.Equal(t, "tok", params["password"])
}

func TestSplitBranch(t *testing.T) {
	base, branch := splitBranch("github.com/org/repo@dev", nil)
	assert.Equal(t, "github.com/org/repo", base)
	assert.Equal(t, "dev", branch)

	base, branch = splitBranch("github.com/org/repo", map[string]string{"branch": "main"})
	assert.Equal(t, "github.com/org/repo", base)
	assert.Equal(t, "main", branch)
}
