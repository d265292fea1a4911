package ratelimit

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPolicy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "limits.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
anonymous:
  window: 30s
  max: 20
authenticated:
  window: 1m
  max: 100
credential:
  window: 10m
  max: 5
`), 0o644))

	p, err := LoadPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, p.Anonymous.Window.Std())
	assert.Equal(t, 20, p.Anonymous.Max)
	assert.Equal(t, 5, p.Credential.Max)
}

func TestLoadPolicyPartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "limits.yaml")
	require.NoError(t, os.WriteFile(path, []byte("credential:\n  window: 5m\n  max: 3\n"), 0o644))

	p, err := LoadPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy().Anonymous, p.Anonymous)
	assert.Equal(t, 3, p.Credential.Max)
}

func TestLoadPolicyRejectsBadBudgets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "limits.yaml")
	require.NoError(t, os.WriteFile(path, []byte("anonymous:\n  window: 1m\n  max: 0\n"), 0o644))

	_, err := LoadPolicy(path)
	assert.Error(t, err)
}

func TestPolicyStoreHotReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "limits.yaml")
	require.NoError(t, os.WriteFile(path, []byte("anonymous:\n  window: 1m\n  max: 10\n"), 0o644))

	initial, err := LoadPolicy(path)
	require.NoError(t, err)

	store := NewPolicyStore(initial, path, nil)
	require.Equal(t, 10, store.Current().Anonymous.Max)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, store.Watch(ctx))

	require.NoError(t, os.WriteFile(path, []byte("anonymous:\n  window: 1m\n  max: 99\n"), 0o644))

	assert.Eventually(t, func() bool {
		return store.Current().Anonymous.Max == 99
	}, 3*time.Second, 50*time.Millisecond)
}

func TestPolicyStoreKeepsPreviousOnBadEdit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "limits.yaml")
	require.NoError(t, os.WriteFile(path, []byte("anonymous:\n  window: 1m\n  max: 10\n"), 0o644))

	initial, err := LoadPolicy(path)
	require.NoError(t, err)
	store := NewPolicyStore(initial, path, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, store.Watch(ctx))

	require.NoError(t, os.WriteFile(path, []byte("anonymous: {window: bogus}\n"), 0o644))

	// Give the debounce a chance to fire; the previous policy stays.
	time.Sleep(600 * time.Millisecond)
	assert.Equal(t, 10, store.Current().Anonymous.Max)
}
