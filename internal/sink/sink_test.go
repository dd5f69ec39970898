package sink

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSinkAppendsNewlineDelimitedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.ndjson")
	s := NewFileSink()
	require.NoError(t, s.Init(NewConfig(map[string]string{"path": path})))
	require.NoError(t, s.Start(context.Background()))
	defer s.Cleanup()

	require.Equal(t, StatusOK, s.Publish(context.Background(), []byte(`{"a":1}`)))
	require.Equal(t, StatusOK, s.Publish(context.Background(), []byte(`{"a":2}`)))
	require.NoError(t, s.Stop(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":1}\n{\"a\":2}\n", string(data))
}

func TestFileSinkRotatesAtMaxBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.ndjson")
	s := NewFileSink()
	require.NoError(t, s.Init(NewConfig(map[string]string{"path": path, "max_file_size_mb": "0"})))
	s.maxBytes = 10 // force a tiny rotation threshold directly, bytes not MB
	require.NoError(t, s.Start(context.Background()))
	defer s.Cleanup()

	require.Equal(t, StatusOK, s.Publish(context.Background(), []byte("0123456789")))
	require.Equal(t, StatusOK, s.Publish(context.Background(), []byte("next")))

	_, err := os.Stat(path + ".1")
	assert.NoError(t, err, "exceeding max_bytes must rename the old file aside before reopening")
}

func TestRegistrySkipsUnknownKindButLoadsOthers(t *testing.T) {
	r := NewRegistry(nil)
	insts := r.Load([]Descriptor{
		{Name: "bad", Kind: "does-not-exist", Active: true},
		{Name: "good", Kind: "log", Active: true},
		{Name: "inactive", Kind: "log", Active: false},
	})

	require.Len(t, insts, 1)
	assert.Equal(t, "good", insts[0].Name)
	assert.Equal(t, StateLoaded, insts[0].State())
}

func TestRegistrySkipsSinkInitError(t *testing.T) {
	r := NewRegistry(nil)
	insts := r.Load([]Descriptor{
		{Name: "broken-http", Kind: "http", Active: true, Options: map[string]string{}},
	})
	assert.Len(t, insts, 0, "http sink requires a url; missing it must be skipped, not fatal")
}

func TestInstanceShouldPublishEmptyAllowListMeansAll(t *testing.T) {
	inst := &Instance{SchemasAllow: nil}
	assert.True(t, inst.ShouldPublish("anything"))

	inst2 := &Instance{SchemasAllow: []string{"shop"}}
	assert.True(t, inst2.ShouldPublish("shop"))
	assert.False(t, inst2.ShouldPublish("other"))
}
