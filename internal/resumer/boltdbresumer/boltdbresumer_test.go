package boltdbresumer

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cascadebt/cascade/internal/resumer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteRead(t *testing.T) {
	r, err := Open(filepath.Join(t.TempDir(), "resume.db"), []byte("torrents"))
	require.NoError(t, err)
	defer r.Close()

	spec := &Spec{
		InfoHash: [20]byte{1, 2, 3},
		Name:     "ubuntu.iso",
		Trackers: []string{"http://a/announce", "http://b/announce"},
		Dest:     "/tmp/downloads",
		AddedAt:  time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, r.Write("t1", spec))
	require.NoError(t, r.WriteStarted("t1", true))
	require.NoError(t, r.WriteStats("t1", resumer.Stats{BytesDownloaded: 100, BytesUploaded: 20}))

	got, err := r.Read("t1")
	require.NoError(t, err)
	assert.Equal(t, spec.InfoHash, got.InfoHash)
	assert.Equal(t, spec.Name, got.Name)
	assert.Equal(t, spec.Trackers, got.Trackers)
	assert.Equal(t, spec.Dest, got.Dest)
	assert.True(t, spec.AddedAt.Equal(got.AddedAt))
	assert.True(t, got.Started)
	assert.Equal(t, int64(100), got.BytesDownloaded)
	assert.Equal(t, int64(20), got.BytesUploaded)
}

func TestMissingTorrent(t *testing.T) {
	r, err := Open(filepath.Join(t.TempDir(), "resume.db"), []byte("torrents"))
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Read("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, r.WriteStarted("nope", true))
	assert.NoError(t, r.Delete("nope"))

	require.NoError(t, r.Write("t1", &Spec{}))
	require.NoError(t, r.Delete("t1"))
	_, err = r.Read("t1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resume.db")
	r, err := Open(path, []byte("torrents"))
	require.NoError(t, err)
	require.NoError(t, r.Write("t1", &Spec{Name: "x", Started: true}))
	require.NoError(t, r.Close())

	r, err = Open(path, []byte("torrents"))
	require.NoError(t, err)
	defer r.Close()
	got, err := r.Read("t1")
	require.NoError(t, err)
	assert.Equal(t, "x", got.Name)
	assert.True(t, got.Started)
}
