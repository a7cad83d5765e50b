package metainfo

import (
	"bytes"
	"crypto/sha1" // nolint: gosec
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSingleFile(t *testing.T) {
	content := bytes.Repeat([]byte("abcdefgh"), 5) // 40 bytes
	b, err := NewInfoBytes("file.bin", 16, nil, content)
	require.NoError(t, err)

	info, err := NewInfo(b)
	require.NoError(t, err)
	assert.Equal(t, "file.bin", info.Name)
	assert.Equal(t, uint32(3), info.NumPieces)
	assert.Equal(t, int64(40), info.TotalLength)
	assert.Equal(t, uint32(16), info.PieceLen(0))
	assert.Equal(t, uint32(8), info.PieceLen(2))
	assert.False(t, info.MultiFile())
	assert.Equal(t, []FileDict{{40, []string{"file.bin"}}}, info.GetFiles())

	sum := sha1.Sum(content[16:32]) // nolint: gosec
	assert.Equal(t, sum[:], info.HashOf(1))
	assert.Equal(t, sha1.Sum(b), info.Hash) // nolint: gosec
}

func TestLastPieceFull(t *testing.T) {
	b, err := NewInfoBytes("x", 8, nil, make([]byte, 32))
	require.NoError(t, err)
	info, err := NewInfo(b)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), info.NumPieces)
	assert.Equal(t, uint32(8), info.PieceLen(3))
}

func TestMultiFile(t *testing.T) {
	files := []FileDict{
		{Length: 10, Path: []string{"a.txt"}},
		{Length: 6, Path: []string{"dir", "b.txt"}},
	}
	b, err := NewInfoBytes("multi", 8, files, make([]byte, 16))
	require.NoError(t, err)
	info, err := NewInfo(b)
	require.NoError(t, err)
	assert.True(t, info.MultiFile())
	assert.Equal(t, int64(16), info.TotalLength)
	assert.Equal(t, files, info.GetFiles())

	_, err = NewInfoBytes("multi", 8, files, make([]byte, 17))
	assert.Error(t, err)
}

func TestMetaInfo(t *testing.T) {
	ib, err := NewInfoBytes("file.bin", 16, nil, make([]byte, 20))
	require.NoError(t, err)
	b, err := NewBytes(ib, []string{"http://tracker.example.com/announce"})
	require.NoError(t, err)

	mi, err := New(bytes.NewReader(b))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"http://tracker.example.com/announce"}}, mi.AnnounceList)
	assert.Equal(t, []string{"http://tracker.example.com/announce"}, mi.Trackers())
	assert.Equal(t, uint32(2), mi.Info.NumPieces)

	d := mi.Descriptor()
	assert.Equal(t, "file.bin", d.Name())
	assert.Equal(t, mi.Info.Hash, d.InfoHash())
	assert.Equal(t, mi.Trackers(), d.Trackers)

	b, err = NewBytes(ib, []string{"udp://x:1", "http://a/announce"})
	require.NoError(t, err)
	mi, err = New(bytes.NewReader(b))
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a/announce"}, mi.Trackers())
}

func TestInvalidInfo(t *testing.T) {
	_, err := NewInfo([]byte("d4:name1:x12:piece lengthi16e6:pieces3:abce"))
	assert.Error(t, err)
}

func TestUnsafeNamesRejected(t *testing.T) {
	for _, name := range []string{"", "..", " .. ", ".", "../escaped", "a/b", `a\b`, "/abs"} {
		b, err := NewInfoBytes(name, 8, nil, make([]byte, 8))
		require.NoError(t, err)
		_, err = NewInfo(b)
		assert.Error(t, err, "name %q", name)
	}
	for _, path := range [][]string{{".."}, {"dir", "../x"}, {"/etc", "passwd"}, {}} {
		files := []FileDict{{Length: 8, Path: path}}
		b, err := NewInfoBytes("multi", 8, files, make([]byte, 8))
		require.NoError(t, err)
		_, err = NewInfo(b)
		assert.Error(t, err, "path %q", path)
	}
}

func TestValidPathComponent(t *testing.T) {
	assert.True(t, ValidPathComponent("file.bin"))
	assert.True(t, ValidPathComponent("..hidden"))
	assert.False(t, ValidPathComponent("a/.."))
	assert.False(t, ValidPathComponent("nul\x00"))
}
