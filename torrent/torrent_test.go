package torrent

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cascadebt/cascade/internal/metainfo"
	"github.com/cascadebt/cascade/internal/piecestore"
	"github.com/cascadebt/cascade/internal/resumer/boltdbresumer"
	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pieceLength = 16 * 1024

func newDescriptor(t *testing.T, content []byte) *metainfo.Descriptor {
	ib, err := metainfo.NewInfoBytes("file.bin", pieceLength, nil, content)
	require.NoError(t, err)
	info, err := metainfo.NewInfo(ib)
	require.NoError(t, err)
	return &metainfo.Descriptor{Info: info}
}

func randomContent(t *testing.T, n int) []byte {
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func testConfig(t *testing.T) Config {
	cfg := DefaultConfig
	cfg.Port = 0
	cfg.DataDir = t.TempDir()
	cfg.CompleteDir = t.TempDir()
	cfg.Database = ""
	cfg.PollTimeout = 100 * time.Millisecond
	cfg.DialTimeout = 2 * time.Second
	cfg.PeerRetryInitial = 0
	return cfg
}

// fillStore writes content into the working files that New opens for desc.
func fillStore(t *testing.T, desc *metainfo.Descriptor, cfg Config, content []byte) {
	dir := filepath.Join(cfg.DataDir, hex.EncodeToString(desc.Info.Hash[:]))
	store, err := piecestore.Open(desc.Info, dir)
	require.NoError(t, err)
	for i := uint32(0); i < store.NumPieces(); i++ {
		p, err := store.Piece(i)
		require.NoError(t, err)
		begin := int(i) * pieceLength
		require.NoError(t, store.Write(p, 0, content[begin:begin+int(p.Length)]))
	}
	require.NoError(t, store.Close())
}

func TestLifecycle(t *testing.T) {
	defer leaktest.Check(t)()
	desc := newDescriptor(t, randomContent(t, 40000))
	tor, err := New(desc, testConfig(t))
	require.NoError(t, err)

	assert.Equal(t, Initialized, tor.State())
	assert.Equal(t, 0, tor.Port())

	tor.Start()
	s := tor.Stats()
	assert.Equal(t, "started", s.State)
	assert.NotZero(t, s.Port)
	assert.Equal(t, uint32(3), s.Pieces.Total)
	assert.Equal(t, uint32(3), s.Pieces.Missing)

	tor.Stop()
	assert.Equal(t, Stopped, tor.State())
	assert.Equal(t, 0, tor.Port())

	tor.Start()
	assert.Equal(t, Started, tor.State())

	tor.Close()
	assert.Equal(t, Destroyed, tor.State())

	// commands after destroy are ignored
	tor.Start()
	assert.Equal(t, Destroyed, tor.State())
}

func TestNewFailsOnUnusableDataDir(t *testing.T) {
	cfg := testConfig(t)
	f := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(f, nil, 0600))
	cfg.DataDir = f

	_, err := New(newDescriptor(t, randomContent(t, 100)), cfg)
	assert.Error(t, err)
}

func TestStartErrorDestroysTorrent(t *testing.T) {
	defer leaktest.Check(t)()
	l, err := net.ListenTCP("tcp4", &net.TCPAddr{})
	require.NoError(t, err)
	defer l.Close()

	cfg := testConfig(t)
	cfg.Port = l.Addr().(*net.TCPAddr).Port
	tor, err := New(newDescriptor(t, randomContent(t, 100)), cfg)
	require.NoError(t, err)

	tor.Start()
	select {
	case err = <-tor.NotifyError():
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("no error")
	}
	tor.Close()
	assert.Equal(t, Destroyed, tor.State())
}

func TestSeederCompletesOnStart(t *testing.T) {
	defer leaktest.Check(t)()
	content := randomContent(t, 40000)
	desc := newDescriptor(t, content)
	cfg := testConfig(t)
	fillStore(t, desc, cfg, content)

	tor, err := New(desc, cfg)
	require.NoError(t, err)
	defer tor.Close()

	tor.Start()
	select {
	case <-tor.NotifyComplete():
	case <-time.After(5 * time.Second):
		t.Fatal("not completed")
	}
	s := tor.Stats()
	assert.True(t, s.Committed)
	assert.Equal(t, uint32(0), s.Pieces.Missing)
	b, err := os.ReadFile(filepath.Join(cfg.CompleteDir, "file.bin"))
	require.NoError(t, err)
	assert.Equal(t, content, b)
}

func TestDownloadFromSeeder(t *testing.T) {
	defer leaktest.Check(t)()
	content := randomContent(t, 5*pieceLength+1234)
	desc := newDescriptor(t, content)

	seederConfig := testConfig(t)
	fillStore(t, desc, seederConfig, content)
	seeder, err := New(desc, seederConfig)
	require.NoError(t, err)
	defer seeder.Close()
	seeder.Start()
	port := seeder.Stats().Port
	require.NotZero(t, port)

	leecherConfig := testConfig(t)
	leecher, err := New(desc, leecherConfig)
	require.NoError(t, err)
	defer leecher.Close()
	leecher.Start()
	leecher.AddPeers([]*net.TCPAddr{{IP: net.IPv4(127, 0, 0, 1), Port: port}})

	select {
	case <-leecher.NotifyComplete():
	case err = <-leecher.NotifyError():
		t.Fatal(err)
	case <-time.After(10 * time.Second):
		t.Fatal("download did not complete")
	}
	b, err := os.ReadFile(filepath.Join(leecherConfig.CompleteDir, "file.bin"))
	require.NoError(t, err)
	assert.Equal(t, content, b)

	ls := leecher.Stats()
	assert.Equal(t, int64(len(content)), ls.Bytes.Downloaded)
	assert.Equal(t, int64(6), ls.Counters.PiecesCompleted)
	assert.Equal(t, int64(len(content)), seeder.Stats().Bytes.Uploaded)
}

func TestStorageFailureDestroysTorrent(t *testing.T) {
	defer leaktest.Check(t)()
	content := randomContent(t, 2*pieceLength)
	desc := newDescriptor(t, content)

	seederConfig := testConfig(t)
	fillStore(t, desc, seederConfig, content)
	seeder, err := New(desc, seederConfig)
	require.NoError(t, err)
	defer seeder.Close()
	seeder.Start()
	port := seeder.Stats().Port
	require.NotZero(t, port)

	leecher, err := New(desc, testConfig(t))
	require.NoError(t, err)
	// working files are unusable before the first block arrives
	require.NoError(t, leecher.store.Close())
	leecher.Start()
	leecher.AddPeers([]*net.TCPAddr{{IP: net.IPv4(127, 0, 0, 1), Port: port}})

	select {
	case err = <-leecher.NotifyError():
		var se *piecestore.StorageError
		assert.True(t, errors.As(err, &se), err.Error())
	case <-leecher.NotifyComplete():
		t.Fatal("completed without storage")
	case <-time.After(10 * time.Second):
		t.Fatal("no error")
	}
	leecher.Close()
	assert.Equal(t, Destroyed, leecher.State())
}

func TestResumeDatabase(t *testing.T) {
	defer leaktest.Check(t)()
	content := randomContent(t, 40000)
	desc := newDescriptor(t, content)
	cfg := testConfig(t)
	cfg.Database = filepath.Join(t.TempDir(), "resume.db")

	tor, err := New(desc, cfg)
	require.NoError(t, err)
	tor.Start()
	assert.Equal(t, Started, tor.State())
	tor.Close()

	r, err := boltdbresumer.Open(cfg.Database, resumeBucket)
	require.NoError(t, err)
	spec, err := r.Read(hex.EncodeToString(desc.Info.Hash[:]))
	require.NoError(t, err)
	assert.Equal(t, desc.Info.Hash, spec.InfoHash)
	assert.Equal(t, "file.bin", spec.Name)
	assert.False(t, spec.Started)
	require.NoError(t, r.Close())

	// the record is reused when the torrent is opened again
	tor, err = New(desc, cfg)
	require.NoError(t, err)
	tor.Close()
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig.Port, cfg.Port)
	assert.Equal(t, DefaultConfig.MaxConnections, cfg.MaxConnections)
	assert.False(t, filepath.IsAbs(DefaultConfig.DataDir))
	assert.True(t, filepath.IsAbs(cfg.DataDir))
}

func TestLoadConfigOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "port: 7000\nmax-connections: 3\npoll-timeout: 2s\ndata-dir: /tmp/cascade\ntracker:\n  num-want: 10\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Port)
	assert.Equal(t, 3, cfg.MaxConnections)
	assert.Equal(t, 2*time.Second, cfg.PollTimeout)
	assert.Equal(t, "/tmp/cascade", cfg.DataDir)
	assert.Equal(t, 10, cfg.Tracker.NumWant)
	assert.Equal(t, DefaultConfig.DialTimeout, cfg.DialTimeout)
	assert.Equal(t, DefaultConfig.RequestPipeline, cfg.RequestPipeline)
}

func TestGeneratePeerID(t *testing.T) {
	id1, err := generatePeerID("-CS0001-")
	require.NoError(t, err)
	id2, err := generatePeerID("-CS0001-")
	require.NoError(t, err)
	assert.Equal(t, "-CS0001-", string(id1[:8]))
	assert.NotEqual(t, id1, id2)
}
