// Package torrent downloads and seeds a single torrent.
//
// A Torrent is driven by one goroutine that owns every peer connection.
// Start, Stop and Destroy only post commands to that goroutine.
package torrent

import (
	"encoding/hex"
	"errors"
	"net"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cascadebt/cascade/internal/acceptor"
	"github.com/cascadebt/cascade/internal/logger"
	"github.com/cascadebt/cascade/internal/metainfo"
	"github.com/cascadebt/cascade/internal/multiplexer"
	"github.com/cascadebt/cascade/internal/peer"
	"github.com/cascadebt/cascade/internal/peerdirectory"
	"github.com/cascadebt/cascade/internal/piecepicker"
	"github.com/cascadebt/cascade/internal/piecestore"
	"github.com/cascadebt/cascade/internal/resumer/boltdbresumer"
	"github.com/cascadebt/cascade/internal/unchoker"
	"github.com/hashicorp/go-multierror"
	"github.com/juju/ratelimit"
)

var resumeBucket = []byte("torrents")

// Torrent connects to peers of a torrent, downloads missing pieces and serves pieces to interested peers.
type Torrent struct {
	desc      *metainfo.Descriptor
	info      *metainfo.Info
	config    Config
	id        string
	peerID    [20]byte
	store     *piecestore.PieceStore
	resumer   *boltdbresumer.Resumer
	directory *peerdirectory.Directory
	metrics   *torrentMetrics
	log       logger.Logger

	readBucket  *ratelimit.Bucket
	writeBucket *ratelimit.Bucket

	commandC  chan interface{}
	completeC chan struct{}
	errC      chan error
	doneC     chan struct{}

	// mux is also read by wake from other goroutines.
	muxMu sync.Mutex
	mux   *multiplexer.Multiplexer

	// fields below are owned by the loop goroutine
	state      State
	acceptor   *acceptor.Acceptor
	announcers []trackerAnnouncer
	picker     *piecepicker.PiecePicker
	unchoker   *unchoker.Unchoker
	committed  bool
	lastTick   time.Time
	lastSave   time.Time
	// set when a working file cannot be read or written
	storageErr error

	port            atomic.Int64
	bytesDownloaded atomic.Int64
	bytesUploaded   atomic.Int64
}

type command int

const (
	startCommand command = iota
	stopCommand
	destroyCommand
)

type statsRequest struct {
	Response chan Stats
}

// New opens the working files of the torrent described by desc and returns it in Initialized state.
// The loop goroutine is started; call Close to release resources.
func New(desc *metainfo.Descriptor, cfg Config) (*Torrent, error) {
	cfg.setDefaults()
	id := hex.EncodeToString(desc.Info.Hash[:])
	peerID, err := generatePeerID(cfg.ClientID)
	if err != nil {
		return nil, err
	}
	store, err := piecestore.Open(desc.Info, filepath.Join(cfg.DataDir, id))
	if err != nil {
		return nil, err
	}
	t := &Torrent{
		desc:      desc,
		info:      desc.Info,
		config:    cfg,
		id:        id,
		peerID:    peerID,
		store:     store,
		directory: peerdirectory.New(),
		metrics:   newTorrentMetrics(),
		log:       logger.New("torrent " + desc.Info.Name),
		commandC:  make(chan interface{}, 10),
		completeC: make(chan struct{}),
		errC:      make(chan error, 1),
		doneC:     make(chan struct{}),
		state:     Initialized,
	}
	if cfg.SpeedLimitDownload > 0 {
		t.readBucket = ratelimit.NewBucketWithRate(float64(cfg.SpeedLimitDownload), cfg.SpeedLimitDownload)
	}
	if cfg.SpeedLimitUpload > 0 {
		t.writeBucket = ratelimit.NewBucketWithRate(float64(cfg.SpeedLimitUpload), cfg.SpeedLimitUpload)
	}
	if cfg.Database != "" {
		if err = t.openResumer(); err != nil {
			_ = store.Close()
			return nil, err
		}
	}
	go t.run()
	return t, nil
}

func (t *Torrent) openResumer() error {
	r, err := boltdbresumer.Open(t.config.Database, resumeBucket)
	if err != nil {
		return err
	}
	spec, err := r.Read(t.id)
	switch {
	case errors.Is(err, boltdbresumer.ErrNotFound):
		err = r.Write(t.id, &boltdbresumer.Spec{
			InfoHash: t.info.Hash,
			Name:     t.info.Name,
			Trackers: t.desc.Trackers,
			Dest:     t.config.CompleteDir,
			AddedAt:  time.Now().UTC(),
		})
	case err == nil:
		t.bytesDownloaded.Store(spec.BytesDownloaded)
		t.bytesUploaded.Store(spec.BytesUploaded)
	}
	if err != nil {
		_ = r.Close()
		return err
	}
	t.resumer = r
	return nil
}

// Name of the torrent.
func (t *Torrent) Name() string { return t.info.Name }

// InfoHash is the unique identifier of the torrent.
func (t *Torrent) InfoHash() [20]byte { return t.info.Hash }

// Port returns the listening port for incoming connections. It is 0 until the torrent is started.
func (t *Torrent) Port() int { return int(t.port.Load()) }

// Start downloading. After all pieces are downloaded, seeding continues until the torrent is stopped.
func (t *Torrent) Start() { t.post(startCommand) }

// Stop closes all peer connections and keeps the working files for a later Start.
func (t *Torrent) Stop() { t.post(stopCommand) }

// Destroy stops the torrent and releases its resources. The torrent cannot be started again.
func (t *Torrent) Destroy() { t.post(destroyCommand) }

// Close destroys the torrent and waits for the loop goroutine to exit.
func (t *Torrent) Close() {
	t.Destroy()
	<-t.doneC
}

// NotifyComplete returns a channel that is closed after all pieces are downloaded and committed.
func (t *Torrent) NotifyComplete() <-chan struct{} { return t.completeC }

// NotifyError returns a channel that receives the error that destroyed the torrent.
func (t *Torrent) NotifyError() <-chan error { return t.errC }

// AddPeers adds addresses to the set of peers to connect. It is safe to call from any goroutine.
func (t *Torrent) AddPeers(addrs []*net.TCPAddr) {
	retry := t.retryConfig()
	var added int
	for _, addr := range addrs {
		if t.directory.AddPeer(peer.New(addr, retry)) {
			added++
		}
	}
	if added > 0 {
		t.log.Debugf("added %d new peers", added)
		t.wake()
	}
}

// State returns the current lifecycle state.
func (t *Torrent) State() State {
	return t.Stats().state
}

// Stats returns a snapshot of the torrent's counters.
func (t *Torrent) Stats() Stats {
	req := statsRequest{Response: make(chan Stats, 1)}
	if !t.post(req) {
		return Stats{Name: t.info.Name, State: Destroyed.String(), state: Destroyed}
	}
	select {
	case s := <-req.Response:
		return s
	case <-t.doneC:
		return Stats{Name: t.info.Name, State: Destroyed.String(), state: Destroyed}
	}
}

func (t *Torrent) post(cmd interface{}) bool {
	select {
	case t.commandC <- cmd:
		t.wake()
		return true
	case <-t.doneC:
		return false
	}
}

// wake makes the loop notice a command while it waits for network events.
func (t *Torrent) wake() {
	t.muxMu.Lock()
	if t.mux != nil {
		t.mux.Wake()
	}
	t.muxMu.Unlock()
}

func (t *Torrent) setMux(m *multiplexer.Multiplexer) {
	t.muxMu.Lock()
	t.mux = m
	t.muxMu.Unlock()
}

// destroy closes the working files and the resume database.
func (t *Torrent) destroy() {
	var result error
	if err := t.store.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if t.resumer != nil {
		if err := t.resumer.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if result != nil {
		t.log.Errorln("cannot close torrent:", result)
	}
	t.state = Destroyed
	t.log.Info("torrent is destroyed")
}
