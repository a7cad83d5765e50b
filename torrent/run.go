package torrent

import (
	"net"
	"sync"
	"time"

	"github.com/cascadebt/cascade/internal/acceptor"
	"github.com/cascadebt/cascade/internal/announcer"
	"github.com/cascadebt/cascade/internal/logger"
	"github.com/cascadebt/cascade/internal/multiplexer"
	"github.com/cascadebt/cascade/internal/peer"
	"github.com/cascadebt/cascade/internal/peerconn"
	"github.com/cascadebt/cascade/internal/piecepicker"
	"github.com/cascadebt/cascade/internal/resumer"
	"github.com/cascadebt/cascade/internal/tracker"
	"github.com/cascadebt/cascade/internal/tracker/httptracker"
	"github.com/cascadebt/cascade/internal/unchoker"
)

const (
	// EWMA rates of go-metrics must be ticked at this interval.
	speedTickInterval = 5 * time.Second
	// Transfer counters are written to the resume database at this interval while running.
	statsWriteInterval = 30 * time.Second
)

type trackerAnnouncer struct {
	url string
	*announcer.PeriodicalAnnouncer
}

func (t *Torrent) run() {
	defer close(t.doneC)
	for t.state != Destroyed {
		if t.state != Started {
			t.handleCommand(<-t.commandC)
			continue
		}
		t.drainCommands()
		if t.state == Started {
			t.iterate()
		}
	}
}

func (t *Torrent) drainCommands() {
	for {
		select {
		case cmd := <-t.commandC:
			t.handleCommand(cmd)
			if t.state == Destroyed {
				return
			}
		default:
			return
		}
	}
}

func (t *Torrent) handleCommand(cmd interface{}) {
	switch cmd := cmd.(type) {
	case command:
		switch cmd {
		case startCommand:
			if t.state == Initialized || t.state == Stopped {
				if err := t.start(); err != nil {
					t.fail(err)
				}
			}
		case stopCommand:
			if t.state == Started {
				t.stop()
			}
		case destroyCommand:
			if t.state == Started {
				t.stop()
			}
			t.destroy()
		}
	case statsRequest:
		cmd.Response <- t.stats()
	}
}

// fail is called for errors that leave the torrent unusable.
func (t *Torrent) fail(err error) {
	t.log.Errorln("torrent failed:", err)
	select {
	case t.errC <- err:
	default:
	}
	if t.state == Started {
		t.stop()
	}
	t.destroy()
}

func (t *Torrent) start() error {
	t.log.Info("starting torrent")
	if t.config.VerifyOnStart {
		n, err := t.store.VerifyAll()
		if err != nil {
			return err
		}
		if n > 0 {
			t.log.Warningf("%d pieces failed verification and will be downloaded again", n)
		}
	}
	l, err := acceptor.Listen(t.config.Port)
	if err != nil {
		return err
	}
	t.port.Store(int64(l.Addr().(*net.TCPAddr).Port))

	mux := multiplexer.New(multiplexer.Config{
		InfoHash: t.info.Hash,
		PeerID:   t.peerID,
		Store:    t.store,
		Conn: peerconn.Config{
			RequestPipeline: t.config.RequestPipeline,
			MaxRequestQueue: t.config.MaxRequestQueue,
			MaxBlockSize:    t.config.MaxBlockSize,
		},
		Retry:            t.retryConfig(),
		DialTimeout:      t.config.DialTimeout,
		HandshakeTimeout: t.config.DialTimeout,
		ReadBucket:       t.readBucket,
		WriteBucket:      t.writeBucket,
	}, connListener{t})
	t.setMux(mux)
	t.acceptor = acceptor.New(l, t.info.Hash, t.config.IncomingHandshakeTimeout, func(a acceptor.Accepted) {
		mux.Register(a.Conn, a.Handshake)
	}, logger.New("acceptor "+t.info.Name))
	go t.acceptor.Run()

	t.picker = piecepicker.New(t.store, t.log)
	t.unchoker = unchoker.New()
	t.state = Started
	if err = t.checkCompletion(); err != nil {
		return err
	}
	t.startAnnouncers()
	if t.resumer != nil {
		if err = t.resumer.WriteStarted(t.id, true); err != nil {
			t.log.Errorln("cannot write resume data:", err)
		}
	}
	now := time.Now()
	t.lastTick = now
	t.lastSave = now
	t.log.Infof("listening for peers on port %d", t.Port())
	return nil
}

func (t *Torrent) startAnnouncers() {
	for _, u := range t.desc.Trackers {
		trk, err := httptracker.New(u, t.config.Tracker.HTTPTimeout)
		if err != nil {
			t.log.Warningln("skipping tracker:", err)
			continue
		}
		an := announcer.New(trk, t.config.Tracker.NumWant, t.config.Tracker.MinAnnounceInterval, t.trackerTorrent, t.completeC, t.AddPeers, logger.New("announcer "+u))
		t.announcers = append(t.announcers, trackerAnnouncer{url: u, PeriodicalAnnouncer: an})
		go an.Run()
	}
}

// trackerTorrent is called from announcer goroutines.
func (t *Torrent) trackerTorrent() tracker.Torrent {
	completed := t.store.BytesCompleted()
	return tracker.Torrent{
		InfoHash:        t.info.Hash,
		PeerID:          t.peerID,
		Port:            t.Port(),
		BytesDownloaded: t.bytesDownloaded.Load(),
		BytesUploaded:   t.bytesUploaded.Load(),
		BytesLeft:       t.info.TotalLength - completed,
	}
}

func (t *Torrent) retryConfig() peer.RetryConfig {
	return peer.RetryConfig{Initial: t.config.PeerRetryInitial, Max: t.config.PeerRetryMax}
}

func (t *Torrent) stop() {
	t.log.Info("stopping torrent")
	t.mux.Close()
	t.acceptor.Close()
	t.setMux(nil)
	t.acceptor = nil
	t.directory.ResetConnecting()

	var wg sync.WaitGroup
	for _, an := range t.announcers {
		wg.Add(1)
		go func(an trackerAnnouncer) {
			defer wg.Done()
			an.Close()
		}(an)
	}
	wg.Wait()
	t.announcers = nil
	t.picker = nil
	t.unchoker = nil

	if err := t.store.ForceSave(); err != nil {
		t.log.Errorln("cannot save piece state:", err)
	}
	if t.resumer != nil {
		if err := t.resumer.WriteStarted(t.id, false); err != nil {
			t.log.Errorln("cannot write resume data:", err)
		}
	}
	t.writeStats()
	t.port.Store(0)
	t.state = Stopped
	t.log.Info("torrent is stopped")
}

// iterate runs one round of the started loop.
func (t *Torrent) iterate() {
	if err := t.checkCompletion(); err != nil {
		t.fail(err)
		return
	}
	if !t.committed {
		t.dial()
	}
	t.mux.Poll(t.config.PollTimeout)
	if t.storageErr != nil {
		t.fail(t.storageErr)
		return
	}

	conns := t.mux.Conns()
	t.picker.Schedule(conns)
	peers := make([]unchoker.Peer, len(conns))
	for i, c := range conns {
		peers[i] = c
	}
	if n := t.unchoker.Schedule(peers); n > 0 {
		t.log.Debugf("unchoked %d peers", n)
	}

	now := time.Now()
	for now.Sub(t.lastTick) >= speedTickInterval {
		t.metrics.tick()
		t.lastTick = t.lastTick.Add(speedTickInterval)
	}
	if now.Sub(t.lastSave) >= statsWriteInterval {
		t.writeStats()
		t.lastSave = now
	}
}

// checkCompletion commits the files once every piece is verified.
func (t *Torrent) checkCompletion() error {
	if t.committed || !t.store.BitField().All() {
		return nil
	}
	if t.config.CompleteDir != "" {
		if err := t.store.Commit(t.config.CompleteDir); err != nil {
			return err
		}
	}
	t.committed = true
	close(t.completeC)
	for _, c := range t.mux.Conns() {
		c.SetAmInterested(false)
	}
	t.writeStats()
	t.log.Info("download completed")
	return nil
}

// dial opens connections to known peers until the connection limit is reached.
func (t *Torrent) dial() {
	n := t.config.MaxConnections - len(t.mux.Conns()) - t.mux.Dialing()
	if n <= 0 {
		return
	}
	for _, p := range t.directory.Candidates(time.Now(), n) {
		t.directory.MarkConnecting(p)
		t.mux.Connect(p)
	}
}

func (t *Torrent) writeStats() {
	if t.resumer == nil {
		return
	}
	err := t.resumer.WriteStats(t.id, resumer.Stats{
		BytesDownloaded: t.bytesDownloaded.Load(),
		BytesUploaded:   t.bytesUploaded.Load(),
	})
	if err != nil {
		t.log.Errorln("cannot write resume data:", err)
	}
}
