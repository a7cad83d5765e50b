// Package announcer keeps a torrent announced to its tracker.
package announcer

import (
	"context"
	"errors"
	"math"
	"net"
	"sync"
	"time"

	"github.com/cascadebt/cascade/internal/logger"
	"github.com/cascadebt/cascade/internal/tracker"
	"github.com/cenkalti/backoff/v3"
)

// Timeout of the announce sent with the stopped event on Close.
var stopTimeout = 5 * time.Second

// PeriodicalAnnouncer announces "started" when run, then again at every interval returned by the tracker.
// "completed" is sent once when the completed channel is closed, "stopped" is sent on Close.
// Failed announces are retried with exponential back-off.
type PeriodicalAnnouncer struct {
	tracker     tracker.Tracker
	numWant     int
	minInterval time.Duration
	getTorrent  func() tracker.Torrent
	completedC  <-chan struct{}
	onPeers     func([]*net.TCPAddr)
	backoff     backoff.BackOff
	log         logger.Logger

	status    Status
	interval  time.Duration
	seeders   int
	leechers  int
	numPeers  int
	lastError error

	responseC     chan *tracker.AnnounceResponse
	errC          chan error
	statsCommandC chan chan Stats
	closeC        chan struct{}
	doneC         chan struct{}
	wg            sync.WaitGroup
}

// New returns an announcer for trk. getTorrent is called before each announce to get the transfer state.
// Peers returned by the tracker are passed to onPeers from the announcer's goroutine.
func New(trk tracker.Tracker, numWant int, minInterval time.Duration, getTorrent func() tracker.Torrent, completedC <-chan struct{}, onPeers func([]*net.TCPAddr), l logger.Logger) *PeriodicalAnnouncer {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     5 * time.Second,
		RandomizationFactor: 0.5,
		Multiplier:          2,
		MaxInterval:         30 * time.Minute,
		MaxElapsedTime:      0, // never stop
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return &PeriodicalAnnouncer{
		tracker:       trk,
		numWant:       numWant,
		minInterval:   minInterval,
		getTorrent:    getTorrent,
		completedC:    completedC,
		onPeers:       onPeers,
		backoff:       b,
		log:           l,
		responseC:     make(chan *tracker.AnnounceResponse),
		errC:          make(chan error),
		statsCommandC: make(chan chan Stats),
		closeC:        make(chan struct{}),
		doneC:         make(chan struct{}),
	}
}

// Close stops the announcer and sends the stopped event if the tracker was contacted.
// Run must be started before calling Close.
func (a *PeriodicalAnnouncer) Close() {
	close(a.closeC)
	<-a.doneC
}

// Stats returns the latest result of announces.
func (a *PeriodicalAnnouncer) Stats() Stats {
	respC := make(chan Stats, 1)
	select {
	case a.statsCommandC <- respC:
		return <-respC
	case <-a.doneC:
		return Stats{}
	}
}

// Run announces until Close is called.
func (a *PeriodicalAnnouncer) Run() {
	defer close(a.doneC)
	defer a.wg.Wait()

	timer := time.NewTimer(math.MaxInt64)
	defer timer.Stop()

	// No completed event is sent if the torrent was complete when started.
	completedC := a.completedC
	select {
	case <-completedC:
		completedC = nil
	default:
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.announce(ctx, tracker.EventStarted, a.numWant)
	for {
		select {
		case <-timer.C:
			if a.status == Contacting {
				break
			}
			a.announce(ctx, tracker.EventNone, a.numWant)
		case resp := <-a.responseC:
			a.status = Working
			a.seeders = int(resp.Seeders)
			a.leechers = int(resp.Leechers)
			a.numPeers = len(resp.Peers)
			a.lastError = nil
			a.backoff.Reset()
			if len(resp.Peers) > 0 {
				a.onPeers(resp.Peers)
			}
			timer.Reset(a.nextInterval(resp))
		case err := <-a.errC:
			a.status = NotWorking
			a.lastError = err
			var terr tracker.Error
			if errors.As(err, &terr) {
				a.log.Warningln("announce failed:", err)
			} else {
				a.log.Errorln("announce error:", err)
			}
			timer.Reset(a.backoff.NextBackOff())
		case <-completedC:
			if a.status == Contacting {
				cancel()
				ctx, cancel = context.WithCancel(context.Background())
			}
			a.announce(ctx, tracker.EventCompleted, 0)
			completedC = nil
		case respC := <-a.statsCommandC:
			respC <- a.stats()
		case <-a.closeC:
			cancel()
			a.wg.Wait()
			if a.status != NotContactedYet {
				a.announceStopped()
			}
			return
		}
	}
}

func (a *PeriodicalAnnouncer) nextInterval(resp *tracker.AnnounceResponse) time.Duration {
	a.interval = resp.Interval
	minInterval := a.minInterval
	if resp.MinInterval > minInterval {
		minInterval = resp.MinInterval
	}
	if a.interval < minInterval {
		a.interval = minInterval
	}
	return a.interval
}

func (a *PeriodicalAnnouncer) announce(ctx context.Context, e tracker.Event, numWant int) {
	a.status = Contacting
	req := tracker.AnnounceRequest{
		Torrent: a.getTorrent(),
		Event:   e,
		NumWant: numWant,
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		resp, err := a.tracker.Announce(ctx, req)
		if errors.Is(err, context.Canceled) {
			return
		}
		if err != nil {
			select {
			case a.errC <- err:
			case <-ctx.Done():
			}
			return
		}
		select {
		case a.responseC <- resp:
		case <-ctx.Done():
		}
	}()
}

func (a *PeriodicalAnnouncer) announceStopped() {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	req := tracker.AnnounceRequest{
		Torrent: a.getTorrent(),
		Event:   tracker.EventStopped,
	}
	if _, err := a.tracker.Announce(ctx, req); err != nil {
		a.log.Debugln("cannot announce stopped event:", err)
	}
}

func (a *PeriodicalAnnouncer) stats() Stats {
	s := Stats{
		Status:   a.status,
		Seeders:  a.seeders,
		Leechers: a.leechers,
		Peers:    a.numPeers,
	}
	if a.lastError != nil {
		s.Error = a.lastError.Error()
	}
	return s
}
