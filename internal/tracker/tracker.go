// Package tracker defines the types shared by tracker clients.
package tracker

import (
	"context"
	"net"
	"time"
)

// Tracker returns peers of a torrent.
type Tracker interface {
	// Announce reports the transfer state and returns the peers known by the tracker.
	// It must be called again after the returned interval and also on events.
	Announce(ctx context.Context, req AnnounceRequest) (*AnnounceResponse, error)
	// URL of the tracker.
	URL() string
}

// Torrent is the transfer state sent in an announce.
type Torrent struct {
	InfoHash        [20]byte
	PeerID          [20]byte
	Port            int
	BytesDownloaded int64
	BytesUploaded   int64
	BytesLeft       int64
}

// AnnounceRequest is the input of Tracker.Announce.
type AnnounceRequest struct {
	Torrent Torrent
	Event   Event
	NumWant int
}

// AnnounceResponse is the result of a successful announce.
type AnnounceResponse struct {
	Interval    time.Duration
	MinInterval time.Duration
	Leechers    int32
	Seeders     int32
	Peers       []*net.TCPAddr
}

// Error is the failure reason sent by the tracker.
type Error string

func (e Error) Error() string { return "tracker error: " + string(e) }
