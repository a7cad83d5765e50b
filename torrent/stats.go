package torrent

import (
	"encoding/hex"
)

// Stats contains statistics about a Torrent.
type Stats struct {
	Name      string
	InfoHash  string
	State     string
	Committed bool
	// Listening port. 0 if the torrent is not started.
	Port   int
	Pieces struct {
		Have    uint32
		Missing uint32
		Total   uint32
	}
	Bytes struct {
		// Total length of the files.
		Total int64
		// Bytes written to the working data file.
		Completed int64
		// Bytes received from peers in piece messages, including data of later discarded pieces.
		Downloaded int64
		// Bytes sent to peers in piece messages.
		Uploaded int64
	}
	Peers struct {
		Connected    int
		Connecting   int
		Disconnected int
	}
	// Bytes per second, averaged over the last minute.
	Speed struct {
		Download int
		Upload   int
	}
	Counters struct {
		PiecesCompleted   int64
		ConnectionsClosed int64
		ProtocolErrors    int64
	}
	Trackers []TrackerStats

	state State
}

// TrackerStats is the announce status of a single tracker.
type TrackerStats struct {
	URL      string
	Status   string
	Error    string
	Seeders  int
	Leechers int
	Peers    int
}

func (t *Torrent) stats() Stats {
	var s Stats
	s.Name = t.info.Name
	s.InfoHash = hex.EncodeToString(t.info.Hash[:])
	s.State = t.state.String()
	s.state = t.state
	s.Committed = t.committed
	s.Port = t.Port()

	bf := t.store.BitField()
	s.Pieces.Total = bf.Len()
	s.Pieces.Have = bf.Count()
	s.Pieces.Missing = s.Pieces.Total - s.Pieces.Have

	s.Bytes.Total = t.info.TotalLength
	s.Bytes.Completed = t.store.BytesCompleted()
	s.Bytes.Downloaded = t.bytesDownloaded.Load()
	s.Bytes.Uploaded = t.bytesUploaded.Load()

	s.Peers.Connected = t.directory.ConnectedCount()
	s.Peers.Connecting = t.directory.ConnectingCount()
	s.Peers.Disconnected = t.directory.DisconnectedCount()

	s.Speed.Download = int(t.metrics.downloadSpeed.Rate())
	s.Speed.Upload = int(t.metrics.uploadSpeed.Rate())

	s.Counters.PiecesCompleted = t.metrics.piecesCompleted.Count()
	s.Counters.ConnectionsClosed = t.metrics.connectionsClosed.Count()
	s.Counters.ProtocolErrors = t.metrics.protocolErrors.Count()

	for _, an := range t.announcers {
		as := an.Stats()
		s.Trackers = append(s.Trackers, TrackerStats{
			URL:      an.url,
			Status:   as.Status.String(),
			Error:    as.Error,
			Seeders:  as.Seeders,
			Leechers: as.Leechers,
			Peers:    as.Peers,
		})
	}
	return s
}
