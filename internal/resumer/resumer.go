// Package resumer defines the data saved for resuming a torrent after restart.
package resumer

// Stats are transfer counters accumulated over all runs of a torrent.
type Stats struct {
	BytesDownloaded int64
	BytesUploaded   int64
}
