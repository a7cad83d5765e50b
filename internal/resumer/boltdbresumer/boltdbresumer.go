// Package boltdbresumer saves resume information of torrents in a Bolt database file.
package boltdbresumer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cascadebt/cascade/internal/resumer"
	"go.etcd.io/bbolt"
)

// ErrNotFound is returned from Read when there is no record for the torrent.
var ErrNotFound = errors.New("torrent not found in resume database")

var (
	keyInfoHash        = []byte("info_hash")
	keyName            = []byte("name")
	keyTrackers        = []byte("trackers")
	keyDest            = []byte("dest")
	keyAddedAt         = []byte("added_at")
	keyStarted         = []byte("started")
	keyBytesDownloaded = []byte("bytes_downloaded")
	keyBytesUploaded   = []byte("bytes_uploaded")
)

// Spec is the saved state of a torrent.
type Spec struct {
	InfoHash        [20]byte
	Name            string
	Trackers        []string
	Dest            string
	AddedAt         time.Time
	Started         bool
	BytesDownloaded int64
	BytesUploaded   int64
}

// Resumer keeps one nested bucket per torrent under a top level bucket.
type Resumer struct {
	db     *bbolt.DB
	bucket []byte
}

// New returns a Resumer that stores records under bucket, creating the bucket if needed.
func New(db *bbolt.DB, bucket []byte) (*Resumer, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Resumer{db: db, bucket: bucket}, nil
}

// Open opens the database at path and returns a Resumer using it.
// The database is closed by Close.
func Open(path string, bucket []byte) (*Resumer, error) {
	db, err := bbolt.Open(path, 0640, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	r, err := New(db, bucket)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// Close the underlying database.
func (r *Resumer) Close() error {
	return r.db.Close()
}

// Write the full record of the torrent with torrentID.
func (r *Resumer) Write(torrentID string, spec *Spec) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(r.bucket).CreateBucketIfNotExists([]byte(torrentID))
		if err != nil {
			return err
		}
		for _, kv := range []struct{ k, v []byte }{
			{keyInfoHash, spec.InfoHash[:]},
			{keyName, []byte(spec.Name)},
			{keyTrackers, []byte(strings.Join(spec.Trackers, "\n"))},
			{keyDest, []byte(spec.Dest)},
			{keyAddedAt, []byte(spec.AddedAt.Format(time.RFC3339))},
			{keyStarted, []byte(strconv.FormatBool(spec.Started))},
			{keyBytesDownloaded, []byte(strconv.FormatInt(spec.BytesDownloaded, 10))},
			{keyBytesUploaded, []byte(strconv.FormatInt(spec.BytesUploaded, 10))},
		} {
			if err = b.Put(kv.k, kv.v); err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteStarted writes the start status of a torrent.
func (r *Resumer) WriteStarted(torrentID string, value bool) error {
	return r.update(torrentID, func(b *bbolt.Bucket) error {
		return b.Put(keyStarted, []byte(strconv.FormatBool(value)))
	})
}

// WriteStats writes the transfer counters of a torrent.
func (r *Resumer) WriteStats(torrentID string, s resumer.Stats) error {
	return r.update(torrentID, func(b *bbolt.Bucket) error {
		if err := b.Put(keyBytesDownloaded, []byte(strconv.FormatInt(s.BytesDownloaded, 10))); err != nil {
			return err
		}
		return b.Put(keyBytesUploaded, []byte(strconv.FormatInt(s.BytesUploaded, 10)))
	})
}

// update runs fn on the bucket of the torrent. Missing torrents are ignored.
func (r *Resumer) update(torrentID string, fn func(b *bbolt.Bucket) error) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(r.bucket).Bucket([]byte(torrentID))
		if b == nil {
			return nil
		}
		return fn(b)
	})
}

// Read the record of the torrent with torrentID.
func (r *Resumer) Read(torrentID string) (*Spec, error) {
	var spec Spec
	err := r.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(r.bucket).Bucket([]byte(torrentID))
		if b == nil {
			return ErrNotFound
		}
		value := b.Get(keyInfoHash)
		if len(value) != len(spec.InfoHash) {
			return fmt.Errorf("invalid info hash length: %d", len(value))
		}
		copy(spec.InfoHash[:], value)
		spec.Name = string(b.Get(keyName))
		spec.Dest = string(b.Get(keyDest))
		if value = b.Get(keyTrackers); len(value) > 0 {
			spec.Trackers = strings.Split(string(value), "\n")
		}

		var err error
		if value = b.Get(keyAddedAt); value != nil {
			if spec.AddedAt, err = time.Parse(time.RFC3339, string(value)); err != nil {
				return err
			}
		}
		if value = b.Get(keyStarted); value != nil {
			if spec.Started, err = strconv.ParseBool(string(value)); err != nil {
				return err
			}
		}
		if value = b.Get(keyBytesDownloaded); value != nil {
			if spec.BytesDownloaded, err = strconv.ParseInt(string(value), 10, 64); err != nil {
				return err
			}
		}
		if value = b.Get(keyBytesUploaded); value != nil {
			if spec.BytesUploaded, err = strconv.ParseInt(string(value), 10, 64); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &spec, nil
}

// Delete the record of the torrent with torrentID.
func (r *Resumer) Delete(torrentID string) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		err := tx.Bucket(r.bucket).DeleteBucket([]byte(torrentID))
		if errors.Is(err, bbolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
}
