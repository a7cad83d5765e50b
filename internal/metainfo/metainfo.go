// Package metainfo support for reading and writing torrent files.
package metainfo

import (
	"errors"
	"io"
	"strings"

	"github.com/zeebo/bencode"
)

// MetaInfo file dictionary
type MetaInfo struct {
	Info         Info
	AnnounceList [][]string
}

// New returns a torrent from bencoded stream.
func New(r io.Reader) (*MetaInfo, error) {
	var t struct {
		Info         bencode.RawMessage `bencode:"info"`
		Announce     bencode.RawMessage `bencode:"announce"`
		AnnounceList bencode.RawMessage `bencode:"announce-list"`
	}
	err := bencode.NewDecoder(r).Decode(&t)
	if err != nil {
		return nil, err
	}
	if len(t.Info) == 0 {
		return nil, errors.New("no info dict in torrent file")
	}
	info, err := NewInfo(t.Info)
	if err != nil {
		return nil, err
	}
	ret := &MetaInfo{Info: *info}
	if len(t.AnnounceList) > 0 {
		var ll [][]string
		if bencode.DecodeBytes(t.AnnounceList, &ll) == nil {
			for _, tier := range ll {
				var ti []string
				for _, u := range tier {
					if isTrackerSupported(u) {
						ti = append(ti, u)
					}
				}
				if len(ti) > 0 {
					ret.AnnounceList = append(ret.AnnounceList, ti)
				}
			}
		}
	} else if len(t.Announce) > 0 {
		var s string
		if bencode.DecodeBytes(t.Announce, &s) == nil && isTrackerSupported(s) {
			ret.AnnounceList = append(ret.AnnounceList, []string{s})
		}
	}
	return ret, nil
}

// Trackers returns every announce URL in tier order.
func (m *MetaInfo) Trackers() []string {
	var l []string
	for _, tier := range m.AnnounceList {
		l = append(l, tier...)
	}
	return l
}

func isTrackerSupported(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// NewBytes returns a bencoded torrent file wrapping the info dictionary.
func NewBytes(info []byte, trackers []string) ([]byte, error) {
	mi := struct {
		Info         bencode.RawMessage `bencode:"info"`
		Announce     string             `bencode:"announce,omitempty"`
		AnnounceList [][]string         `bencode:"announce-list,omitempty"`
	}{
		Info: info,
	}
	if len(trackers) == 1 {
		mi.Announce = trackers[0]
	} else if len(trackers) > 1 {
		mi.AnnounceList = [][]string{trackers}
	}
	return bencode.EncodeBytes(mi)
}
