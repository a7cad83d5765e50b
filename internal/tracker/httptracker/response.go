package httptracker

import "github.com/zeebo/bencode"

// announceResponse is the bencoded dictionary returned from the announce URL.
// Peers is either a compact string or a list of dictionaries.
type announceResponse struct {
	FailureReason  string             `bencode:"failure reason"`
	WarningMessage string             `bencode:"warning message"`
	Interval       int32              `bencode:"interval"`
	MinInterval    int32              `bencode:"min interval"`
	TrackerID      string             `bencode:"tracker id"`
	Seeders        int32              `bencode:"complete"`
	Leechers       int32              `bencode:"incomplete"`
	Peers          bencode.RawMessage `bencode:"peers"`
}

// dictPeer is an element of the non-compact peer list. The peer id is not used.
type dictPeer struct {
	PeerID string `bencode:"peer id"`
	IP     string `bencode:"ip"`
	Port   uint16 `bencode:"port"`
}
