package torrent

import (
	"os"
	"time"

	"github.com/cascadebt/cascade/internal/peerprotocol"
	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v2"
)

// Config for a Torrent. Zero values of durations and limits are replaced with defaults in New.
type Config struct {
	// Prefix of the generated peer id, e.g. "-CS0001-".
	ClientID string `yaml:"client-id"`
	// Listen port for incoming peer connections. 0 picks a random port.
	Port int `yaml:"port"`
	// Directory that keeps the data and state files of a download in progress.
	DataDir string `yaml:"data-dir"`
	// Files are copied here in their final layout when the download completes.
	CompleteDir string `yaml:"complete-dir"`
	// Bolt database for saving start status and transfer counters. Empty disables it.
	Database string `yaml:"database"`
	// Check hashes of pieces found in the state file before starting.
	VerifyOnStart bool `yaml:"verify-on-start"`

	// Max number of connected and connecting peers.
	MaxConnections int `yaml:"max-connections"`
	// Upper bound of a single wait for network events.
	// Scheduling runs at least this often.
	PollTimeout time.Duration `yaml:"poll-timeout"`
	// Time to wait for TCP connection to open.
	DialTimeout time.Duration `yaml:"dial-timeout"`
	// Time to wait for the handshake of an incoming connection. 0 waits forever.
	IncomingHandshakeTimeout time.Duration `yaml:"incoming-handshake-timeout"`

	// Number of outstanding block requests to a peer.
	RequestPipeline int `yaml:"request-pipeline"`
	// Number of upload requests queued from a peer. A peer sending more is disconnected.
	MaxRequestQueue int `yaml:"max-request-queue"`
	// Largest block requested or served.
	MaxBlockSize uint32 `yaml:"max-block-size"`

	// Disconnected peers with a score below this value are forgotten.
	PeerForgetScore int `yaml:"peer-forget-score"`
	// Wait time before dialing a peer again after its first disconnect.
	PeerRetryInitial time.Duration `yaml:"peer-retry-initial"`
	// Upper bound of wait time between dials to the same peer.
	PeerRetryMax time.Duration `yaml:"peer-retry-max"`

	// Download speed limit in bytes per second. 0 means unlimited.
	SpeedLimitDownload int64 `yaml:"speed-limit-download"`
	// Upload speed limit in bytes per second. 0 means unlimited.
	SpeedLimitUpload int64 `yaml:"speed-limit-upload"`

	Tracker TrackerConfig `yaml:"tracker"`
}

// TrackerConfig contains options for announcing to HTTP trackers.
type TrackerConfig struct {
	// Number of peer addresses to request in announce request.
	NumWant int `yaml:"num-want"`
	// Lower bound of the time between two announces.
	MinAnnounceInterval time.Duration `yaml:"min-announce-interval"`
	// Total time to wait for an announce response.
	HTTPTimeout time.Duration `yaml:"http-timeout"`
}

// DefaultConfig is used as the base for LoadConfig.
var DefaultConfig = Config{
	ClientID:                 "-CS0001-",
	Port:                     6881,
	DataDir:                  "~/cascade/data",
	CompleteDir:              "~/cascade/complete",
	Database:                 "~/cascade/resume.db",
	MaxConnections:           40,
	PollTimeout:              5 * time.Second,
	DialTimeout:              10 * time.Second,
	IncomingHandshakeTimeout: 0,
	RequestPipeline:          5,
	MaxRequestQueue:          10,
	MaxBlockSize:             peerprotocol.MaxBlockSize,
	PeerForgetScore:          -5,
	PeerRetryInitial:         5 * time.Second,
	PeerRetryMax:             10 * time.Minute,
	Tracker: TrackerConfig{
		NumWant:             100,
		MinAnnounceInterval: time.Minute,
		HTTPTimeout:         30 * time.Second,
	},
}

// LoadConfig reads the YAML file at path over DefaultConfig.
// A missing file is not an error; DefaultConfig is returned.
// A leading "~" in path and in the directories of the config is expanded to the home directory.
func LoadConfig(path string) (*Config, error) {
	c := DefaultConfig
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &c, c.expandPaths()
	}
	if err != nil {
		return nil, err
	}
	if err = yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	return &c, c.expandPaths()
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.DataDir, &c.CompleteDir, &c.Database} {
		s, err := homedir.Expand(*p)
		if err != nil {
			return err
		}
		*p = s
	}
	return nil
}

func (c *Config) setDefaults() {
	d := DefaultConfig
	if c.ClientID == "" {
		c.ClientID = d.ClientID
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = d.MaxConnections
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = d.PollTimeout
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.RequestPipeline <= 0 {
		c.RequestPipeline = d.RequestPipeline
	}
	if c.MaxRequestQueue <= 0 {
		c.MaxRequestQueue = d.MaxRequestQueue
	}
	if c.MaxBlockSize == 0 || c.MaxBlockSize > peerprotocol.MaxBlockSize {
		c.MaxBlockSize = d.MaxBlockSize
	}
	if c.Tracker.NumWant <= 0 {
		c.Tracker.NumWant = d.Tracker.NumWant
	}
	if c.Tracker.HTTPTimeout <= 0 {
		c.Tracker.HTTPTimeout = d.Tracker.HTTPTimeout
	}
}
