package metainfo

// Descriptor is the immutable description of a torrent the download engine works on.
type Descriptor struct {
	Info     *Info
	Trackers []string
}

// Descriptor returns the info dictionary and the flattened tracker list of the torrent.
func (m *MetaInfo) Descriptor() *Descriptor {
	info := m.Info
	return &Descriptor{Info: &info, Trackers: m.Trackers()}
}

// InfoHash returns the SHA-1 hash of the info dictionary.
func (d *Descriptor) InfoHash() [20]byte { return d.Info.Hash }

// Name of the torrent.
func (d *Descriptor) Name() string { return d.Info.Name }
