package chipset

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"

	"golang.org/x/mod/semver"
)

// SnapshotVersion is the format version written by WriteSnapshot. Readers
// accept any snapshot with the same major version and an equal or older minor.
const SnapshotVersion = "v1.0.0"

// ErrSnapshotVersion is returned when a snapshot was written by an
// incompatible format version.
var ErrSnapshotVersion = errors.New("chipset: incompatible snapshot version")

// DeviceSnapshot is the opaque, gob-registered state of one device.
type DeviceSnapshot any

// DeviceSnapshotter is implemented by devices whose state survives save/restore.
type DeviceSnapshotter interface {
	DeviceId() string
	CaptureSnapshot() (DeviceSnapshot, error)
	RestoreSnapshot(snap DeviceSnapshot) error
}

// Snapshot is the saved state of every snapshot-capable device, keyed by the
// name the device was registered under.
type Snapshot struct {
	Version string
	Devices map[string]DeviceSnapshot
}

// CaptureSnapshot saves all devices implementing DeviceSnapshotter.
func (c *Chipset) CaptureSnapshot() (*Snapshot, error) {
	snap := &Snapshot{
		Version: SnapshotVersion,
		Devices: make(map[string]DeviceSnapshot),
	}
	for _, name := range c.order {
		s, ok := c.devices[name].(DeviceSnapshotter)
		if !ok {
			continue
		}
		data, err := s.CaptureSnapshot()
		if err != nil {
			return nil, fmt.Errorf("chipset: capture %q (%s): %w", name, s.DeviceId(), err)
		}
		snap.Devices[name] = data
	}
	return snap, nil
}

// RestoreSnapshot restores every device present in snap. Devices missing from
// snap keep their current state.
func (c *Chipset) RestoreSnapshot(snap *Snapshot) error {
	if err := checkSnapshotVersion(snap.Version); err != nil {
		return err
	}
	for name, data := range snap.Devices {
		dev, ok := c.devices[name]
		if !ok {
			return fmt.Errorf("chipset: snapshot has unknown device %q", name)
		}
		s, ok := dev.(DeviceSnapshotter)
		if !ok {
			return fmt.Errorf("chipset: device %q does not support snapshots", name)
		}
		if err := s.RestoreSnapshot(data); err != nil {
			return fmt.Errorf("chipset: restore %q (%s): %w", name, s.DeviceId(), err)
		}
	}
	return nil
}

// WriteSnapshot gob-encodes snap to w. Device snapshot types must be
// registered with gob.Register.
func WriteSnapshot(w io.Writer, snap *Snapshot) error {
	if err := gob.NewEncoder(w).Encode(snap); err != nil {
		return fmt.Errorf("chipset: encode snapshot: %w", err)
	}
	return nil
}

// ReadSnapshot decodes a snapshot written by WriteSnapshot.
func ReadSnapshot(r io.Reader) (*Snapshot, error) {
	var snap Snapshot
	if err := gob.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("chipset: decode snapshot: %w", err)
	}
	if err := checkSnapshotVersion(snap.Version); err != nil {
		return nil, err
	}
	return &snap, nil
}

func checkSnapshotVersion(v string) error {
	if !semver.IsValid(v) {
		return fmt.Errorf("%w: %q is not a valid version", ErrSnapshotVersion, v)
	}
	if semver.Major(v) != semver.Major(SnapshotVersion) {
		return fmt.Errorf("%w: %s, want %s", ErrSnapshotVersion, v, semver.Major(SnapshotVersion))
	}
	if semver.Compare(semver.MajorMinor(v), semver.MajorMinor(SnapshotVersion)) > 0 {
		return fmt.Errorf("%w: %s is newer than %s", ErrSnapshotVersion, v, SnapshotVersion)
	}
	return nil
}
