// Package checkpoint persists a small CBOR-encoded snapshot of session
// counters at terminal transitions (clean close, abrupt close, heartbeat
// loss), so a restarted process can report the last-known state of its
// previous connection.
package checkpoint

import (
	"fmt"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// DefaultFileName is the checkpoint's default base name inside a
// session's save directory.
const DefaultFileName = ".reliable-udp-checkpoint.cbor"

// PathFor returns the checkpoint file path inside saveDir, defaulting
// saveDir to the current directory when empty.
func PathFor(saveDir string) string {
	if saveDir == "" {
		saveDir = "."
	}
	return saveDir + "/" + DefaultFileName
}

// Snapshot is the persisted record of a session's counters at the moment
// it terminated.
type Snapshot struct {
	LocalAddr         string    `cbor:"local_addr"`
	RemoteAddr        string    `cbor:"remote_addr"`
	Role              int       `cbor:"role"`
	NextMsgID         uint8     `cbor:"next_msg_id"`
	LastAcceptedMsgID int       `cbor:"last_accepted_msg_id"` // -1 if none accepted yet
	MissedHeartbeats  int       `cbor:"missed_heartbeats"`
	Reason            string    `cbor:"reason"` // "clean-close-initiator", "clean-close-responder", "clean-close-responder-timeout", "abrupt-close", "peer-end", "heartbeat-lost"
	ClosedAt          time.Time `cbor:"closed_at"`
}

// Write CBOR-encodes snap and writes it to path, creating or truncating
// the file as needed.
func Write(path string, snap Snapshot) error {
	data, err := cbor.Marshal(snap)
	if err != nil {
		return fmt.Errorf("checkpoint: failed to marshal CBOR snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("checkpoint: failed to write %s: %w", path, err)
	}
	return nil
}

// Read loads and CBOR-decodes a previously written snapshot. Callers use
// this to report the last-known session state across a process restart;
// it does not resume the UDP session itself.
func Read(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("checkpoint: failed to read %s: %w", path, err)
	}
	var snap Snapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("checkpoint: failed to unmarshal CBOR snapshot: %w", err)
	}
	return snap, nil
}
