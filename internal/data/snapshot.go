package data

import (
	"encoding/json"
	"time"

	"github.com/snapbox/snapbox/internal/errors"
	"github.com/snapbox/snapbox/internal/ids"
)

// DeletePolicy encodes the three-state "delete" field of a SnapshotFile
// (spec §3): unset, never-delete, or delete-after a given time.
type DeletePolicy struct {
	never bool
	at    time.Time
}

// NotSetDeletePolicy is the zero value: no delete marker at all.
var NotSetDeletePolicy = DeletePolicy{}

// NeverDelete marks a snapshot as permanently protected.
func NeverDelete() DeletePolicy { return DeletePolicy{never: true} }

// DeleteAfter marks a snapshot as eligible for removal at or after t.
func DeleteAfter(t time.Time) DeletePolicy { return DeletePolicy{at: t} }

// IsSet reports whether any delete marker is present.
func (d DeletePolicy) IsSet() bool { return d.never || !d.at.IsZero() }

// IsNever reports whether the snapshot is marked never-delete.
func (d DeletePolicy) IsNever() bool { return d.never }

// At returns the delete-after time and whether one is set.
func (d DeletePolicy) At() (time.Time, bool) { return d.at, !d.never && !d.at.IsZero() }

func (d DeletePolicy) MarshalJSON() ([]byte, error) {
	switch {
	case d.never:
		return json.Marshal("never")
	case !d.at.IsZero():
		return json.Marshal(d.at.UTC().Format(time.RFC3339Nano))
	default:
		return []byte("null"), nil
	}
}

func (d *DeletePolicy) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*d = NotSetDeletePolicy
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "never" {
		*d = NeverDelete()
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return errors.WithKind(errors.ErrFormat, errors.Wrap(err, "parse delete timestamp"))
	}
	*d = DeleteAfter(t)
	return nil
}

// SnapshotSummary records optional statistics about what an archiving run
// processed. Entirely advisory; never consulted by core operations.
type SnapshotSummary struct {
	BackupStart time.Time `json:"backup_start,omitempty"`
	BackupEnd   time.Time `json:"backup_end,omitempty"`

	FilesNew        uint64 `json:"files_new,omitempty"`
	FilesChanged    uint64 `json:"files_changed,omitempty"`
	FilesUnmodified uint64 `json:"files_unmodified,omitempty"`

	DataBlobs uint64 `json:"data_blobs,omitempty"`
	TreeBlobs uint64 `json:"tree_blobs,omitempty"`

	DataAdded           uint64 `json:"data_added,omitempty"`
	DataAddedPacked     uint64 `json:"data_added_packed,omitempty"`
	TotalBytesProcessed uint64 `json:"total_bytes_processed,omitempty"`

	// ErrorCount counts files that were warned-and-skipped rather than
	// archived, per spec §4.12's non-fatal read-error handling.
	ErrorCount uint64 `json:"error_count,omitempty"`
}

// Snapshot is the on-disk (encrypted) representation of one completed
// backup run (spec §3 SnapshotFile).
type Snapshot struct {
	Time           time.Time        `json:"time"`
	ProgramVersion string           `json:"program_version,omitempty"`
	Parent         *ids.ID          `json:"parent,omitempty"`
	Tree           ids.ID           `json:"tree"`
	Label          string           `json:"label,omitempty"`
	Paths          []string         `json:"paths"`
	Hostname       string           `json:"hostname,omitempty"`
	Username       string           `json:"username,omitempty"`
	UID            uint32           `json:"uid,omitempty"`
	GID            uint32           `json:"gid,omitempty"`
	Tags           []string         `json:"tags,omitempty"`
	Original       *ids.ID          `json:"original,omitempty"`
	Delete         DeletePolicy     `json:"delete,omitempty"`
	Summary        *SnapshotSummary `json:"summary,omitempty"`
	Description    string           `json:"description,omitempty"`

	// id is the content-derived ID of this snapshot once saved; it is not
	// part of the serialized form (Repository.SaveSnapshot assigns it from
	// the hash of the plaintext JSON), but callers need it alongside the
	// value.
	id ids.ID
}

// ID returns the snapshot's content-derived ID, or the zero ID if it has
// not yet been assigned (spec §3: "id — assigned, not serialized").
func (s *Snapshot) ID() ids.ID { return s.id }

// SetID assigns the snapshot's content-derived ID after saving.
func (s *Snapshot) SetID(id ids.ID) { s.id = id }

// Equal compares two snapshots by time only, per spec §3's documented
// equality/ordering rule for snapshots within a group.
func (s *Snapshot) Equal(other *Snapshot) bool {
	return s.Time.Equal(other.Time)
}

// Snapshots is a slice of *Snapshot ordered by Time, oldest first.
type Snapshots []*Snapshot

func (s Snapshots) Len() int           { return len(s) }
func (s Snapshots) Less(i, j int) bool { return s[i].Time.Before(s[j].Time) }
func (s Snapshots) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }
