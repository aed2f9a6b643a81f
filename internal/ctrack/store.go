package ctrack

import "time"

// ChangeFileKind distinguishes the two kinds of persisted change files.
type ChangeFileKind int

const (
	// DailyChangeFile holds an array of records that share a UTC date.
	DailyChangeFile ChangeFileKind = iota
	// CriticalChangeFile holds one record written at the moment it was recorded.
	CriticalChangeFile
)

// ChangeFile identifies one persisted change file.
// For daily files Time is midnight UTC of the day; for critical files it is
// the timestamp encoded in the file name.
type ChangeFile struct {
	Name string
	Kind ChangeFileKind
	Time time.Time
}

// ChangeStore persists change records.
type ChangeStore interface {
	// AppendDaily appends records to the aggregate file for the UTC day of
	// day, creating it if needed. Records keep their order.
	AppendDaily(day time.Time, records []*ChangeRecord) error

	// WriteCritical writes a single record to its own file and returns the
	// file name. The name is unique even when timestamps collide.
	WriteCritical(record *ChangeRecord) (string, error)

	// ListChangeFiles enumerates the persisted change files.
	ListChangeFiles() ([]ChangeFile, error)

	// ReadChangeFile returns the records held by a change file.
	ReadChangeFile(file ChangeFile) ([]*ChangeRecord, error)
}

// SnapshotStore persists investigation snapshots.
type SnapshotStore interface {
	// PutSnapshot writes a snapshot and returns the name it was stored under.
	PutSnapshot(snapshot *InvestigationSnapshot) (string, error)

	// GetSnapshot reads a snapshot by investigation and name.
	GetSnapshot(investigationID, name string) (*InvestigationSnapshot, error)

	// ListSnapshots returns the snapshot names of an investigation ordered
	// by CompareSnapshotNames.
	ListSnapshots(investigationID string) ([]string, error)
}

// SnapshotIndex holds the explicit, ordered snapshot chain of each investigation.
type SnapshotIndex interface {
	// Latest returns the newest link of the chain, or nil if there is none.
	Latest(investigationID string) (*SnapshotEntry, error)

	// Append adds a link to the end of the chain.
	Append(entry *SnapshotEntry) error

	// List returns up to limit links, newest first.
	List(investigationID string, limit int) ([]*SnapshotEntry, error)

	// Reset drops every link of the investigation's chain.
	Reset(investigationID string) error

	// Close releases the index.
	Close() error
}
