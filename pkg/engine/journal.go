package engine

import (
	"slices"

	"github.com/jwebster45206/situation-engine/pkg/situation"
)

// EntryKind classifies journal entries
type EntryKind string

const (
	EntrySpawned      EntryKind = "spawned"
	EntryDiscovered   EntryKind = "discovered"
	EntryClueFound    EntryKind = "clue_found"
	EntryClueAdded    EntryKind = "clue_added"
	EntryResolvable   EntryKind = "resolvable"
	EntryResolved     EntryKind = "resolved"
	EntryDeclined     EntryKind = "declined"
	EntryExpired      EntryKind = "expired"
	EntryAbandoned    EntryKind = "abandoned"
	EntryApplied      EntryKind = "consequence_applied"
	EntryDropped      EntryKind = "consequence_dropped"
	EntryFailed       EntryKind = "consequence_failed"
	EntryCascadeLimit EntryKind = "cascade_depth_exceeded"
	EntryCancelled    EntryKind = "consequence_cancelled"
	EntryNotice       EntryKind = "notice"
)

// JournalEntry is one user-visible fact. Expired and abandoned situations
// always produce an entry.
type JournalEntry struct {
	Seq         uint64         `json:"seq"`
	Time        situation.Time `json:"time"`
	Kind        EntryKind      `json:"kind"`
	SituationID string         `json:"situation_id,omitempty"`
	SeedID      string         `json:"seed_id,omitempty"`
	Text        string         `json:"text"`
}

// Notifier receives journal entries as they are written
type Notifier interface {
	Notify(entry JournalEntry)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(JournalEntry)

func (f NotifierFunc) Notify(entry JournalEntry) { f(entry) }

// Journal is a bounded, append-only log of entries
type Journal struct {
	limit   int
	seq     uint64
	entries []JournalEntry
}

func NewJournal(limit int) *Journal {
	return &Journal{limit: limit}
}

func (j *Journal) append(e JournalEntry) JournalEntry {
	j.seq++
	e.Seq = j.seq
	j.entries = append(j.entries, e)
	if j.limit > 0 && len(j.entries) > j.limit {
		j.entries = slices.Delete(j.entries, 0, len(j.entries)-j.limit)
	}
	return e
}

// Entries returns a copy of the retained entries, oldest first
func (j *Journal) Entries() []JournalEntry {
	return slices.Clone(j.entries)
}

// Since returns retained entries with a sequence number above seq
func (j *Journal) Since(seq uint64) []JournalEntry {
	i, _ := slices.BinarySearchFunc(j.entries, seq+1, func(e JournalEntry, target uint64) int {
		switch {
		case e.Seq < target:
			return -1
		case e.Seq > target:
			return 1
		}
		return 0
	})
	return slices.Clone(j.entries[i:])
}

// Seq is the sequence number of the newest entry
func (j *Journal) Seq() uint64 {
	return j.seq
}
