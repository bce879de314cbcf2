// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import "fmt"

// FetchError wraps a failure while ingesting a single tracker target.
// It is scoped to that target; other targets in the same run continue.
type FetchError struct {
	Target string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Target, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// SnapshotError indicates that one of the external snapshots (library or
// download client) could not be built. Reconciling without a true snapshot
// risks duplicate downloads, so this aborts the whole download run.
type SnapshotError struct {
	Source string
	Err    error
}

func (e *SnapshotError) Error() string {
	return fmt.Sprintf("snapshot %s: %v", e.Source, e.Err)
}

func (e *SnapshotError) Unwrap() error { return e.Err }

// StorageError wraps pool database failures. Always fatal to the run; no
// state beyond the last committed transaction can be assumed.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// DispatchError records a per-candidate add failure. Never fatal to the
// run; it is persisted on the candidate and surfaced in the summary.
type DispatchError struct {
	TorrentID int64
	Permanent bool
	Err       error
}

func (e *DispatchError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("dispatch torrent %d (%s): %v", e.TorrentID, kind, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }
