// Package merge implements the reconciliation of a local record collection
// against the shared snapshot.
//
// The rules, in precedence order:
//
//  1. A record with a pending local change takes the local version outright,
//     or is omitted entirely if the pending operation is a delete. Pending
//     intent always overrides the shared copy; this is what keeps a stale
//     shared snapshot from clobbering an unsynced local edit.
//  2. Otherwise last-write-wins by UpdatedAt. Equal timestamps prefer the
//     shared copy, an arbitrary but deterministic choice.
//  3. A record present on only one side is carried through untouched.
//
// Merging is a pure function and runs identically for every record
// collection the system tracks, parameterized only by which pending-change
// table applies.
package merge

import (
	"sort"

	"github.com/mkrause/deskpad/internal/schema"
)

// Records reconciles one record collection. pending maps record ID to the
// pending local change for that record in this collection's table (no entry
// means no unsynced local intent). The result is sorted by record ID so
// repeated merges of the same inputs produce byte-identical snapshots.
func Records[T schema.Record](local, shared []T, pending map[string]schema.PendingChange) []T {
	localByID := make(map[string]T, len(local))
	for _, r := range local {
		localByID[r.RecordID()] = r
	}
	sharedByID := make(map[string]T, len(shared))
	for _, r := range shared {
		sharedByID[r.RecordID()] = r
	}

	ids := make(map[string]bool, len(localByID)+len(sharedByID))
	for id := range localByID {
		ids[id] = true
	}
	for id := range sharedByID {
		ids[id] = true
	}

	var out []T
	for id := range ids {
		lr, haveLocal := localByID[id]
		sr, haveShared := sharedByID[id]

		if change, ok := pending[id]; ok {
			if change.Operation == schema.OpDelete {
				continue
			}
			if haveLocal {
				out = append(out, lr)
				continue
			}
			// Pending intent without a local record: the record was created
			// and then removed locally before it ever synced. Omit it.
			continue
		}

		switch {
		case haveLocal && haveShared:
			if lr.ModifiedAt() > sr.ModifiedAt() {
				out = append(out, lr)
			} else {
				out = append(out, sr)
			}
		case haveLocal:
			out = append(out, lr)
		default:
			out = append(out, sr)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].RecordID() < out[j].RecordID()
	})
	return out
}
