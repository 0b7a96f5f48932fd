package sync

import (
	"log/slog"

	"github.com/samber/lo"
)

// DiffResult groups compare results by classification.
type DiffResult map[CompareType][]CompareResult

// Len returns the number of classified paths.
func (d DiffResult) Len() int {
	n := 0
	for _, rs := range d {
		n += len(rs)
	}
	return n
}

// Diff classifies every path of old ∪ new exactly once.
//
// New rows are indexed by path into owned slots tagged New; a single pass
// over old rows then retags the matching slot Unchanged (same size and hash)
// or Changed, or appends a Deleted slot when the path is gone. Within one
// input, later rows repeating a path are ignored.
func Diff(oldRows, newRows []HashRow) DiffResult {
	slots := make([]CompareResult, 0, len(newRows)+len(oldRows))
	index := make(map[string]int, len(newRows)+len(oldRows))

	for _, row := range newRows {
		if _, dup := index[row.Path]; dup {
			continue
		}
		n := row
		index[row.Path] = len(slots)
		slots = append(slots, CompareResult{New: &n, Type: CompareNew})
	}

	seenOld := make(map[string]struct{}, len(oldRows))
	for _, row := range oldRows {
		if _, dup := seenOld[row.Path]; dup {
			continue
		}
		seenOld[row.Path] = struct{}{}

		cur := row
		i, ok := index[row.Path]
		if !ok {
			index[row.Path] = len(slots)
			slots = append(slots, CompareResult{Current: &cur, Type: CompareDeleted})
			continue
		}
		slot := &slots[i]
		slot.Current = &cur
		if slot.New.Size == cur.Size && slot.New.Hash == cur.Hash {
			slot.Type = CompareUnchanged
		} else {
			slot.Type = CompareChanged
		}
	}

	grouped := DiffResult(lo.GroupBy(slots, func(r CompareResult) CompareType {
		return r.Type
	}))

	if logEnabled(slog.LevelDebug) {
		sub("diff").Debug("diff computed",
			"old", len(oldRows), "new", len(newRows),
			"new_paths", len(grouped[CompareNew]),
			"changed", len(grouped[CompareChanged]),
			"unchanged", len(grouped[CompareUnchanged]),
			"deleted", len(grouped[CompareDeleted]))
	}
	return grouped
}
