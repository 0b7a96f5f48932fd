package sync

import "fmt"

// Stage is one step of a version-type pass.
type Stage int

const (
	StageCheckVersion Stage = iota + 1
	StageFetchManifest
	StageDiff
	StageApply
	StagePersist
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageCheckVersion:
		return "CheckVersion"
	case StageFetchManifest:
		return "FetchManifest"
	case StageDiff:
		return "Diff"
	case StageApply:
		return "Apply"
	case StagePersist:
		return "Persist"
	case StageDone:
		return "Done"
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// PassStatus is the outcome of one pass.
type PassStatus string

const (
	StatusUpdated  PassStatus = "updated"  // results were persisted
	StatusUpToDate PassStatus = "upToDate" // local version already current
	StatusSkipped  PassStatus = "skipped"  // nothing to do for this source
	StatusFailed   PassStatus = "failed"   // the pass aborted before Persist
)

// Pass sources recorded in the journal.
const (
	SourceUpdate         = "update"
	SourceRepairHashfile = "repair-hashfile"
	SourceRepair         = "repair"
	SourceImport         = "import"
)

// PassReport summarizes one pass over a version type.
type PassReport struct {
	Type           VersionType
	Version        string
	Previous       string
	Source         string
	Status         PassStatus
	Stage          Stage // last stage entered
	Results        []UpdateResult
	DiffLogWritten bool
	LatestAdvanced bool
	Err            error
}

// Counts tallies results by download outcome.
func (r *PassReport) Counts() map[DownloadType]int {
	counts := make(map[DownloadType]int)
	if r == nil {
		return counts
	}
	for _, res := range r.Results {
		counts[res.Download]++
	}
	return counts
}

// RetainedRows computes the manifest to persist after an apply: the new row
// for Success and NoChange, the current row for ForDeletionNoChange and for
// Failed when one exists. Removed results and results without a retained row
// are dropped.
func RetainedRows(results []UpdateResult) []HashRow {
	rows := make([]HashRow, 0, len(results))
	for _, r := range results {
		var row *HashRow
		switch r.Download {
		case DownloadSuccess, DownloadNoChange:
			row = r.Compare.New
		case DownloadForDeletionNoChange, DownloadFailed:
			row = r.Compare.Current
		}
		if row == nil {
			if r.Download != DownloadRemoved && r.Download != DownloadFailed {
				sub("state").Warn("result without retained row", "path", r.Path.Inner, "download", r.Download)
			}
			continue
		}
		rows = append(rows, *row)
	}
	return rows
}
