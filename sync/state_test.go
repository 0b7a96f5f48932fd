package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetainedRows(t *testing.T) {
	cur := &HashRow{Path: "p", Size: 1, Hash: "cur"}
	next := &HashRow{Path: "p", Size: 2, Hash: "new"}

	tests := []struct {
		name     string
		result   UpdateResult
		expected []HashRow
	}{
		{"success keeps new", UpdateResult{Compare: CompareResult{Current: cur, New: next, Type: CompareChanged}, Download: DownloadSuccess}, []HashRow{*next}},
		{"nochange keeps new", UpdateResult{Compare: CompareResult{Current: cur, New: next, Type: CompareUnchanged}, Download: DownloadNoChange}, []HashRow{*next}},
		{"failed change keeps current", UpdateResult{Compare: CompareResult{Current: cur, New: next, Type: CompareChanged}, Download: DownloadFailed}, []HashRow{*cur}},
		{"failed new drops row", UpdateResult{Compare: CompareResult{New: next, Type: CompareNew}, Download: DownloadFailed}, []HashRow{}},
		{"deferred deletion keeps current", UpdateResult{Compare: CompareResult{Current: cur, Type: CompareDeleted}, Download: DownloadForDeletionNoChange}, []HashRow{*cur}},
		{"removed drops row", UpdateResult{Compare: CompareResult{Current: cur, Type: CompareDeleted}, Download: DownloadRemoved}, []HashRow{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, RetainedRows([]UpdateResult{tt.result}))
		})
	}
}

func TestPassReport_Counts(t *testing.T) {
	r := &PassReport{Results: []UpdateResult{
		{Download: DownloadSuccess}, {Download: DownloadSuccess}, {Download: DownloadFailed},
	}}
	assert.Equal(t, map[DownloadType]int{DownloadSuccess: 2, DownloadFailed: 1}, r.Counts())

	var none *PassReport
	assert.Empty(t, none.Counts())
}

func TestStage_String(t *testing.T) {
	assert.Equal(t, "FetchManifest", StageFetchManifest.String())
	assert.Equal(t, "Stage(42)", Stage(42).String())
}
