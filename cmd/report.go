package cmd

import (
	"fmt"
	"io"
	"sort"

	"github.com/disiqueira/gotree/v3"
	"github.com/dustin/go-humanize"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	azsync "github.com/ghyeongl/azlassets/sync"
)

// maxListedFailures caps the failed paths printed per pass.
const maxListedFailures = 10

var numbers = message.NewPrinter(language.English)

// renderReports draws one tree node per pass with its outcome counts.
func renderReports(rootLabel string, reports []*azsync.PassReport) string {
	tree := gotree.New(rootLabel)
	for _, r := range reports {
		node := tree.Add(passLabel(r))
		if r.Err != nil {
			node.Add("error: " + r.Err.Error())
		}
		if len(r.Results) == 0 {
			continue
		}

		counts := r.Counts()
		var written uint64
		var failed []string
		for _, res := range r.Results {
			switch res.Download {
			case azsync.DownloadSuccess:
				if res.Compare.New != nil {
					written += uint64(res.Compare.New.Size)
				}
			case azsync.DownloadFailed:
				failed = append(failed, res.Path.Inner)
			}
		}

		node.Add(numbers.Sprintf("success %d (%s)", counts[azsync.DownloadSuccess], humanize.Bytes(written)))
		node.Add(numbers.Sprintf("unchanged %d", counts[azsync.DownloadNoChange]))
		if n := counts[azsync.DownloadRemoved]; n > 0 {
			node.Add(numbers.Sprintf("removed %d", n))
		}
		if n := counts[azsync.DownloadForDeletionNoChange]; n > 0 {
			node.Add(numbers.Sprintf("kept %d", n))
		}
		if len(failed) > 0 {
			sort.Strings(failed)
			fnode := node.Add(numbers.Sprintf("failed %d", len(failed)))
			for i, p := range failed {
				if i == maxListedFailures {
					fnode.Add(numbers.Sprintf("... %d more", len(failed)-maxListedFailures))
					break
				}
				fnode.Add(p)
			}
		}
		if r.DiffLogWritten {
			node.Add("difflog written")
		}
	}
	return tree.Print()
}

func passLabel(r *azsync.PassReport) string {
	label := r.Type.Name + " " + r.Version
	if r.Previous != "" && r.Previous != r.Version {
		label = fmt.Sprintf("%s %s -> %s", r.Type.Name, r.Previous, r.Version)
	}
	return fmt.Sprintf("%s [%s, %s]", label, r.Status, r.Source)
}

// printRecentErrors lists the errors logged during the run, newest first.
func printRecentErrors(w io.Writer) {
	entries := azsync.RecentErrors()
	if len(entries) == 0 {
		return
	}
	fmt.Fprintf(w, "recent errors:\n")
	for _, e := range entries {
		fmt.Fprintf(w, "  %s [%s] %s %s\n", e.Time.Format("15:04:05"), e.Comp, e.Message, e.Error)
	}
}

func anyFailed(reports []*azsync.PassReport) bool {
	for _, r := range reports {
		if r.Status == azsync.StatusFailed || r.Counts()[azsync.DownloadFailed] > 0 {
			return true
		}
	}
	return false
}
