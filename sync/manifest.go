package sync

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/maruel/natural"
)

// normalizePath converts backslashes to forward slashes.
func normalizePath(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// ParseHashRows parses manifest text: one "path,size,hash" row per line,
// blank lines ignored. Rows must be path-unique.
func ParseHashRows(text string) ([]HashRow, error) {
	var rows []HashRow
	seen := make(map[string]struct{})
	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) != 3 {
			return nil, fmt.Errorf("line %d: expected 3 fields, got %d", i+1, len(fields))
		}
		size, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: size: %w", i+1, err)
		}
		path := normalizePath(fields[0])
		if _, dup := seen[path]; dup {
			return nil, fmt.Errorf("line %d: duplicate path %q", i+1, path)
		}
		seen[path] = struct{}{}
		rows = append(rows, HashRow{Path: path, Size: size, Hash: fields[2]})
	}
	return rows, nil
}

// FormatHashRows renders rows in manifest format. Rows are written in natural
// path order so repeated saves of the same set produce identical files.
func FormatHashRows(rows []HashRow) string {
	sorted := make([]HashRow, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool {
		return natural.Less(sorted[i].Path, sorted[j].Path)
	})

	var b strings.Builder
	for i, r := range sorted {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(r.String())
	}
	return b.String()
}
