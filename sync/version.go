package sync

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ParseVersionToken parses a raw token of the form $<hashname>$<version>$<hash>.
// Multi-part types carry several version segments which are joined with dots.
func ParseVersionToken(raw string) (VersionResult, error) {
	parts := strings.Split(raw, "$")
	if len(parts) < 4 || parts[0] != "" {
		return VersionResult{}, fmt.Errorf("%w: %q", ErrMalformedToken, raw)
	}
	parts = parts[1:]

	vt, ok := VersionTypeFromHashName(parts[0])
	if !ok {
		return VersionResult{}, fmt.Errorf("%w: %q", ErrUnknownVersionType, parts[0])
	}

	if vt.MultiPart() {
		return VersionResult{
			Type:    vt,
			Version: strings.Join(parts[1:len(parts)-1], "."),
			Hash:    parts[len(parts)-1],
			Raw:     raw,
		}, nil
	}
	return VersionResult{Type: vt, Version: parts[1], Hash: parts[2], Raw: raw}, nil
}

// ParseVersionTokens parses every token starting with "$". Tokens that fail
// to parse are skipped; their errors are joined into the returned error.
func ParseVersionTokens(tokens []string) ([]VersionResult, error) {
	var (
		results []VersionResult
		errs    []error
	)
	for _, tok := range tokens {
		if !strings.HasPrefix(tok, "$") {
			continue
		}
		res, err := ParseVersionToken(tok)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// CompareVersions compares two dot-separated version strings component-wise
// as integers. A version that is a strict prefix of the other is smaller.
func CompareVersions(a, b string) (int, error) {
	pa, err := versionParts(a)
	if err != nil {
		return 0, err
	}
	pb, err := versionParts(b)
	if err != nil {
		return 0, err
	}
	for i := 0; i < len(pa) && i < len(pb); i++ {
		switch {
		case pa[i] < pb[i]:
			return -1, nil
		case pa[i] > pb[i]:
			return 1, nil
		}
	}
	switch {
	case len(pa) < len(pb):
		return -1, nil
	case len(pa) > len(pb):
		return 1, nil
	}
	return 0, nil
}

// IsNewerVersion reports whether candidate is newer than current. An empty
// current version is older than anything.
func IsNewerVersion(candidate, current string) (bool, error) {
	if current == "" {
		return true, nil
	}
	cmp, err := CompareVersions(candidate, current)
	if err != nil {
		return false, err
	}
	return cmp > 0, nil
}

func versionParts(v string) ([]int, error) {
	fields := strings.Split(strings.TrimSpace(v), ".")
	parts := make([]int, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("parse version %q: %w", v, err)
		}
		parts[i] = n
	}
	return parts, nil
}
