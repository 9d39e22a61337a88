package core

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const (
	BinarySampleSize   = 8192 // Bytes to sample for text/binary detection
	BinaryThresholdPct = 10   // Max % non-printable chars for text files
	MaxLockedCopies    = 100  // Max numbered .from-locked.N copies
	KeepBothSuffix     = ".from-locked"
)

var ErrTargetExists = errors.New("target already exists")

// ConflictPolicy decides what happens when the output name of a file is
// already taken
type ConflictPolicy string

const (
	ConflictSkip      ConflictPolicy = "skip"      // leave both, report a conflict
	ConflictOverwrite ConflictPolicy = "overwrite" // replace the existing file
	ConflictKeepBoth  ConflictPolicy = "keep-both" // unlock only: write <name>.from-locked
)

// ParseConflictPolicy parses a policy name; empty means skip
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch p := ConflictPolicy(strings.ToLower(s)); p {
	case "":
		return ConflictSkip, nil
	case ConflictSkip, ConflictOverwrite, ConflictKeepBoth:
		return p, nil
	default:
		return "", fmt.Errorf("unknown conflict policy %q (want skip, overwrite or keep-both)", s)
	}
}

// DetectFileType determines if content is likely text.
//
// Detection heuristic (in order):
//  1. Null bytes present → binary
//  2. Invalid UTF-8 → binary
//  3. >10% non-printable control chars → binary
func DetectFileType(data []byte) bool {
	if len(data) == 0 {
		return true
	}

	if bytes.IndexByte(data, 0) != -1 {
		return false
	}

	sample := data[:min(len(data), BinarySampleSize)]

	if !utf8.Valid(sample) {
		return false
	}

	nonPrintable := 0
	for _, b := range sample {
		if b < 32 && b != '\t' && b != '\n' && b != '\r' {
			nonPrintable++
		}
		if b == 127 {
			nonPrintable++
		}
	}

	return nonPrintable <= len(sample)*BinaryThresholdPct/100
}

// CompareFiles reports whether two contents are identical (SHA-256)
func CompareFiles(a, b []byte) bool {
	ha := sha256.Sum256(a)
	hb := sha256.Sum256(b)
	return ha == hb
}

// GenerateUnifiedDiff renders the change from locked to current content of
// name. Returns "" when they are identical.
func GenerateUnifiedDiff(name string, locked, current []byte) string {
	if CompareFiles(locked, current) {
		return ""
	}

	if !DetectFileType(locked) || !DetectFileType(current) {
		return fmt.Sprintf("Binary file %s has changed\n", name)
	}

	dmp := diffmatchpatch.New()

	lockedStr, currentStr := string(locked), string(current)
	a, b, lineArray := dmp.DiffLinesToChars(lockedStr, currentStr)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	patches := dmp.PatchMake(lockedStr, diffs)
	if len(patches) == 0 {
		return ""
	}

	var out strings.Builder
	fmt.Fprintf(&out, "--- a/%s%s\n", name, LockedSuffix)
	fmt.Fprintf(&out, "+++ b/%s\n", name)
	out.WriteString(dmp.PatchToText(patches))

	return out.String()
}

// keepBothNames yields <name>.from-locked, then .from-locked.1 up to MaxLockedCopies
func keepBothNames(name string) []string {
	names := make([]string, 0, MaxLockedCopies+1)
	names = append(names, name+KeepBothSuffix)
	for i := 1; i <= MaxLockedCopies; i++ {
		names = append(names, fmt.Sprintf("%s%s.%d", name, KeepBothSuffix, i))
	}
	return names
}
