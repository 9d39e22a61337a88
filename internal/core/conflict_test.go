package core

import (
	"strings"
	"testing"
)

func TestDetectFileType(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
		want    bool
	}{
		{"plain ASCII text", []byte("Hello, World!\nThis is a test."), true},
		{"UTF-8 with special chars", []byte("Hello 世界! Ñoño café"), true},
		{"empty file", []byte(""), true},
		{"seeded text", SeedText(3, 1700000000000), true},
		{"null byte", []byte("abc\x00def"), false},
		{"invalid UTF-8", []byte{0xff, 0xfe, 'a', 'b'}, false},
		{"control chars", []byte("\x01\x02\x03\x04\x05abc"), false},
		{"seeded binary", SeedBinary(1), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectFileType(tt.content); got != tt.want {
				t.Errorf("DetectFileType() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCompareFiles(t *testing.T) {
	if !CompareFiles([]byte("same"), []byte("same")) {
		t.Error("Identical content should compare equal")
	}
	if !CompareFiles(nil, []byte{}) {
		t.Error("nil and empty should compare equal")
	}
	if CompareFiles([]byte("a"), []byte("b")) {
		t.Error("Different content should not compare equal")
	}
}

func TestGenerateUnifiedDiff(t *testing.T) {
	locked := []byte("line1\nline2\nline3\n")
	current := []byte("line1\nmodified\nline3\n")

	out := GenerateUnifiedDiff("notes.txt", locked, current)

	if !strings.HasPrefix(out, "--- a/notes.txt.gcm\n+++ b/notes.txt\n") {
		t.Errorf("Missing headers:\n%s", out)
	}
	if !strings.Contains(out, "-line2") {
		t.Errorf("Diff should remove line2:\n%s", out)
	}
	if !strings.Contains(out, "+modified") {
		t.Errorf("Diff should add modified:\n%s", out)
	}
}

func TestGenerateUnifiedDiff_Identical(t *testing.T) {
	if out := GenerateUnifiedDiff("a.txt", []byte("x\n"), []byte("x\n")); out != "" {
		t.Errorf("Expected empty diff, got %q", out)
	}
}

func TestGenerateUnifiedDiff_Binary(t *testing.T) {
	out := GenerateUnifiedDiff("blob_00.bin", SeedBinary(0), SeedBinary(1))
	if out != "Binary file blob_00.bin has changed\n" {
		t.Errorf("Unexpected binary diff: %q", out)
	}
}

func TestParseConflictPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    ConflictPolicy
		wantErr bool
	}{
		{"", ConflictSkip, false},
		{"skip", ConflictSkip, false},
		{"OVERWRITE", ConflictOverwrite, false},
		{"keep-both", ConflictKeepBoth, false},
		{"merge", "", true},
	}

	for _, tt := range tests {
		got, err := ParseConflictPolicy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseConflictPolicy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseConflictPolicy(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestKeepBothNames(t *testing.T) {
	names := keepBothNames("a.txt")
	if len(names) != MaxLockedCopies+1 {
		t.Fatalf("Expected %d names, got %d", MaxLockedCopies+1, len(names))
	}
	if names[0] != "a.txt.from-locked" || names[1] != "a.txt.from-locked.1" || names[MaxLockedCopies] != "a.txt.from-locked.100" {
		t.Errorf("Unexpected names: %s, %s, %s", names[0], names[1], names[MaxLockedCopies])
	}
}
