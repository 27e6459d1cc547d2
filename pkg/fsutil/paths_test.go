package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeFolder(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "spaces", input: "Run A", expected: "Run_A"},
		{name: "no change", input: "Raw_Data", expected: "Raw_Data"},
		{name: "separators", input: "a/b\\c", expected: "a_b_c"},
		{name: "empty", input: "", expected: ""},
		{name: "dot dot", input: "..", expected: ""},
		{name: "trimmed", input: "  QC Filtered  ", expected: "QC_Filtered"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeFolder(tt.input))
		})
	}
}

func TestDestinationPath(t *testing.T) {
	root := t.TempDir()

	assert.Equal(t, filepath.Join(root, "Run_A", "sample.fastq.gz"), DestinationPath(root, "Run A", "sample.fastq.gz"))
	assert.Equal(t, filepath.Join(root, "sample.fastq.gz"), DestinationPath(root, "", "sample.fastq.gz"))
	assert.Equal(t, filepath.Join(root, "Run_A", "passwd"), DestinationPath(root, "Run A", "../../etc/passwd"))
}

func TestFileName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "plain", input: "sample.fastq.gz", expected: "sample.fastq.gz"},
		{name: "nested", input: "a/b/reads.txt", expected: "reads.txt"},
		{name: "escaping", input: "../../etc/passwd", expected: "passwd"},
		{name: "dots in name", input: "...", expected: "..."},
		{name: "empty", input: "", expected: ""},
		{name: "blank", input: "  ", expected: ""},
		{name: "current directory", input: ".", expected: ""},
		{name: "parent directory", input: "..", expected: ""},
		{name: "climbs to root", input: "../..", expected: ""},
		{name: "separator only", input: "/", expected: ""},
		{name: "trailing separator", input: "reads/", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FileName(tt.input))
		})
	}
}

func TestRemoveIfExists_Directory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "Run_A")
	require.NoError(t, os.MkdirAll(dir, DirModeDefault))

	removed, err := RemoveIfExists(dir)
	require.Error(t, err)
	assert.False(t, removed)
	assert.DirExists(t, dir)
	assert.False(t, IsRegularFile(dir))
}

func TestMoveAndRemove(t *testing.T) {
	tempDir := t.TempDir()
	src := filepath.Join(tempDir, "dl-1.tmp")
	dst := filepath.Join(tempDir, "nested", "sample.fastq.gz")

	require.NoError(t, os.WriteFile(src, []byte("reads"), FileModeDefault))
	require.NoError(t, Move(src, dst))

	assert.False(t, IsRegularFile(src))
	assert.True(t, IsRegularFile(dst))
	content, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "reads", string(content))

	removed, err := RemoveIfExists(dst)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = RemoveIfExists(dst)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestMove_EmptyPaths(t *testing.T) {
	assert.Error(t, Move("", "x"))
	assert.Error(t, Move("x", ""))
}
