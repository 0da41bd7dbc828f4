package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))
}

func TestWalkerSelectsByGlob(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "fin", "b.jsonl"))
	touch(t, filepath.Join(root, "fin", "a.jsonl"))
	touch(t, filepath.Join(root, "fin", "notes.txt"))
	touch(t, filepath.Join(root, "tmp", "skip.jsonl"))
	touch(t, filepath.Join(root, "top.ndjson"))

	files, err := NewWalker(nil, []string{"tmp/"}).Walk(root)
	require.NoError(t, err)

	var rel []string
	for _, f := range files {
		r, err := filepath.Rel(root, f.Path)
		require.NoError(t, err)
		rel = append(rel, filepath.ToSlash(r))
	}
	assert.Equal(t, []string{"fin/a.jsonl", "fin/b.jsonl", "top.ndjson"}, rel)
}

func TestWalkerSingleFile(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "export.json")
	touch(t, path)

	files, err := NewWalker(nil, nil).Walk(path)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, path, files[0].Path)
	assert.Equal(t, int64(3), files[0].Size)
}

func TestWalkerMissingRoot(t *testing.T) {
	_, err := NewWalker(nil, nil).Walk(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
