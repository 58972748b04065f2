package safeio

import (
	"os"
	"path/filepath"
	"testing"

	"suggestify/internal/tester"
)

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "state.json")

	tester.NoErr(t, WriteFileAtomic(path, []byte(`{"a":1}`), 0o644))
	b, err := os.ReadFile(path)
	tester.NoErr(t, err)
	tester.Eq(t, string(b), `{"a":1}`)

	// Overwrite replaces the whole content.
	tester.NoErr(t, WriteFileAtomic(path, []byte(`{"a":2}`), 0o644))
	b, err = os.ReadFile(path)
	tester.NoErr(t, err)
	tester.Eq(t, string(b), `{"a":2}`)

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	tester.NoErr(t, err)
	tester.Eq(t, len(entries), 1)
}

func TestWriteFileAtomicEmptyPath(t *testing.T) {
	tester.Err(t, WriteFileAtomic("", nil, 0o644))
}
