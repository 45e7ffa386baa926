package resolver

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeArtifact(t *testing.T, dir, name string, size int, age time.Duration) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	mtime := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestPruner_Prune(t *testing.T) {
	tests := []struct {
		name        string
		maxBytes    int64
		protected   map[string]bool
		wantRemoved int
		wantLeft    []string
	}{
		{
			name:        "under limit",
			maxBytes:    1000,
			wantRemoved: 0,
			wantLeft:    []string{"new.opus", "old.opus", "older.opus", "notes.txt"},
		},
		{
			name:        "oldest first",
			maxBytes:    250,
			wantRemoved: 1,
			wantLeft:    []string{"new.opus", "old.opus", "notes.txt"},
		},
		{
			name:        "protected skipped",
			maxBytes:    150,
			protected:   map[string]bool{"older": true},
			wantRemoved: 2,
			wantLeft:    []string{"older.opus", "notes.txt"},
		},
		{
			name:        "disabled",
			maxBytes:    0,
			wantRemoved: 0,
			wantLeft:    []string{"new.opus", "old.opus", "older.opus", "notes.txt"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeArtifact(t, dir, "older.opus", 100, 3*time.Hour)
			writeArtifact(t, dir, "old.opus", 100, 2*time.Hour)
			writeArtifact(t, dir, "new.opus", 100, time.Hour)
			writeArtifact(t, dir, "notes.txt", 5000, 4*time.Hour)

			p := &Pruner{Dir: dir, Ext: "opus", MaxBytes: tt.maxBytes}
			removed, freed, err := p.Prune(tt.protected)
			require.NoError(t, err)
			assert.Equal(t, tt.wantRemoved, removed)
			assert.Equal(t, int64(tt.wantRemoved*100), freed)

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			var left []string
			for _, e := range entries {
				left = append(left, e.Name())
			}
			assert.ElementsMatch(t, tt.wantLeft, left)
		})
	}
}

func TestPruner_MissingDir(t *testing.T) {
	p := &Pruner{Dir: filepath.Join(t.TempDir(), "missing"), Ext: "opus", MaxBytes: 1}
	removed, _, err := p.Prune(nil)
	require.NoError(t, err)
	assert.Zero(t, removed)
}
