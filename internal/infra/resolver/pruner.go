package resolver

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// Pruner keeps the total size of the download directory under a limit by
// deleting the least recently modified artifacts first.
type Pruner struct {
	Dir      string
	Ext      string
	MaxBytes int64 // 0 disables pruning
}

type artifact struct {
	path    string
	id      string
	size    int64
	modTime time.Time
}

// Prune deletes artifacts, oldest first, until the directory fits MaxBytes.
// Artifacts whose track ID is in protected are never deleted.
func (p *Pruner) Prune(protected map[string]bool) (removed int, freed int64, err error) {
	if p.MaxBytes <= 0 {
		return 0, 0, nil
	}

	artifacts, total, err := p.scan()
	if err != nil {
		return 0, 0, err
	}
	if total <= p.MaxBytes {
		return 0, 0, nil
	}

	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].modTime.Before(artifacts[j].modTime)
	})

	for _, a := range artifacts {
		if total <= p.MaxBytes {
			break
		}
		if protected[a.id] {
			continue
		}
		if err := os.Remove(a.path); err != nil && !os.IsNotExist(err) {
			zlog.Warn().Msgf("failed to remove artifact: path=%s, error=%v", a.path, err)
			continue
		}
		total -= a.size
		freed += a.size
		removed++
	}

	if total > p.MaxBytes {
		zlog.Warn().Msgf("download cache still over limit: bytes=%d, limit=%d", total, p.MaxBytes)
	}
	return removed, freed, nil
}

func (p *Pruner) scan() ([]artifact, int64, error) {
	entries, err := os.ReadDir(p.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, errors.Wrapf(err, "failed to read download directory: dir=%s", p.Dir)
	}

	suffix := "." + strings.TrimPrefix(p.Ext, ".")
	var (
		artifacts []artifact
		total     int64
	)
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.HasSuffix(entry.Name(), suffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		artifacts = append(artifacts, artifact{
			path:    filepath.Join(p.Dir, entry.Name()),
			id:      strings.TrimSuffix(entry.Name(), suffix),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
		total += info.Size()
	}
	return artifacts, total, nil
}
