package prepare

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// syncDir is where upstream repository mirrors land before merging.
func (p *Pipeline) syncDir() string {
	return filepath.Join(p.cfg.RepoDir, "sync")
}

// distDir is the merged repository for one dist.
func (p *Pipeline) distDir(dist string) string {
	return filepath.Join(p.cfg.RepoDir, dist)
}

// merge rebuilds the per-dist repositories from the synced mirrors and
// the build outputs. Build outputs win over synced packages with the
// same file name, so locally built packages shadow upstream ones.
func (p *Pipeline) merge() error {
	for _, dist := range p.cfg.Dists {
		dest := p.distDir(dist)
		if err := os.RemoveAll(dest); err != nil {
			return fmt.Errorf("failed to reset %s: %w", dest, err)
		}
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return err
		}

		if err := p.mergeTree(p.syncDir(), dist, dest); err != nil {
			return err
		}
		for _, b := range p.cfg.Builds {
			if err := p.mergeTree(b.OutputDir, dist, dest); err != nil {
				return err
			}
		}

		p.log.Info().Str("dist", dist).Str("dir", dest).Msg("merged repository")
	}
	return nil
}

// mergeTree links every package file under root that belongs to dist
// into dest. A file belongs to a dist when the dist name appears in its
// path, or when the tree carries no dist markers at all.
func (p *Pipeline) mergeTree(root, dist, dest string) error {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isPackageFile(path) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if hasDistMarker(rel, p.cfg.Dists) && !pathHasDist(rel, dist) {
			return nil
		}
		return linkOrCopy(path, filepath.Join(dest, filepath.Base(path)))
	})
}

func isPackageFile(path string) bool {
	return strings.HasSuffix(path, ".rpm")
}

// hasDistMarker reports whether any known dist name appears as a path
// element of rel.
func hasDistMarker(rel string, dists []string) bool {
	for _, dist := range dists {
		if pathHasDist(rel, dist) {
			return true
		}
	}
	return false
}

func pathHasDist(rel, dist string) bool {
	for _, elem := range strings.Split(rel, string(filepath.Separator)) {
		if strings.Contains(elem, dist) {
			return true
		}
	}
	return false
}

// linkOrCopy hardlinks src to dst, falling back to a copy across
// filesystems. An existing dst is replaced.
func linkOrCopy(src, dst string) error {
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Link(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
