package browser

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// DefaultIgnore lists profile entries never copied into a clone: lock and
// singleton markers that would make Chrome refuse to start next to the
// source session, and caches that are large and rebuilt anyway.
var DefaultIgnore = []string{"Singleton*", "lockfile", "*Cache*", "*Code Cache*", "*ShaderCache*"}

// CopyProfile copies the profile tree src into dst, skipping every entry
// whose base name matches one of ignore. Entries that vanish during the walk
// are skipped: the source may belong to a running browser.
func CopyProfile(src, dst string, ignore []string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("source profile: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source profile %s is not a directory", src)
	}
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel != "." && ignored(d.Name(), ignore) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o700)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return skipVanished(err)
			}
			return os.Symlink(link, target)
		case d.Type().IsRegular():
			return skipVanished(copyFile(path, target))
		}
		return nil
	})
}

func ignored(name string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm()|0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}

func skipVanished(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
