package plugins

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	// ManifestFile marks a directory as a plugin.
	ManifestFile = "plugin.hcl"
	// maxSourceBytes bounds a single plugin source file.
	maxSourceBytes = 256 << 10
)

// Source is the raw content of one plugin directory.
type Source struct {
	Dir string
	// Files maps file name to content. ManifestFile is always present.
	Files map[string][]byte
	// Fingerprint is the sha256 over every file name and content, in name order.
	Fingerprint string
	// Err is set when the directory could not be loaded. The scanner rejects
	// such a source without parsing it.
	Err error
}

// FileNames returns the source file names with the manifest first and the rest sorted.
func (s Source) FileNames() []string {
	names := make([]string, 0, len(s.Files))
	for name := range s.Files {
		if name != ManifestFile {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return append([]string{ManifestFile}, names...)
}

// Discover finds plugin directories (<dir>/*/plugin.hcl) under each root.
// Missing roots are skipped. Results are ordered by root, then directory name.
// A directory that cannot be loaded is returned with Err set so it is rejected
// on its own.
func Discover(roots []string) ([]Source, error) {
	var out []Source
	seen := make(map[string]struct{})
	for _, root := range roots {
		root = expandHome(root)
		if root == "" {
			continue
		}
		entries, err := os.ReadDir(root)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("read plugin dir %s: %w", root, err)
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			dir, err := filepath.Abs(filepath.Join(root, entry.Name()))
			if err != nil {
				return nil, err
			}
			if _, dup := seen[dir]; dup {
				continue
			}
			if _, err := os.Stat(filepath.Join(dir, ManifestFile)); err != nil {
				continue
			}
			seen[dir] = struct{}{}
			src, err := LoadSource(dir)
			if err != nil {
				src = Source{Dir: dir, Err: err}
			}
			out = append(out, src)
		}
	}
	return out, nil
}

// LoadSource reads every *.hcl file in dir and fingerprints them.
func LoadSource(dir string) (Source, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.hcl"))
	if err != nil {
		return Source{}, err
	}
	src := Source{Dir: dir, Files: make(map[string][]byte, len(matches))}
	for _, path := range matches {
		info, err := os.Lstat(path)
		if err != nil {
			return Source{}, fmt.Errorf("stat plugin file: %w", err)
		}
		if !info.Mode().IsRegular() {
			return Source{}, fmt.Errorf("plugin file %s is not a regular file", path)
		}
		if info.Size() > maxSourceBytes {
			return Source{}, fmt.Errorf("plugin file %s exceeds %d bytes", path, maxSourceBytes)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return Source{}, fmt.Errorf("read plugin file: %w", err)
		}
		src.Files[filepath.Base(path)] = data
	}
	if _, ok := src.Files[ManifestFile]; !ok {
		return Source{}, fmt.Errorf("%s: missing %s", dir, ManifestFile)
	}
	src.Fingerprint = fingerprint(src.Files)
	return src, nil
}

func fingerprint(files map[string][]byte) string {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	h := sha256.New()
	for _, name := range names {
		h.Write([]byte(name))
		h.Write([]byte{0})
		h.Write(files[name])
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func expandHome(path string) string {
	path = strings.TrimSpace(path)
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
