package trust

import (
	_ "crypto/sha256"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"github.com/distribution/reference"
	"github.com/opencontainers/go-digest"
	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-osint/internal/utils"
)

//go:embed default_images.yaml
var defaultManifest []byte

type manifestFile struct {
	Images map[string]string `yaml:"images"`
}

// Store maps tool identifiers to digest-pinned image references. It is
// populated once and read-only afterwards, so it is safe for concurrent use.
type Store struct {
	images map[string]string
}

// Load reads a trust manifest from path. An empty path loads the embedded default manifest.
func Load(path string) (*Store, error) {
	data := defaultManifest
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("trust manifest %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read trust manifest: %w", err)
		}
		data = raw
	}
	return Parse(data)
}

// Parse builds a Store from manifest bytes. Any reference lacking a valid
// sha256 digest rejects the whole manifest.
func Parse(data []byte) (*Store, error) {
	var file manifestFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse trust manifest: %w", err)
	}
	return New(file.Images)
}

// New builds a Store from an in-memory mapping.
func New(images map[string]string) (*Store, error) {
	store := &Store{images: make(map[string]string, len(images))}
	for id, ref := range images {
		if id == "" {
			return nil, fmt.Errorf("trust manifest: empty tool id")
		}
		canonical, err := pinned(ref)
		if err != nil {
			return nil, fmt.Errorf("trust manifest entry %q: %w", id, err)
		}
		store.images[id] = canonical
	}
	return store, nil
}

// Lookup returns the pinned reference for a tool.
func (s *Store) Lookup(toolID string) (string, bool) {
	if s == nil {
		return "", false
	}
	ref, ok := s.images[toolID]
	return ref, ok
}

// Verify checks that ref is exactly the pinned reference for toolID.
func (s *Store) Verify(toolID, ref string) error {
	if ref == "" {
		return fmt.Errorf("%w: tool %s has no image reference", utils.ErrUntrustedImage, toolID)
	}
	canonical, err := pinned(ref)
	if err != nil {
		return fmt.Errorf("%w: %v", utils.ErrUntrustedImage, err)
	}
	expected, ok := s.Lookup(toolID)
	if !ok {
		return fmt.Errorf("%w: tool %s is not in the trust store", utils.ErrUntrustedImage, toolID)
	}
	if canonical != expected {
		return fmt.Errorf("%w: %s does not match pinned image for %s", utils.ErrUntrustedImage, ref, toolID)
	}
	return nil
}

// Len returns the number of pinned images.
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	return len(s.images)
}

// IDs returns the trusted tool identifiers in sorted order.
func (s *Store) IDs() []string {
	if s == nil {
		return nil
	}
	ids := make([]string, 0, len(s.images))
	for id := range s.images {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// pinned parses ref and returns its normalized form when it carries a valid sha256 digest.
func pinned(ref string) (string, error) {
	named, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return "", fmt.Errorf("invalid image reference %q: %w", ref, err)
	}
	canonical, ok := named.(reference.Canonical)
	if !ok {
		return "", fmt.Errorf("image reference %q is not pinned by digest", ref)
	}
	dgst := canonical.Digest()
	if err := dgst.Validate(); err != nil {
		return "", fmt.Errorf("image reference %q: %w", ref, err)
	}
	if dgst.Algorithm() != digest.SHA256 {
		return "", fmt.Errorf("image reference %q: digest algorithm %s not allowed", ref, dgst.Algorithm())
	}
	return named.String(), nil
}
