package cache

import (
	"fmt"
	"os"

	"conclave/internal/playbook"
)

// playbookCacheCapacity bounds the parse cache; long-lived engines loading
// many playbooks evict the least recently used parse first.
const playbookCacheCapacity = 128

// PlaybookCache avoids re-parsing a playbook file that has not changed on
// disk since it was last loaded. The fingerprint is the file's modification
// time and size, and every file the parse read along the way (imported task files,
// role files, vars_files) is recorded as a dependency — editing any of
// them invalidates the cached parse, not just editing the playbook itself.
type PlaybookCache struct {
	store *Store[*playbook.Playbook]
}

// NewPlaybookCache returns a PlaybookCache with no expiry beyond
// fingerprint mismatch — a run's playbook set rarely changes mid-run, so
// there is no need for a wall-clock TTL on top of the mtime checks.
func NewPlaybookCache() *PlaybookCache {
	c := &PlaybookCache{store: New[*playbook.Playbook](0)}
	c.store.SetCapacity(playbookCacheCapacity)
	return c
}

func mtimeFingerprint(path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	return Fingerprint(path), nil
}

// Load returns the cached playbook for path if its mtime+size fingerprint
// and every dependency fingerprint still match, otherwise it calls parse,
// caches the result with the parse's dependency set, and returns it.
func (c *PlaybookCache) Load(path string, parse func(path string) (*playbook.Playbook, error)) (*playbook.Playbook, error) {
	fp, err := mtimeFingerprint(path)
	if err != nil {
		return nil, err
	}
	if pb, ok := c.store.Get(path, fp); ok {
		return pb, nil
	}
	pb, err := parse(path)
	if err != nil {
		return nil, err
	}
	c.store.Put(path, fp, pb, pb.Dependencies...)
	return pb, nil
}

// Invalidate forces the next Load for path to re-parse.
func (c *PlaybookCache) Invalidate(path string) {
	c.store.Invalidate(path)
}
