// Package storage persists validated compressed frames to the removable
// medium as sequentially numbered photo files.
package storage

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync/atomic"
)

var (
	// ErrUnavailable means no storage medium was detected at startup.
	// Saving stays disabled for the process lifetime; the rest of the
	// system keeps running.
	ErrUnavailable = errors.New("storage: medium unavailable")
	// ErrIncomplete means fewer bytes reached the medium than requested.
	// Recoverable; the partial file is left on disk for inspection and
	// the photo counter is not advanced.
	ErrIncomplete = errors.New("storage: incomplete write")
)

// Coordinator owns the photo directory, the monotonically increasing
// photo counter, and the saving guard that keeps the preview loop off
// the shared bus while a write is in flight.
type Coordinator struct {
	dir       string
	prefix    string
	available bool

	saving atomic.Bool
	count  atomic.Uint32

	// createFile is swapped by tests to inject short writes.
	createFile func(path string) (io.WriteCloser, error)
}

// New probes the medium and seeds the photo counter from the highest
// numbered existing file. A missing medium is reported once and saves
// fail fast afterwards.
func New(dir, prefix string) *Coordinator {
	c := &Coordinator{
		dir:    dir,
		prefix: prefix,
		createFile: func(path string) (io.WriteCloser, error) {
			return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		},
	}

	if _, err := os.Stat(filepath.Dir(dir)); err != nil {
		log.Printf("[Storage] No medium at %s: %v (saving disabled)", filepath.Dir(dir), err)
		return c
	}
	c.available = true
	c.count.Store(c.scanHighest())
	log.Printf("[Storage] Medium ready, %d existing photos", c.count.Load())
	return c
}

// Available reports whether a medium was detected at startup.
func (c *Coordinator) Available() bool { return c.available }

// Saving reports whether a persist operation is in flight. While true,
// the preview loop must skip capture iterations instead of racing this
// write for the bus.
func (c *Coordinator) Saving() bool { return c.saving.Load() }

// Count returns the photo counter.
func (c *Coordinator) Count() uint32 { return c.count.Load() }

// Save writes payload as the next sequentially numbered photo and
// returns its filename. The saving guard is asserted for the duration of
// the write and never asserted when the medium is absent.
func (c *Coordinator) Save(payload []byte) (string, error) {
	if !c.available {
		return "", ErrUnavailable
	}
	c.saving.Store(true)
	defer c.saving.Store(false)

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", fmt.Errorf("storage: create photo dir: %w", err)
	}

	name := fmt.Sprintf("%s%04d.jpg", c.prefix, c.count.Load()+1)
	path := filepath.Join(c.dir, name)

	f, err := c.createFile(path)
	if err != nil {
		return "", fmt.Errorf("storage: create %s: %w", name, err)
	}
	n, werr := f.Write(payload)
	cerr := f.Close()
	if werr != nil {
		return "", fmt.Errorf("storage: write %s: %w", name, werr)
	}
	if n != len(payload) {
		return "", fmt.Errorf("%w: %d/%d bytes (%s)", ErrIncomplete, n, len(payload), name)
	}
	if cerr != nil {
		return "", fmt.Errorf("storage: close %s: %w", name, cerr)
	}

	c.count.Add(1)
	log.Printf("[Storage] Saved %s (%d bytes)", name, n)
	return name, nil
}

// scanHighest finds the highest photo number already on the medium so
// the counter survives restarts without a sidecar file.
func (c *Coordinator) scanHighest() uint32 {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0
	}
	re := regexp.MustCompile("^" + regexp.QuoteMeta(c.prefix) + `(\d+)\.(?i:jpg)$`)
	var highest uint32
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := re.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		if n, err := strconv.ParseUint(m[1], 10, 32); err == nil && uint32(n) > highest {
			highest = uint32(n)
		}
	}
	return highest
}
