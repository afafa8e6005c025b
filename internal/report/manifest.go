package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/helix-io/helix/internal/objectstore"
)

// ErrIncompleteRun is returned for a run whose parts exist but whose writer
// never finished, e.g. because the prune failed half way.
var ErrIncompleteRun = errors.New("report: run is incomplete")

// Manifest marks a finished run. It is written last, so a run without one
// must not be trusted.
type Manifest struct {
	Timestamp string    `yaml:"timestamp"`
	Records   int64     `yaml:"records"`
	Parts     int       `yaml:"parts"`
	Codec     Codec     `yaml:"codec"`
	Finished  time.Time `yaml:"finished"`
}

// ManifestName returns the file name of the manifest of run ts.
func ManifestName(ts string) string {
	return RunPrefix(ts) + "manifest.yaml"
}

var manifestPattern = regexp.MustCompile(`^variant_prune_report\.(\d{14})\.manifest\.yaml$`)

// ParseManifestName returns the run timestamp of a manifest file name.
func ParseManifestName(name string) (string, bool) {
	m := manifestPattern.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func putManifest(ctx context.Context, store objectstore.Store, key string, m Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("report: encode manifest: %w", err)
	}
	if err := store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), "application/yaml"); err != nil {
		return fmt.Errorf("report: write %s: %w", key, err)
	}
	return nil
}

// Manifest returns the manifest of run ts.
func (r *Reader) Manifest(ctx context.Context, ts string) (Manifest, error) {
	key := r.loc.Join(ManifestName(ts))
	rc, err := r.store.Get(ctx, key)
	if errors.Is(err, objectstore.ErrNotFound) {
		if _, perr := r.Parts(ctx, ts); perr != nil {
			return Manifest{}, perr
		}
		return Manifest{}, fmt.Errorf("%w: %s at %s", ErrIncompleteRun, ts, r.loc)
	}
	if err != nil {
		return Manifest{}, fmt.Errorf("report: open %s: %w", key, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return Manifest{}, fmt.Errorf("report: read %s: %w", key, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("report: decode %s: %w", key, err)
	}
	return m, nil
}
