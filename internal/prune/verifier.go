package prune

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/helix-io/helix/internal/logging"
	"github.com/helix-io/helix/internal/metrics"
	"github.com/helix-io/helix/internal/report"
	"github.com/helix-io/helix/internal/variant"
	"github.com/helix-io/helix/internal/variantstore"
)

// DefaultCheckLimit bounds the number of report records a verification checks.
const DefaultCheckLimit = 1_000_000

// ErrVerificationFailed is returned when a sampled report record disagrees
// with the live row.
var ErrVerificationFailed = errors.New("prune: dry-run verification failed")

// Stride returns how many records are skipped after each checked record so
// that a report of count records is checked in at most limit+1 samples spread
// over the whole report. Zero means every record is checked.
func Stride(count, limit int64) int64 {
	if limit <= 0 || count <= limit {
		return 0
	}
	return count / limit
}

// sampled reports whether record i is checked for the given stride.
func sampled(i, stride int64) bool {
	return i%(stride+1) == 0
}

// Violation is a report record contradicted by the store.
type Violation struct {
	Record report.Record
	// Column is the offending column, if any.
	Column string
	Reason string
}

func (v *Violation) Error() string {
	if v.Column != "" {
		return fmt.Sprintf("%s %s %v: %s: column %s", v.Record.Variant, v.Record.Type, v.Record.Studies, v.Reason, v.Column)
	}
	return fmt.Sprintf("%s %s %v: %s", v.Record.Variant, v.Record.Type, v.Record.Studies, v.Reason)
}

// VerifierConfig configures a Verifier.
type VerifierConfig struct {
	// Limit is the check limit. Default: DefaultCheckLimit
	Limit int64

	// Workers is the number of concurrent checkers. Default: 8
	Workers int

	// BatchSize is the number of records handed to a checker at once. Default: 500
	BatchSize int
}

// DefaultVerifierConfig returns a default configuration.
func DefaultVerifierConfig() VerifierConfig {
	return VerifierConfig{Limit: DefaultCheckLimit, Workers: 8, BatchSize: 500}
}

// VerifyResult summarizes a verification.
type VerifyResult struct {
	Records    int64
	Stride     int64
	Checked    int64
	Violations int64
	// Studies are the studies named by violating records, ascending.
	Studies []int
}

// Verifier checks a dry-run report against the rows it describes.
type Verifier struct {
	store   variantstore.Reader
	reports *report.Reader
	config  VerifierConfig
	metrics *metrics.PruneMetrics
}

// NewVerifier creates a Verifier reading rows from store and reports from reports.
func NewVerifier(store variantstore.Reader, reports *report.Reader, config VerifierConfig) *Verifier {
	if config.Limit <= 0 {
		config.Limit = DefaultCheckLimit
	}
	if config.Workers <= 0 {
		config.Workers = 8
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 500
	}
	return &Verifier{store: store, reports: reports, config: config}
}

// WithMetrics enables metrics recording.
func (v *Verifier) WithMetrics(m *metrics.PruneMetrics) *Verifier {
	v.metrics = m
	return v
}

// Verify samples report run ts. Violations found by any checker are
// aggregated into one error wrapping ErrVerificationFailed.
func (v *Verifier) Verify(ctx context.Context, ts string) (VerifyResult, error) {
	logger := logging.FromCtx(ctx)
	start := time.Now()

	count, err := v.reports.Count(ctx, ts)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("prune: count report records: %w", err)
	}
	res := VerifyResult{Records: count, Stride: Stride(count, v.config.Limit)}
	logger.Infof("verifying dry-run report", map[string]any{
		"records": count,
		"stride":  res.Stride,
		"limit":   v.config.Limit,
	})

	var (
		checked    atomic.Int64
		mu         sync.Mutex
		violations *multierror.Error
		offending  = make(map[int]struct{})
	)

	g, gctx := errgroup.WithContext(ctx)
	batches := make(chan []report.Record)

	g.Go(func() error {
		defer close(batches)
		var i int64
		batch := make([]report.Record, 0, v.config.BatchSize)
		send := func() error {
			if len(batch) == 0 {
				return nil
			}
			select {
			case batches <- batch:
				batch = make([]report.Record, 0, v.config.BatchSize)
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		err := v.reports.Each(gctx, ts, func(rec report.Record) error {
			defer func() { i++ }()
			if !sampled(i, res.Stride) {
				return nil
			}
			batch = append(batch, rec)
			if len(batch) >= v.config.BatchSize {
				return send()
			}
			return nil
		})
		if err != nil {
			return err
		}
		return send()
	})

	for w := 0; w < v.config.Workers; w++ {
		g.Go(func() error {
			for batch := range batches {
				for _, rec := range batch {
					violation, err := v.check(gctx, rec)
					if err != nil {
						return err
					}
					checked.Add(1)
					if violation != nil {
						mu.Lock()
						violations = multierror.Append(violations, violation)
						for _, id := range violation.Record.Studies {
							offending[id] = struct{}{}
						}
						mu.Unlock()
					}
				}
			}
			return nil
		})
	}

	err = g.Wait()
	res.Checked = checked.Load()
	if violations != nil {
		res.Violations = int64(violations.Len())
	}
	for id := range offending {
		res.Studies = append(res.Studies, id)
	}
	sort.Ints(res.Studies)
	if v.metrics != nil {
		v.metrics.RecordVerification(res.Checked, res.Violations)
	}
	if err != nil {
		return res, fmt.Errorf("prune: verify report %s: %w", ts, err)
	}

	fields := map[string]any{
		"checked":    res.Checked,
		"violations": res.Violations,
		"durationMs": time.Since(start).Milliseconds(),
	}
	if res.Violations > 0 {
		logger.Errorf("dry-run report contradicts the variant table", fields)
		return res, fmt.Errorf("%w: %d of %d checked records: %w", ErrVerificationFailed, res.Violations, res.Checked, violations)
	}
	logger.Infof("dry-run report verified", fields)
	return res, nil
}

// check re-reads the row of rec. FULL rows are read whole and PARTIAL rows
// only for the claimed studies; either way no genotype evidence may remain.
func (v *Verifier) check(ctx context.Context, rec report.Record) (*Violation, error) {
	var filter []int
	if rec.Type == report.Partial {
		filter = rec.Studies
	}
	row, ok, err := v.store.Get(ctx, rec.Variant, filter)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", rec.Variant, err)
	}
	if !ok {
		return &Violation{Record: rec, Reason: "row not found"}, nil
	}
	if row.Variant != rec.Variant {
		return &Violation{Record: rec, Reason: "row key decodes to " + row.Variant.String()}, nil
	}

	names := make([]string, 0, len(row.Columns))
	for name := range row.Columns {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if variant.ParseColumn(name).IsGenotypeEvidence() {
			return &Violation{Record: rec, Column: name, Reason: "genotype evidence left for an emptied study"}, nil
		}
	}
	return nil, nil
}
