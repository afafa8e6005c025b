// Package keys provides key encoding/decoding for the Helix keyspace.
// Keys use zero-padded numeric encoding for lexicographic ordering.
//
// Variant rows are stored at
//
//	/helix/v1/variants/<chrom>/<posZ>/<ref>/<alt>
//
// where posZ is the zero-padded decimal position of width 10 and every other
// segment is path escaped. Empty alleles are encoded as "-".
package keys

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Key component widths for zero-padded encoding.
const (
	// PositionWidth is the number of digits for zero-padded genomic positions.
	PositionWidth = 10

	// IDWidth is the number of digits for zero-padded study ids.
	IDWidth = 10
)

// MaxPosition is the largest position representable in a variant key.
const MaxPosition = 9999999999

// Key prefixes.
const (
	// Prefix is the root prefix for all Helix keys.
	Prefix = "/helix/v1"

	// VariantsPrefix is the prefix for variant rows.
	// Format: /helix/v1/variants/<chrom>/<posZ>/<ref>/<alt>
	VariantsPrefix = Prefix + "/variants"

	// ChromosomesPrefix is the prefix for the chromosome registry.
	// Format: /helix/v1/chromosomes/<chrom>
	ChromosomesPrefix = Prefix + "/chromosomes"

	// StudiesPrefix is the prefix for study records.
	// Format: /helix/v1/studies/<studyIdZ>
	StudiesPrefix = Prefix + "/studies"

	// TasksPrefix is the prefix for operation task records.
	// Format: /helix/v1/tasks/<studyIdZ>/<operation>
	TasksPrefix = Prefix + "/tasks"

	// PendingDeletionPrefix is the prefix for the search index pending deletion queue.
	// Format: /helix/v1/index/pending-deletion/<chrom>/<posZ>/<ref>/<alt>
	PendingDeletionPrefix = Prefix + "/index/pending-deletion"
)

// Bounds for escaped segments. PathEscape never emits a byte below '!' or above '~'.
const (
	minSegment = "!"
	maxSegment = "~"
)

// ErrInvalidKey is returned when a key cannot be parsed.
var ErrInvalidKey = errors.New("keys: invalid key format")

// EncodeUint64 encodes a uint64 as a zero-padded decimal string of the given width.
func EncodeUint64(v uint64, width int) string {
	return fmt.Sprintf("%0*d", width, v)
}

// DecodeUint64 decodes a zero-padded decimal string into a uint64.
func DecodeUint64(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return v, nil
}

// EncodeSegment path-escapes a free-form key segment. The empty string is
// encoded as "-".
func EncodeSegment(s string) string {
	if s == "" || s == "-" {
		return "-"
	}
	return url.PathEscape(s)
}

// DecodeSegment reverses EncodeSegment.
func DecodeSegment(s string) (string, error) {
	if s == "-" {
		return "", nil
	}
	v, err := url.PathUnescape(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return v, nil
}

// VariantKey holds the parsed components of a variant row key.
type VariantKey struct {
	Chromosome string
	Position   uint64
	Reference  string
	Alternate  string
}

func variantPath(prefix, chrom string, pos uint64, ref, alt string) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", prefix, EncodeSegment(chrom), EncodeUint64(pos, PositionWidth), EncodeSegment(ref), EncodeSegment(alt))
}

func parseVariantPath(prefix, key string) (VariantKey, error) {
	if !strings.HasPrefix(key, prefix+"/") {
		return VariantKey{}, ErrInvalidKey
	}
	parts := strings.Split(strings.TrimPrefix(key, prefix+"/"), "/")
	if len(parts) != 4 {
		return VariantKey{}, ErrInvalidKey
	}
	chrom, err := DecodeSegment(parts[0])
	if err != nil || chrom == "" {
		return VariantKey{}, ErrInvalidKey
	}
	if len(parts[1]) != PositionWidth {
		return VariantKey{}, ErrInvalidKey
	}
	pos, err := DecodeUint64(parts[1])
	if err != nil {
		return VariantKey{}, err
	}
	ref, err := DecodeSegment(parts[2])
	if err != nil {
		return VariantKey{}, err
	}
	alt, err := DecodeSegment(parts[3])
	if err != nil {
		return VariantKey{}, err
	}
	return VariantKey{Chromosome: chrom, Position: pos, Reference: ref, Alternate: alt}, nil
}

// VariantKeyPath returns the row key for a variant.
func VariantKeyPath(chrom string, pos uint64, ref, alt string) string {
	return variantPath(VariantsPrefix, chrom, pos, ref, alt)
}

// ParseVariantKey parses a row key produced by VariantKeyPath.
func ParseVariantKey(key string) (VariantKey, error) {
	return parseVariantPath(VariantsPrefix, key)
}

// VariantRangeStart returns the inclusive lower bound of all rows of a
// chromosome at or after pos. The bound has the same segment count as a row key.
func VariantRangeStart(chrom string, pos uint64) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", VariantsPrefix, EncodeSegment(chrom), EncodeUint64(pos, PositionWidth), minSegment, minSegment)
}

// VariantRangeEnd returns the exclusive upper bound of all rows of a chromosome.
func VariantRangeEnd(chrom string) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", VariantsPrefix, EncodeSegment(chrom), EncodeUint64(MaxPosition, PositionWidth), maxSegment, maxSegment)
}

// ChromosomeKeyPath returns the registry key for a chromosome.
func ChromosomeKeyPath(chrom string) string {
	return fmt.Sprintf("%s/%s", ChromosomesPrefix, EncodeSegment(chrom))
}

// ChromosomesListPrefix returns the prefix for listing all registered chromosomes.
func ChromosomesListPrefix() string {
	return ChromosomesPrefix + "/"
}

// ParseChromosomeKey extracts the chromosome name from a registry key.
func ParseChromosomeKey(key string) (string, error) {
	if !strings.HasPrefix(key, ChromosomesPrefix+"/") {
		return "", ErrInvalidKey
	}
	seg := strings.TrimPrefix(key, ChromosomesPrefix+"/")
	if seg == "" || strings.Contains(seg, "/") {
		return "", ErrInvalidKey
	}
	return DecodeSegment(seg)
}

// StudyKeyPath returns the key for a study record.
func StudyKeyPath(studyID int) string {
	return fmt.Sprintf("%s/%s", StudiesPrefix, EncodeUint64(uint64(studyID), IDWidth))
}

// StudiesListPrefix returns the prefix for listing all studies.
func StudiesListPrefix() string {
	return StudiesPrefix + "/"
}

// TaskKeyPath returns the key for the task record of an operation on a study.
func TaskKeyPath(studyID int, operation string) string {
	return fmt.Sprintf("%s/%s/%s", TasksPrefix, EncodeUint64(uint64(studyID), IDWidth), EncodeSegment(operation))
}

// TaskStudyPrefix returns the prefix for listing all task records of a study.
func TaskStudyPrefix(studyID int) string {
	return fmt.Sprintf("%s/%s/", TasksPrefix, EncodeUint64(uint64(studyID), IDWidth))
}

// PendingDeletionKeyPath returns the queue key for a variant awaiting search index removal.
func PendingDeletionKeyPath(chrom string, pos uint64, ref, alt string) string {
	return variantPath(PendingDeletionPrefix, chrom, pos, ref, alt)
}

// ParsePendingDeletionKey parses a queue key produced by PendingDeletionKeyPath.
func ParsePendingDeletionKey(key string) (VariantKey, error) {
	return parseVariantPath(PendingDeletionPrefix, key)
}

// PendingDeletionStart returns the inclusive lower bound of the pending deletion queue.
func PendingDeletionStart() string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", PendingDeletionPrefix, minSegment, EncodeUint64(0, PositionWidth), minSegment, minSegment)
}

// PendingDeletionEnd returns the exclusive upper bound of the pending deletion queue.
func PendingDeletionEnd() string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", PendingDeletionPrefix, maxSegment, EncodeUint64(MaxPosition, PositionWidth), maxSegment, maxSegment)
}

// After returns the smallest key strictly greater than key, for paginating
// range scans.
func After(key string) string {
	return key + "\x00"
}
