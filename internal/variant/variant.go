// Package variant defines the identity of a genomic variant, the layout of a
// variant row's columns, and the encoding of rows in the key-value store.
package variant

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/helix-io/helix/internal/metadata/keys"
)

// ErrInvalidVariant is returned when a variant string or key cannot be parsed.
var ErrInvalidVariant = errors.New("variant: invalid variant")

// EmptyAllele is the canonical rendering of an empty reference or alternate.
const EmptyAllele = "-"

// Variant identifies a row by position and alleles.
type Variant struct {
	Chromosome string
	Position   uint64
	Reference  string
	Alternate  string
}

// New returns a variant with normalized alleles.
func New(chrom string, pos uint64, ref, alt string) Variant {
	return Variant{
		Chromosome: chrom,
		Position:   pos,
		Reference:  normalizeAllele(ref),
		Alternate:  normalizeAllele(alt),
	}
}

func normalizeAllele(a string) string {
	if a == EmptyAllele {
		return ""
	}
	return a
}

// Alleles may hold ':' (breakends such as G]17:198982]), so the canonical
// form percent-encodes it along with '%' itself.
var (
	alleleEscaper   = strings.NewReplacer("%", "%25", ":", "%3A")
	alleleUnescaper = strings.NewReplacer("%25", "%", "%3A", ":", "%3a", ":")
)

func renderAllele(a string) string {
	if a == "" {
		return EmptyAllele
	}
	return alleleEscaper.Replace(a)
}

// String returns the canonical form chrom:pos:ref:alt, with ':' and '%' in
// the alleles written as %3A and %25.
func (v Variant) String() string {
	return v.Chromosome + ":" + strconv.FormatUint(v.Position, 10) + ":" + renderAllele(v.Reference) + ":" + renderAllele(v.Alternate)
}

// Validate checks that the variant can be stored.
func (v Variant) Validate() error {
	if v.Chromosome == "" {
		return fmt.Errorf("%w: empty chromosome", ErrInvalidVariant)
	}
	if v.Position > keys.MaxPosition {
		return fmt.Errorf("%w: position %d out of range", ErrInvalidVariant, v.Position)
	}
	return nil
}

// Key returns the row key of the variant.
func (v Variant) Key() string {
	return keys.VariantKeyPath(v.Chromosome, v.Position, v.Reference, v.Alternate)
}

// PendingDeletionKey returns the key of the variant's pending deletion queue entry.
func (v Variant) PendingDeletionKey() string {
	return keys.PendingDeletionKeyPath(v.Chromosome, v.Position, v.Reference, v.Alternate)
}

// FromKey decodes a row key back into a variant.
func FromKey(key string) (Variant, error) {
	k, err := keys.ParseVariantKey(key)
	if err != nil {
		return Variant{}, fmt.Errorf("%w: key %q: %v", ErrInvalidVariant, key, err)
	}
	return fromKeyParts(k), nil
}

// FromPendingDeletionKey decodes a pending deletion queue key into a variant.
func FromPendingDeletionKey(key string) (Variant, error) {
	k, err := keys.ParsePendingDeletionKey(key)
	if err != nil {
		return Variant{}, fmt.Errorf("%w: key %q: %v", ErrInvalidVariant, key, err)
	}
	return fromKeyParts(k), nil
}

func fromKeyParts(k keys.VariantKey) Variant {
	return New(k.Chromosome, k.Position, k.Reference, k.Alternate)
}

// Parse parses the canonical form chrom:pos:ref:alt and decodes escaped
// alleles. The chromosome may itself contain ':' since the last three
// separators delimit the other fields.
func Parse(s string) (Variant, error) {
	fields := make([]string, 0, 4)
	rest := s
	for i := 0; i < 3; i++ {
		idx := strings.LastIndexByte(rest, ':')
		if idx < 0 {
			return Variant{}, fmt.Errorf("%w: %q", ErrInvalidVariant, s)
		}
		fields = append(fields, rest[idx+1:])
		rest = rest[:idx]
	}
	if rest == "" {
		return Variant{}, fmt.Errorf("%w: %q: empty chromosome", ErrInvalidVariant, s)
	}
	pos, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		return Variant{}, fmt.Errorf("%w: %q: bad position", ErrInvalidVariant, s)
	}
	if fields[1] == "" || fields[0] == "" {
		return Variant{}, fmt.Errorf("%w: %q: empty allele", ErrInvalidVariant, s)
	}
	v := New(rest, pos, alleleUnescaper.Replace(fields[1]), alleleUnescaper.Replace(fields[0]))
	if err := v.Validate(); err != nil {
		return Variant{}, err
	}
	return v, nil
}
