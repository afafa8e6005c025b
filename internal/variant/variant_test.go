package variant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVariantString(t *testing.T) {
	tests := []struct {
		v    Variant
		want string
	}{
		{New("1", 100, "A", "T"), "1:100:A:T"},
		{New("2", 200, "", "C"), "2:200:-:C"},
		{New("X", 5, "G", "-"), "X:5:G:-"},
		{New("HLA-A*01:01", 12, "A", "<DEL>"), "HLA-A*01:01:12:A:<DEL>"},
		{New("2", 321681, "G", "G]17:198982]"), "2:321681:G:G]17%3A198982]"},
		{New("13", 123456, "C", "[13:123457[C"), "13:123456:C:[13%3A123457[C"},
		{New("HLA-A*01:01", 7, "A", "A]HLA-A*01:01:9]"), "HLA-A*01:01:7:A:A]HLA-A*01%3A01%3A9]"},
		{New("4", 9, "A", "<CN%3A>"), "4:9:A:<CN%253A>"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.v.String())

			parsed, err := Parse(tt.want)
			require.NoError(t, err)
			assert.Equal(t, tt.v, parsed)
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, s := range []string{"", "1:100:A", ":100:A:T", "1:abc:A:T", "1:100::T", "1:100:A:", "1:99999999999:A:T"} {
		t.Run(s, func(t *testing.T) {
			_, err := Parse(s)
			assert.ErrorIs(t, err, ErrInvalidVariant)
		})
	}
}

func TestVariantKeyRoundTrip(t *testing.T) {
	for _, v := range []Variant{
		New("1", 100, "A", "T"),
		New("chrX", 1, "", "AC"),
		New("GL000192.1", 9999, "T", "<INS:ME>"),
		New("2", 321681, "G", "G]17:198982]"),
	} {
		got, err := FromKey(v.Key())
		require.NoError(t, err)
		assert.Equal(t, v, got)

		queued, err := FromPendingDeletionKey(v.PendingDeletionKey())
		require.NoError(t, err)
		assert.Equal(t, v, queued)
	}

	_, err := FromKey("/helix/v1/studies/0000000001")
	assert.ErrorIs(t, err, ErrInvalidVariant)
}

func TestParseColumn(t *testing.T) {
	tests := []struct {
		name  string
		study int
		kind  ColumnKind
		id    int
	}{
		{SampleColumn(1, 12), 1, KindSample, 12},
		{FileColumn(3, 4), 3, KindFile, 4},
		{StatsColumn(2, 0), 2, KindStats, 0},
		{ScoreColumn(2, 7), 2, KindScore, 7},
		{StudyColumn(9), 9, KindStudy, 0},
		{IndexNotSyncColumn, -1, KindFlag, 0},
		{"_IDX_U", -1, KindFlag, 0},
		{"garbage", -1, KindUnknown, 0},
		{"x_1_S", -1, KindUnknown, 0},
		{"1_y_F", -1, KindUnknown, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ParseColumn(tt.name)
			assert.Equal(t, tt.study, c.StudyID)
			assert.Equal(t, tt.kind, c.Kind)
			assert.Equal(t, tt.id, c.ID)
		})
	}

	assert.True(t, ParseColumn(SampleColumn(1, 1)).IsGenotypeEvidence())
	assert.True(t, ParseColumn(FileColumn(1, 1)).IsGenotypeEvidence())
	assert.False(t, ParseColumn(StatsColumn(1, 1)).IsGenotypeEvidence())
	assert.False(t, ParseColumn(IndexNotSyncColumn).IsGenotypeEvidence())
}

func TestRowStudiesAndFilter(t *testing.T) {
	row := NewRow(New("1", 100, "A", "T"))
	row.Set(SampleColumn(2, 1), []byte("0/1"))
	row.Set(FileColumn(2, 1), []byte("PASS"))
	require.NoError(t, row.SetStats(2, 0, StatsSummary{FileCount: 1}))
	require.NoError(t, row.SetStats(1, 0, StatsSummary{FileCount: 0}))
	row.Set(IndexNotSyncColumn, []byte{1})

	assert.Equal(t, []int{1, 2}, row.Studies())
	assert.Equal(t, []string{"2_0_CS", "2_1_F", "2_1_S"}, row.StudyColumns(2))

	filtered := row.Filter([]int{1})
	assert.Equal(t, []int{1}, filtered.Studies())
	assert.False(t, filtered.HasColumn(IndexNotSyncColumn))
	assert.Len(t, row.Columns, 5, "filter must not modify the source row")

	s, ok, err := row.Stats(2, 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, s.FileCount)

	_, ok, err = row.Stats(3, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRowStats_Corrupt(t *testing.T) {
	row := NewRow(New("1", 1, "A", "C"))
	row.Set(StatsColumn(1, 0), []byte{0xc1})
	_, _, err := row.Stats(1, 0)
	assert.Error(t, err)
}

func TestEncodeColumns(t *testing.T) {
	columns := map[string][]byte{
		SampleColumn(1, 1): []byte("0/1"),
		StudyColumn(1):     {},
	}
	data, err := EncodeColumns(columns)
	require.NoError(t, err)

	decoded, err := DecodeColumns(data)
	require.NoError(t, err)
	assert.Equal(t, []byte("0/1"), decoded[SampleColumn(1, 1)])
	assert.Contains(t, decoded, StudyColumn(1))

	empty, err := DecodeColumns(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
