package rangecdf

import (
	"testing"

	"github.com/mhr3/streamvbyte"
	"github.com/stretchr/testify/assert"
)

func TestPackTableLoadRoundTrip(t *testing.T) {
	assert := assert.New(t)
	const rows, rowLen, precision = 17, 48, 12
	q := mustQuantizer(t, precision)

	cdf, err := q.Quantize(nil, genPMF(rows*rowLen, 3), rowLen)
	assert.NoError(err)

	buf, err := PackTable(nil, cdf, rowLen, precision)
	assert.NoError(err)
	assert.Less(len(buf), 4*len(cdf), "packed table should be smaller than the raw CDF")

	table := NewTable()
	assert.NoError(table.Load(buf))
	assert.True(table.IsLoaded())
	assert.Equal(rows, table.Rows())
	assert.Equal(rowLen, table.RowLen())
	assert.Equal(precision, table.Precision())
	assert.Equal(q.Normalizer(), table.Normalizer())

	outRow := rowLen + 1
	for r := 0; r < rows; r++ {
		row, err := table.Row(r)
		assert.NoError(err)
		assert.Equal(cdf[r*outRow:(r+1)*outRow], row, "row %d mismatch", r)
	}
}

func TestPackTableAppendsToDst(t *testing.T) {
	assert := assert.New(t)
	q := mustQuantizer(t, 4)
	cdf, err := q.Quantize(nil, []float32{0.5, 0.5}, 2)
	assert.NoError(err)

	prefix := []byte{0xAA, 0xBB, 0xCC}
	buf, err := PackTable(prefix, cdf, 2, 4)
	assert.NoError(err)
	assert.Equal(prefix, buf[:3], "existing dst contents must be preserved")

	table := NewTable()
	assert.NoError(table.Load(buf[3:]))
	row, err := table.Row(0)
	assert.NoError(err)
	assert.Equal(cdf, row)
}

func TestPackTableRejectsBadInput(t *testing.T) {
	assert := assert.New(t)

	_, err := PackTable(nil, []uint32{0, 1, 2}, 2, 0)
	assert.ErrorIs(err, ErrInvalidPrecision)

	_, err = PackTable(nil, []uint32{0, 2}, 1, 4)
	assert.ErrorIs(err, ErrInvalidTable, "row length below 2")

	_, err = PackTable(nil, []uint32{0, 1, 2, 16}, 2, 4)
	assert.ErrorIs(err, ErrInvalidTable, "cdf length not a multiple of rowLen+1")

	_, err = PackTable(nil, []uint32{1, 2, 16}, 2, 4)
	assert.ErrorIs(err, ErrInvalidTable, "row not starting at 0")

	_, err = PackTable(nil, []uint32{0, 2, 15}, 2, 4)
	assert.ErrorIs(err, ErrInvalidTable, "row not ending at the normalizer")

	_, err = PackTable(nil, []uint32{0, 16, 16}, 2, 4)
	assert.ErrorIs(err, ErrInvalidTable, "row not strictly increasing")
}

func TestTableLoadRejectsMalformedBuffers(t *testing.T) {
	assert := assert.New(t)

	table := NewTable()
	assert.ErrorIs(table.Load(nil), ErrInvalidTable, "empty buffer")
	assert.ErrorIs(table.Load(make([]byte, tableHeaderBytes-1)), ErrInvalidTable, "short header")

	q := mustQuantizer(t, 8)
	cdf, err := q.Quantize(nil, genPMF(4*16, 5), 16)
	assert.NoError(err)
	buf, err := PackTable(nil, cdf, 16, 8)
	assert.NoError(err)

	truncated := buf[:len(buf)-1]
	assert.ErrorIs(table.Load(truncated), ErrInvalidTable, "truncated payload")

	badPrecision := append([]byte(nil), buf...)
	badPrecision[2] = 0 // precision bits live in byte 2
	assert.ErrorIs(table.Load(badPrecision), ErrInvalidTable, "precision 0 in header")

	noRows := append([]byte(nil), buf...)
	noRows[4], noRows[5], noRows[6], noRows[7] = 0, 0, 0, 0
	assert.ErrorIs(table.Load(noRows), ErrInvalidTable, "zero row count")
}

func TestTableLoadRejectsBadFrequencySums(t *testing.T) {
	assert := assert.New(t)

	// Hand-roll a block whose frequencies sum to 8 instead of the declared
	// normalizer 16; PackTable refuses to produce such a block, so this can
	// only arrive from a corrupted or hostile buffer.
	pack := func(freqs []uint32, rowLen, precision, rows int) []byte {
		scratch := make([]byte, streamvbyte.MaxEncodedLen(len(freqs)))
		svb := streamvbyte.EncodeUint32(freqs, &streamvbyte.EncodeOptions[uint32]{Buffer: scratch})
		buf := make([]byte, tableHeaderBytes, tableHeaderBytes+len(svb))
		bo.PutUint32(buf, uint32(rowLen)|uint32(precision)<<tablePrecisionShift)
		bo.PutUint32(buf[4:], uint32(rows))
		bo.PutUint32(buf[8:], uint32(len(svb)))
		return append(buf, svb...)
	}

	table := NewTable()
	assert.ErrorIs(table.Load(pack([]uint32{3, 5}, 2, 4, 1)), ErrInvalidTable, "sum below normalizer")
	assert.ErrorIs(table.Load(pack([]uint32{3, 17}, 2, 4, 1)), ErrInvalidTable, "sum above normalizer")
	assert.ErrorIs(table.Load(pack([]uint32{0, 16}, 2, 4, 1)), ErrInvalidTable, "zero frequency")
	assert.False(table.IsLoaded(), "failed loads must not mark the table loaded")
}

func TestTableRowErrors(t *testing.T) {
	assert := assert.New(t)

	table := NewTable()
	_, err := table.Row(0)
	assert.ErrorIs(err, ErrNotLoaded)

	q := mustQuantizer(t, 4)
	cdf, err := q.Quantize(nil, []float32{0.5, 0.5}, 2)
	assert.NoError(err)
	buf, err := PackTable(nil, cdf, 2, 4)
	assert.NoError(err)
	assert.NoError(table.Load(buf))

	_, err = table.Row(-1)
	assert.ErrorIs(err, ErrRowOutOfRange)
	_, err = table.Row(1)
	assert.ErrorIs(err, ErrRowOutOfRange)
}

func TestTableFindInvertsTheCDF(t *testing.T) {
	assert := assert.New(t)
	const rows, rowLen, precision = 3, 9, 7
	q := mustQuantizer(t, precision)

	cdf, err := q.Quantize(nil, genPMF(rows*rowLen, 8), rowLen)
	assert.NoError(err)
	buf, err := PackTable(nil, cdf, rowLen, precision)
	assert.NoError(err)

	table := NewTable()
	assert.NoError(table.Load(buf))

	for r := 0; r < rows; r++ {
		row, err := table.Row(r)
		assert.NoError(err)
		for s := 0; s < rowLen; s++ {
			// Both ends of the symbol's interval must map back to it.
			got, err := table.Find(r, row[s])
			assert.NoError(err)
			assert.Equal(s, got, "row %d low edge of symbol %d", r, s)

			got, err = table.Find(r, row[s+1]-1)
			assert.NoError(err)
			assert.Equal(s, got, "row %d high edge of symbol %d", r, s)
		}
	}

	_, err = table.Find(0, table.Normalizer())
	assert.ErrorIs(err, ErrValueOutOfRange)
	_, err = table.Find(rows, 0)
	assert.ErrorIs(err, ErrRowOutOfRange)
}

func TestTableFailedReloadPreservesContents(t *testing.T) {
	assert := assert.New(t)

	good := []uint32{
		0, 8, 16,
		0, 4, 16,
	}
	buf, err := PackTable(nil, good, 2, 4)
	assert.NoError(err)

	table := NewTable()
	assert.NoError(table.Load(buf))

	// A hostile block whose first row decodes cleanly but whose second row
	// sums to 8 instead of 16. The first row's frequencies differ from the
	// loaded table's, so any premature write into the reused buffer would
	// show through Row after the failed reload.
	freqs := []uint32{1, 15, 3, 5}
	scratch := make([]byte, streamvbyte.MaxEncodedLen(len(freqs)))
	svb := streamvbyte.EncodeUint32(freqs, &streamvbyte.EncodeOptions[uint32]{Buffer: scratch})
	bad := make([]byte, tableHeaderBytes, tableHeaderBytes+len(svb))
	bo.PutUint32(bad, uint32(2)|uint32(4)<<tablePrecisionShift)
	bo.PutUint32(bad[4:], 2)
	bo.PutUint32(bad[8:], uint32(len(svb)))
	bad = append(bad, svb...)

	assert.ErrorIs(table.Load(bad), ErrInvalidTable)
	assert.True(table.IsLoaded(), "failed reload must not unload the table")
	assert.Equal(2, table.Rows())

	row0, err := table.Row(0)
	assert.NoError(err)
	assert.Equal(good[0:3], row0, "failed reload must not disturb row 0")
	row1, err := table.Row(1)
	assert.NoError(err)
	assert.Equal(good[3:6], row1, "failed reload must not disturb row 1")
}

func TestTableLoadReusesDecodedBuffer(t *testing.T) {
	assert := assert.New(t)
	q := mustQuantizer(t, 6)

	cdfA, err := q.Quantize(nil, []float32{0.7, 0.2, 0.1}, 3)
	assert.NoError(err)
	cdfB, err := q.Quantize(nil, []float32{0.1, 0.2, 0.7}, 3)
	assert.NoError(err)

	bufA, err := PackTable(nil, cdfA, 3, 6)
	assert.NoError(err)
	bufB, err := PackTable(nil, cdfB, 3, 6)
	assert.NoError(err)

	table := NewTable()
	assert.NoError(table.Load(bufA))
	first, err := table.Row(0)
	assert.NoError(err)
	base := &first[0]

	assert.NoError(table.Load(bufB))
	second, err := table.Row(0)
	assert.NoError(err)
	assert.Equal(base, &second[0], "reload of same shape should reuse the decoded buffer")
	assert.Equal(cdfB, second)
}
