package rangecdf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"slices"

	"github.com/mhr3/streamvbyte"
)

// Table block layout (little-endian):
//
//	Bytes 0-3:  header word (bits 0-15 row length, bits 16-20 precision)
//	Bytes 4-7:  row count
//	Bytes 8-11: StreamVByte payload length in bytes
//	Bytes 12+:  StreamVByte-encoded per-symbol frequencies, row-major
//
// Frequencies (the CDF first differences) are stored instead of the CDF
// itself: they are small, never zero, and compress well; the CDF is rebuilt
// by prefix sum on load.
const (
	tableHeaderBytes    = 12
	tableRowLenMask     = 0xFFFF
	tablePrecisionShift = 16
	tablePrecisionMask  = 0x1F

	// MaxTableRowLen is the largest row length a table block can describe.
	MaxTableRowLen = tableRowLenMask
)

var bo = binary.LittleEndian

// ErrInvalidTable is returned when a table buffer is too small, malformed, or
// describes frequency rows that do not sum to the normalizer.
var ErrInvalidTable = errors.New("rangecdf: invalid table buffer")

// ErrNotLoaded is returned when Table operations are called before Load().
var ErrNotLoaded = errors.New("rangecdf: table not loaded")

// ErrRowOutOfRange is returned when accessing a row index beyond the table.
var ErrRowOutOfRange = errors.New("rangecdf: row out of range")

// ErrValueOutOfRange is returned when a cumulative frequency lookup falls
// outside [0, normalizer).
var ErrValueOutOfRange = errors.New("rangecdf: cumulative frequency out of range")

// PackTable appends a compact serialization of quantized CDF rows to dst and
// returns the extended slice, reusing dst's backing array when capacity
// allows. cdf must be row-major rows x (rowLen+1), with every row starting at
// 0, strictly increasing, and ending at 1<<precision: the exact shape Quantize
// produces for the same precision.
func PackTable(dst []byte, cdf []uint32, rowLen, precision int) ([]byte, error) {
	if precision < MinPrecision || precision > MaxPrecision {
		return nil, fmt.Errorf("%w: precision must be in [%d, %d], got %d",
			ErrInvalidPrecision, MinPrecision, MaxPrecision, precision)
	}
	if rowLen < 2 || rowLen > MaxTableRowLen {
		return nil, fmt.Errorf("%w: row length %d out of range [2, %d]",
			ErrInvalidTable, rowLen, MaxTableRowLen)
	}
	outRow := rowLen + 1
	if len(cdf) == 0 || len(cdf)%outRow != 0 {
		return nil, fmt.Errorf("%w: cdf length %d is not a positive multiple of %d",
			ErrInvalidTable, len(cdf), outRow)
	}
	rows := len(cdf) / outRow
	normalizer := uint32(1) << precision

	freqs := make([]uint32, rows*rowLen)
	for r := 0; r < rows; r++ {
		row := cdf[r*outRow : (r+1)*outRow]
		if row[0] != 0 || row[rowLen] != normalizer {
			return nil, fmt.Errorf("%w: row %d must start at 0 and end at %d",
				ErrInvalidTable, r, normalizer)
		}
		for i := 0; i < rowLen; i++ {
			if row[i+1] <= row[i] {
				return nil, fmt.Errorf("%w: row %d is not strictly increasing at symbol %d",
					ErrInvalidTable, r, i)
			}
			freqs[r*rowLen+i] = row[i+1] - row[i]
		}
	}

	start := len(dst)
	maxTotal := tableHeaderBytes + streamvbyte.MaxEncodedLen(len(freqs))
	dst = slices.Grow(dst, maxTotal)
	dst = dst[:start+maxTotal]

	header := uint32(rowLen) | uint32(precision)<<tablePrecisionShift
	bo.PutUint32(dst[start:], header)
	bo.PutUint32(dst[start+4:], uint32(rows))
	svb := streamvbyte.EncodeUint32(freqs, &streamvbyte.EncodeOptions[uint32]{
		Buffer: dst[start+tableHeaderBytes:],
	})
	bo.PutUint32(dst[start+8:], uint32(len(svb)))

	return dst[:start+tableHeaderBytes+len(svb)], nil
}

// Table provides indexed access to a PackTable-produced block: the decoder
// side of a codec loads the table once and then resolves cumulative
// frequencies back to symbols while consuming the bitstream.
//
// A Table is not safe for concurrent mutation; Load once, then concurrent
// reads through Row and Find are fine.
type Table struct {
	cdf       []uint32 // decoded rows, row-major rows x (rowLen+1)
	rows      int
	rowLen    int
	precision int
	loaded    bool
}

// NewTable creates an empty Table that must be loaded with Load before use.
func NewTable() *Table {
	return &Table{}
}

// Load decodes a PackTable-produced buffer into the table, validating that
// every frequency is at least 1 and every row sums exactly to the normalizer.
// It resets all internal state and can be called multiple times to reuse the
// table and its decoded-row buffer. A failed Load leaves the table's previous
// contents untouched.
func (t *Table) Load(buf []byte) error {
	if len(buf) < tableHeaderBytes {
		return fmt.Errorf("%w: buffer too small for header (need %d bytes, got %d)",
			ErrInvalidTable, tableHeaderBytes, len(buf))
	}
	header := bo.Uint32(buf)
	rowLen := int(header & tableRowLenMask)
	precision := int(header >> tablePrecisionShift & tablePrecisionMask)
	rows := int(bo.Uint32(buf[4:]))
	svbLen := int(bo.Uint32(buf[8:]))

	if rowLen < 2 {
		return fmt.Errorf("%w: header row length %d, need at least 2", ErrInvalidTable, rowLen)
	}
	if precision < MinPrecision || precision > MaxPrecision {
		return fmt.Errorf("%w: header precision %d out of range [%d, %d]",
			ErrInvalidTable, precision, MinPrecision, MaxPrecision)
	}
	if rows < 1 {
		return fmt.Errorf("%w: header row count %d, need at least 1", ErrInvalidTable, rows)
	}
	if len(buf) < tableHeaderBytes+svbLen {
		return fmt.Errorf("%w: buffer truncated (need %d bytes, got %d)",
			ErrInvalidTable, tableHeaderBytes+svbLen, len(buf))
	}

	// Each frequency occupies at least one data byte plus a quarter control
	// byte, which bounds the value count before anything is allocated.
	count := rows * rowLen
	if svbLen < count+(count+3)/4 {
		return fmt.Errorf("%w: %d bytes cannot hold %d frequencies", ErrInvalidTable, svbLen, count)
	}

	freqs := streamvbyte.DecodeUint32(buf[tableHeaderBytes:tableHeaderBytes+svbLen], count,
		&streamvbyte.DecodeOptions[uint32]{
			Buffer: make([]uint32, count),
		})

	// Validate every row before touching the reused decode buffer, so a
	// failed load leaves a previously loaded table fully intact.
	normalizer := uint64(1) << precision
	for r := 0; r < rows; r++ {
		var acc uint64
		for i := 0; i < rowLen; i++ {
			f := freqs[r*rowLen+i]
			if f == 0 {
				return fmt.Errorf("%w: row %d symbol %d has zero frequency", ErrInvalidTable, r, i)
			}
			acc += uint64(f)
			if acc > normalizer {
				return fmt.Errorf("%w: row %d frequencies exceed normalizer %d",
					ErrInvalidTable, r, normalizer)
			}
		}
		if acc != normalizer {
			return fmt.Errorf("%w: row %d frequencies sum to %d, want %d",
				ErrInvalidTable, r, acc, normalizer)
		}
	}

	cdf := ensureUint32Len(t.cdf, rows*(rowLen+1))
	for r := 0; r < rows; r++ {
		out := cdf[r*(rowLen+1):]
		out[0] = 0
		var acc uint32
		for i := 0; i < rowLen; i++ {
			acc += freqs[r*rowLen+i]
			out[i+1] = acc
		}
	}

	t.cdf = cdf
	t.rows = rows
	t.rowLen = rowLen
	t.precision = precision
	t.loaded = true
	return nil
}

// IsLoaded returns whether the table has been loaded with data.
func (t *Table) IsLoaded() bool {
	return t.loaded
}

// Rows returns the number of CDF rows in the table.
func (t *Table) Rows() int {
	return t.rows
}

// RowLen returns the number of symbols per row.
func (t *Table) RowLen() int {
	return t.rowLen
}

// Precision returns the precision the table was quantized at.
func (t *Table) Precision() int {
	return t.precision
}

// Normalizer returns the exact sum (1 << precision) of each frequency row.
func (t *Table) Normalizer() uint32 {
	return uint32(1) << t.precision
}

// Row returns the CDF row at index i: rowLen+1 entries from 0 to the
// normalizer. The returned slice aliases the table's internal buffer and is
// valid until the next Load.
func (t *Table) Row(i int) ([]uint32, error) {
	if !t.loaded {
		return nil, ErrNotLoaded
	}
	if i < 0 || i >= t.rows {
		return nil, ErrRowOutOfRange
	}
	n := t.rowLen + 1
	return t.cdf[i*n : (i+1)*n], nil
}

// Find returns the symbol whose cumulative interval [cdf[s], cdf[s+1])
// contains cumFreq in the given row. This is the decoder-side lookup a range
// coder performs after rescaling a value read from the stream.
func (t *Table) Find(row int, cumFreq uint32) (int, error) {
	r, err := t.Row(row)
	if err != nil {
		return 0, err
	}
	if cumFreq >= r[t.rowLen] {
		return 0, fmt.Errorf("%w: %d not in [0, %d)", ErrValueOutOfRange, cumFreq, r[t.rowLen])
	}

	// Binary search; the row is strictly increasing.
	left, right := 0, t.rowLen
	for left < right-1 {
		mid := (left + right) / 2
		if r[mid] <= cumFreq {
			left = mid
		} else {
			right = mid
		}
	}
	return left, nil
}
