// Package rangecdf quantizes probability mass functions into exact integer
// cumulative distribution functions suitable as symbol tables for range and
// arithmetic coders.
//
// Range coders require per-symbol cumulative frequencies that are positive
// integers summing exactly to a power of two (the normalizer). Rounding a
// floating-point PMF to integers does not guarantee that sum, so Quantize
// rounds first and then rebalances greedily, always spending or reclaiming
// one frequency unit where the expected code-length distortion is smallest.
// Every symbol keeps a frequency of at least 1, so no symbol becomes
// unencodable, even when its input mass is exactly zero. Callers provide the
// destination slices so batch pipelines can reuse buffers without repeated
// heap allocations. The package maintains no global mutable state.
package rangecdf

import (
	"errors"
	"fmt"
	"runtime"
)

// Precision bounds for the quantizer. The normalizer is 1 << precision, so
// the upper bound keeps every cumulative frequency within 17 bits.
const (
	MinPrecision = 1
	MaxPrecision = 16
)

// ErrInvalidPrecision is returned when a precision outside [MinPrecision,
// MaxPrecision] is requested.
var ErrInvalidPrecision = errors.New("rangecdf: precision out of range")

// ErrInvalidShape is returned when a PMF batch cannot be interpreted as one
// or more rows of at least two symbols each.
var ErrInvalidShape = errors.New("rangecdf: invalid pmf shape")

// Float constrains the element types accepted as PMF masses. Masses are
// promoted to float64 for all penalty and gain arithmetic regardless of the
// input type.
type Float interface {
	~float32 | ~float64
}

// Quantizer converts batches of PMF rows into integer CDF rows that sum
// exactly to 1 << precision. The precision is fixed at construction, mirroring
// how a codec fixes its table precision for the lifetime of a stream.
//
// A Quantizer is stateless apart from its configuration and is safe for
// concurrent use.
type Quantizer struct {
	precision  int
	normalizer uint32 // 1 << precision
}

// NewQuantizer returns a Quantizer for the given precision.
// Precision must be in [MinPrecision, MaxPrecision].
func NewQuantizer(precision int) (*Quantizer, error) {
	if precision < MinPrecision || precision > MaxPrecision {
		return nil, fmt.Errorf("%w: precision must be in [%d, %d], got %d",
			ErrInvalidPrecision, MinPrecision, MaxPrecision, precision)
	}
	return &Quantizer{precision: precision, normalizer: 1 << precision}, nil
}

// Precision returns the configured precision in bits.
func (q *Quantizer) Precision() int {
	return q.precision
}

// Normalizer returns the exact sum (1 << precision) every quantized frequency
// row adds up to.
func (q *Quantizer) Normalizer() uint32 {
	return q.normalizer
}

// Quantize converts a flat batch of float32 PMF rows into CDF rows.
//
// pmf holds the batch row-major: len(pmf) must be a positive multiple of
// rowLen, and rowLen must be at least 2 and at most the normalizer. Masses
// are relative weights; rows need not sum to 1. The result is written
// row-major into dst (resized, reusing its backing array when capacity
// allows): each output row has rowLen+1 entries, starts at 0, is strictly
// increasing, and ends at Normalizer().
//
// Rows are independent and large batches are quantized on multiple
// goroutines; results are identical either way.
func (q *Quantizer) Quantize(dst []uint32, pmf []float32, rowLen int) ([]uint32, error) {
	return quantizeBatch(q, dst, pmf, rowLen)
}

// QuantizeFloat64 is Quantize for float64 PMF rows. The quantization
// arithmetic is identical; Quantize promotes its masses to float64 anyway.
func (q *Quantizer) QuantizeFloat64(dst []uint32, pmf []float64, rowLen int) ([]uint32, error) {
	return quantizeBatch(q, dst, pmf, rowLen)
}

// QuantizeRows converts a ragged batch where rows may have different lengths.
// Every row must have at least 2 and at most Normalizer() symbols. The outer
// dst slice and each inner row buffer are reused when capacity allows.
//
// Work is partitioned across goroutines by estimated per-row cost rather than
// row count, so a few long rows do not serialize behind many short ones.
func (q *Quantizer) QuantizeRows(dst [][]uint32, rows [][]float32) ([][]uint32, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: batch has no rows", ErrInvalidShape)
	}
	costs := make([]float64, len(rows))
	for i, row := range rows {
		if err := q.validateRowLen(len(row)); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		costs[i] = rowCost(len(row))
	}

	if cap(dst) >= len(rows) {
		dst = dst[:len(rows)]
	} else {
		dst = make([][]uint32, len(rows))
	}

	bounds := splitByCost(costs, runtime.GOMAXPROCS(0))
	dispatch(bounds, func(start, end int) {
		for i := start; i < end; i++ {
			out := ensureUint32Len(dst[i], len(rows[i])+1)
			quantizeRow(rows[i], out, q.normalizer)
			dst[i] = out
		}
	})
	return dst, nil
}

// quantizeBatch validates the flat batch shape, partitions the rows, and
// quantizes each row in place in dst. All rows share one length, so the
// cost-weighted split degenerates to an even one.
func quantizeBatch[T Float](q *Quantizer, dst []uint32, pmf []T, rowLen int) ([]uint32, error) {
	if err := q.validateRowLen(rowLen); err != nil {
		return nil, err
	}
	if len(pmf) == 0 {
		return nil, fmt.Errorf("%w: pmf batch is empty", ErrInvalidShape)
	}
	if len(pmf)%rowLen != 0 {
		return nil, fmt.Errorf("%w: pmf length %d is not a multiple of row length %d",
			ErrInvalidShape, len(pmf), rowLen)
	}

	rows := len(pmf) / rowLen
	outRow := rowLen + 1
	dst = ensureUint32Len(dst, rows*outRow)

	bounds := splitEven(rows, rowLen, runtime.GOMAXPROCS(0))
	dispatch(bounds, func(start, end int) {
		for i := start; i < end; i++ {
			quantizeRow(pmf[i*rowLen:(i+1)*rowLen], dst[i*outRow:(i+1)*outRow], q.normalizer)
		}
	})
	return dst, nil
}

// validateRowLen rejects rows the quantizer cannot produce a valid table for.
// A row longer than the normalizer cannot give every symbol a frequency of at
// least 1, so it is rejected up front instead of failing mid-row.
func (q *Quantizer) validateRowLen(rowLen int) error {
	if rowLen < 2 {
		return fmt.Errorf("%w: row length must be at least 2, got %d", ErrInvalidShape, rowLen)
	}
	if rowLen > int(q.normalizer) {
		return fmt.Errorf("%w: row length %d exceeds normalizer %d (need 2^precision >= row length)",
			ErrInvalidShape, rowLen, q.normalizer)
	}
	return nil
}

// ensureUint32Len returns dst resized to n, reusing its backing array when
// capacity allows.
func ensureUint32Len(dst []uint32, n int) []uint32 {
	if cap(dst) >= n {
		return dst[:n]
	}
	return make([]uint32, n)
}
