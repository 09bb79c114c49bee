// Package plan computes the partition layout for a partitioned dataset fetch.
//
// A plan slices a requested row window into contiguous (offset, count)
// partitions whose estimated transfer size stays under a byte ceiling and
// whose number is at least the desired concurrency when the window is large
// enough to split.
package plan

import (
	"errors"
	"fmt"
)

// Sizing constants for the adaptive byte-budget planner.
const (
	// TransferByteCeiling is the hard per-partition transfer budget.
	TransferByteCeiling = 256 << 20

	// SafetyFactor inflates the estimated bytes per row to avoid
	// under-provisioning on skewed datasets.
	SafetyFactor = 1.2

	// FallbackCap is the per-partition row cap used when no per-row byte
	// estimate is available.
	FallbackCap = 100_000

	// ServerRowCeiling is the maximum row count the platform serves for a
	// single request. Larger limits are clamped.
	ServerRowCeiling = 150_000

	// minPartitionRows bounds how small partitions may get when the window
	// is subdivided to fill concurrency slots.
	minPartitionRows = 2
)

// ErrSkipBeyondEnd indicates a requested skip at or past the end of the
// dataset, leaving no rows to fetch.
var ErrSkipBeyondEnd = errors.New("plan: skip exceeds total row count")

// Partition describes the contiguous row range [Offset, Offset+Count).
type Partition struct {
	Offset int
	Count  int
}

// Window resolves caller-supplied skip/limit (-1 means unset) against the
// dataset's total row count into a concrete (offset, count) window.
//
// An empty dataset yields an empty window, not an error: there is nothing to
// fetch and nothing wrong with asking. ErrSkipBeyondEnd is reserved for a
// skip at or past the end of a non-empty dataset.
//
// An explicit limit above ServerRowCeiling is reduced to it and reported via
// the clamped flag. A full-window fetch is never clamped: the planner splits
// it into partitions that each stay under the ceiling. When hasQuery is set
// the ceiling applies to the whole window, because the result count of a
// filtered request cannot be predicted from metadata.
func Window(totalRows, skip, limit int, hasQuery bool) (offset, count int, clamped bool, err error) {
	if totalRows <= 0 {
		return 0, 0, false, nil
	}
	if skip >= totalRows {
		return 0, 0, false, fmt.Errorf("%w: skip=%d, total=%d", ErrSkipBeyondEnd, skip, totalRows)
	}

	switch {
	case skip >= 0 && limit > 0:
		offset, count = skip, limit
	case limit > 0:
		offset, count = 0, limit
	case skip >= 0:
		offset, count = skip, totalRows-skip
	default:
		offset, count = 0, totalRows
	}

	if limit > 0 && count > ServerRowCeiling {
		count = ServerRowCeiling
		clamped = true
	}
	if hasQuery && count > ServerRowCeiling {
		count = ServerRowCeiling
	}

	return offset, count, clamped, nil
}

// Partitions splits the window [initialOffset, initialOffset+totalRows) into
// contiguous partitions.
//
// The per-partition row cap derives from the transfer byte ceiling and the
// estimated bytes per row; an unknown estimate falls back to FallbackCap. The
// cap shrinks further when the window would otherwise yield fewer than
// maxBatches partitions, down to minPartitionRows. A capOverride > 0 bounds
// both the per-partition cap and the overall window (used when an access
// probe detected entitlement truncation).
//
// An empty window yields no partitions. The output is deterministic:
// identical inputs always produce identical partitions.
func Partitions(totalRows, maxBatches, initialOffset int, bytesPerRow float64, capOverride int) []Partition {
	if totalRows <= 0 {
		return nil
	}
	if maxBatches < 1 {
		maxBatches = 1
	}
	if capOverride > 0 && totalRows > capOverride {
		totalRows = capOverride
	}

	capRows := rowCap(bytesPerRow)
	if capOverride > 0 && capRows > capOverride {
		capRows = capOverride
	}

	// Fill every concurrency slot when the window is large enough to split.
	if totalRows/capRows < maxBatches {
		slot := totalRows / maxBatches
		if slot < minPartitionRows {
			slot = minPartitionRows
		}
		if slot < capRows {
			capRows = slot
		}
	}

	parts := make([]Partition, 0, totalRows/capRows+1)
	for off := 0; off < totalRows; off += capRows {
		n := capRows
		if off+n > totalRows {
			n = totalRows - off
		}
		if n <= 0 {
			continue
		}
		parts = append(parts, Partition{Offset: initialOffset + off, Count: n})
	}
	return parts
}

// rowCap converts a bytes-per-row estimate into a per-partition row cap.
func rowCap(bytesPerRow float64) int {
	if bytesPerRow <= 0 {
		return FallbackCap
	}
	n := int(float64(TransferByteCeiling) / (bytesPerRow * SafetyFactor))
	if n < minPartitionRows {
		n = minPartitionRows
	}
	if n > ServerRowCeiling {
		n = ServerRowCeiling
	}
	return n
}
