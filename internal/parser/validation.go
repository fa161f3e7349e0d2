package parser

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Severity of a validation issue
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

func (s Severity) String() string {
	if s == SeverityError {
		return "error"
	}
	return "warning"
}

// Issue is one finding of a check. Points holds the offending record
// indices in ascending order, when the check is about points.
type Issue struct {
	Check    string
	Severity Severity
	Message  string
	Points   []int
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s", i.Check, i.Message)
}

// Check names
const (
	CheckDuplicates     = "duplicated points"
	CheckReturnNumbers  = "return numbers"
	CheckFirstReturns   = "missing first returns"
	CheckCRS            = "coordinate reference system"
	CheckDegenerateBBox = "degenerate bounding box"
	CheckOutOfBounds    = "points outside bounding box"
	CheckPointCount     = "header point count"
)

// Check inspects a header and its points and returns every violation found.
type Check struct {
	Name     string
	Severity Severity
	Run      func(h *Header, pts []PointRecord) []Issue
}

// Checks lists the structural checks in the order they are reported.
var Checks = []Check{
	{CheckDuplicates, SeverityWarning, CheckDuplicatePoints},
	{CheckReturnNumbers, SeverityError, CheckReturnNumberConsistency},
	{CheckFirstReturns, SeverityError, CheckMissingFirstReturns},
	{CheckCRS, SeverityWarning, CheckCRSPresent},
	{CheckDegenerateBBox, SeverityError, CheckBoundingBox},
	{CheckOutOfBounds, SeverityError, CheckPointsInBounds},
	{CheckPointCount, SeverityError, CheckHeaderCounts},
}

// CheckDuplicatePoints finds records sharing exact X, Y and Z with an
// earlier record. Candidates are bucketed by an xxhash of the coordinate
// bit patterns and confirmed by comparison.
func CheckDuplicatePoints(_ *Header, pts []PointRecord) []Issue {
	buckets := make(map[uint64][]int, len(pts))
	var dups []int
	var key [24]byte
	for i := range pts {
		p := &pts[i]
		le := binary.LittleEndian
		le.PutUint64(key[0:], math.Float64bits(p.X+0))
		le.PutUint64(key[8:], math.Float64bits(p.Y+0))
		le.PutUint64(key[16:], math.Float64bits(p.Z+0))
		h := xxhash.Sum64(key[:])

		dup := false
		for _, j := range buckets[h] {
			q := &pts[j]
			if q.X == p.X && q.Y == p.Y && q.Z == p.Z {
				dup = true
				break
			}
		}
		if dup {
			dups = append(dups, i)
			continue
		}
		buckets[h] = append(buckets[h], i)
	}

	if len(dups) == 0 {
		return nil
	}
	return []Issue{{
		Check:   CheckDuplicates,
		Message: fmt.Sprintf("%d points are duplicated", len(dups)),
		Points:  dups,
	}}
}

// CheckReturnNumberConsistency flags return numbers of zero or greater than
// the number of returns. Skipped when either field was not decoded.
func CheckReturnNumberConsistency(_ *Header, pts []PointRecord) []Issue {
	var zero, over []int
	for i := range pts {
		p := &pts[i]
		if !p.Fields.Has(fieldReturnBits) {
			continue
		}
		switch {
		case p.ReturnNumber == 0 || p.NumberOfReturns == 0:
			zero = append(zero, i)
		case p.ReturnNumber > p.NumberOfReturns:
			over = append(over, i)
		}
	}

	var issues []Issue
	if len(over) > 0 {
		issues = append(issues, Issue{
			Check:   CheckReturnNumbers,
			Message: fmt.Sprintf("%d points have a return number larger than their number of returns", len(over)),
			Points:  over,
		})
	}
	if len(zero) > 0 {
		issues = append(issues, Issue{
			Check:   CheckReturnNumbers,
			Message: fmt.Sprintf("%d points have a return number or number of returns of 0", len(zero)),
			Points:  zero,
		})
	}
	return issues
}

type pulseKey struct {
	gps    uint64
	source uint16
}

// CheckMissingFirstReturns groups multi-return points into pulses by GPS
// time and point source and flags pulses with no first return. Skipped when
// GPS time was not decoded.
func CheckMissingFirstReturns(_ *Header, pts []PointRecord) []Issue {
	need := FieldGPSTime | fieldReturnBits
	pulses := make(map[pulseKey][]int)
	hasFirst := make(map[pulseKey]bool)
	var order []pulseKey
	for i := range pts {
		p := &pts[i]
		if !p.Fields.Has(need) || p.NumberOfReturns <= 1 {
			continue
		}
		k := pulseKey{gps: math.Float64bits(p.GPSTime), source: p.PointSourceID}
		if _, seen := pulses[k]; !seen {
			order = append(order, k)
		}
		pulses[k] = append(pulses[k], i)
		if p.ReturnNumber == 1 {
			hasFirst[k] = true
		}
	}

	var bad []int
	var count int
	for _, k := range order {
		if hasFirst[k] {
			continue
		}
		count++
		bad = append(bad, pulses[k]...)
	}
	if count == 0 {
		return nil
	}
	sort.Ints(bad)
	return []Issue{{
		Check:   CheckFirstReturns,
		Message: fmt.Sprintf("%d multi-return pulses have no first return", count),
		Points:  bad,
	}}
}

// CheckCRSPresent warns when no coordinate reference system is declared.
func CheckCRSPresent(h *Header, _ []PointRecord) []Issue {
	if h.CRS() != "" {
		return nil
	}
	return []Issue{{Check: CheckCRS, Message: "no coordinate reference system declared"}}
}

// CheckBoundingBox flags an inverted header box, or one with no X or Y
// extent while holding more than one point.
func CheckBoundingBox(h *Header, pts []PointRecord) []Issue {
	b := h.Bounds
	var issues []Issue
	if b.MinX > b.MaxX || b.MinY > b.MaxY || b.MinZ > b.MaxZ {
		issues = append(issues, Issue{
			Check:   CheckDegenerateBBox,
			Message: fmt.Sprintf("minimum exceeds maximum: [%g %g %g, %g %g %g]", b.MinX, b.MinY, b.MinZ, b.MaxX, b.MaxY, b.MaxZ),
		})
		return issues
	}
	if len(pts) > 1 && (b.Width() == 0 || b.Height() == 0) {
		issues = append(issues, Issue{
			Check:   CheckDegenerateBBox,
			Message: fmt.Sprintf("zero extent: width %g, height %g", b.Width(), b.Height()),
		})
	}
	return issues
}

// CheckPointsInBounds flags points outside the header box, allowing half a
// scale unit for quantization.
func CheckPointsInBounds(h *Header, pts []PointRecord) []Issue {
	b := h.Bounds
	tol := [3]float64{h.Scale[0] / 2, h.Scale[1] / 2, h.Scale[2] / 2}
	var out []int
	for i := range pts {
		p := &pts[i]
		if p.X < b.MinX-tol[0] || p.X > b.MaxX+tol[0] ||
			p.Y < b.MinY-tol[1] || p.Y > b.MaxY+tol[1] ||
			p.Z < b.MinZ-tol[2] || p.Z > b.MaxZ+tol[2] {
			out = append(out, i)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return []Issue{{
		Check:   CheckOutOfBounds,
		Message: fmt.Sprintf("%d points lie outside the header bounding box", len(out)),
		Points:  out,
	}}
}

// CheckHeaderCounts compares the point count and, when return numbers were
// decoded, the points-by-return table with the data.
func CheckHeaderCounts(h *Header, pts []PointRecord) []Issue {
	var issues []Issue
	if h.PointCount != uint64(len(pts)) {
		issues = append(issues, Issue{
			Check:   CheckPointCount,
			Message: fmt.Sprintf("header declares %d points, data holds %d", h.PointCount, len(pts)),
		})
	}

	var byReturn [15]uint64
	for i := range pts {
		p := &pts[i]
		if !p.Fields.Has(FieldReturnNumber) {
			return issues
		}
		if p.ReturnNumber >= 1 && p.ReturnNumber <= 15 {
			byReturn[p.ReturnNumber-1]++
		}
	}
	if len(pts) == 0 {
		return issues
	}

	// 1.0-1.3 only record the first five returns
	n := 15
	if h.VersionMinor < 4 {
		n = 5
	}
	for r := 0; r < n; r++ {
		if h.PointsByReturn[r] != byReturn[r] {
			issues = append(issues, Issue{
				Check:   CheckPointCount,
				Message: fmt.Sprintf("header declares %d points of return %d, data holds %d", h.PointsByReturn[r], r+1, byReturn[r]),
			})
		}
	}
	return issues
}
