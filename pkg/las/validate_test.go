package las

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateReportsEveryIssue(t *testing.T) {
	pts := forest(50, 1, Box{MaxX: 10, MaxY: 10})
	pts = append(pts, pts[7], pts[9]) // two duplicated points
	pts[20].ReturnNumber = 3          // of 1
	ps := NewPointSet(testHeader(pts), pts)

	report := Validate(ps)
	require.False(t, report.OK())

	require.Len(t, report.Warnings, 1)
	dup := report.Warnings[0]
	require.Equal(t, "duplicated points", dup.Check)
	require.Equal(t, SeverityWarning, dup.Severity)
	require.Equal(t, []int{50, 51}, dup.Points)

	require.Len(t, report.Errors, 1)
	ret := report.Errors[0]
	require.Equal(t, "return numbers", ret.Check)
	require.Equal(t, SeverityError, ret.Severity)
	require.Equal(t, []int{20}, ret.Points)

	require.Len(t, report.Issues(), 2)
	require.Contains(t, report.String(), "error: return numbers")
}

func TestValidateCleanSet(t *testing.T) {
	pts := forest(200, 2, Box{MaxX: 20, MaxY: 20})
	report := NewPointSet(testHeader(pts), pts).Validate()
	require.True(t, report.OK())
	require.Empty(t, report.Warnings)
	require.Equal(t, "no issues", report.String())
}

func TestValidateHeaderProblems(t *testing.T) {
	pts := forest(30, 3, Box{MaxX: 20, MaxY: 20})
	h := NewHeader(1, testScale, [3]float64{}) // no CRS, zero box, zero counts
	report := Validate(NewPointSet(h, pts))

	checks := map[string]Severity{}
	for _, i := range report.Issues() {
		checks[i.Check] = i.Severity
	}
	require.Equal(t, map[string]Severity{
		"coordinate reference system": SeverityWarning,
		"degenerate bounding box":     SeverityError,
		"points outside bounding box": SeverityError,
		"header point count":          SeverityError,
	}, checks)
}

func TestValidateWithSubset(t *testing.T) {
	pts := forest(10, 4, Box{MaxX: 5, MaxY: 5})
	pts = append(pts, pts[0])
	ps := NewPointSet(testHeader(pts), pts)

	var crsOnly []Check
	for _, c := range Checks() {
		if c.Name == "coordinate reference system" {
			crsOnly = append(crsOnly, c)
		}
	}
	require.Len(t, crsOnly, 1)
	require.True(t, ValidateWith(ps, crsOnly...).OK())
	require.Empty(t, ValidateWith(ps, crsOnly...).Warnings)
}
