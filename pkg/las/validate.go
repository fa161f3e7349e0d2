package las

import (
	"fmt"
	"strings"

	"github.com/beetlebugorg/lascat/internal/parser"
)

// Report collects validator findings. It is data, never an error: callers
// decide what is fatal.
type Report struct {
	Warnings []Issue
	Errors   []Issue
}

// OK reports whether no error-level issue was found.
func (r Report) OK() bool {
	return len(r.Errors) == 0
}

// Issues returns errors followed by warnings.
func (r Report) Issues() []Issue {
	return append(append([]Issue(nil), r.Errors...), r.Warnings...)
}

func (r Report) String() string {
	if len(r.Errors) == 0 && len(r.Warnings) == 0 {
		return "no issues"
	}
	var b strings.Builder
	for _, i := range r.Errors {
		fmt.Fprintf(&b, "error: %s\n", i)
	}
	for _, i := range r.Warnings {
		fmt.Fprintf(&b, "warning: %s\n", i)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Validate runs every structural check over ps and reports all violations
// of each check. The checks are:
//   - duplicated points (exact X, Y and Z), warning
//   - return number zero or above the number of returns, error
//   - multi-return pulses missing their first return, error
//   - missing coordinate reference system, warning
//   - degenerate bounding box, error
//   - points outside the header bounding box, error
//   - header point counts disagreeing with the data, error
//
// Checks whose fields were not decoded are skipped.
//
// Example:
//
//	ps, _ := las.ReadFile("tile.las", las.ReadOptions{})
//	report := las.Validate(ps)
//	for _, issue := range report.Errors {
//	    fmt.Println(issue)
//	}
func Validate(ps *PointSet) Report {
	return ValidateWith(ps, parser.Checks...)
}

// ValidateWith runs only the given checks.
func ValidateWith(ps *PointSet, checks ...Check) Report {
	h := ps.Header
	if h == nil {
		h = &Header{}
	}

	var r Report
	for _, c := range checks {
		for _, issue := range c.Run(h, ps.points) {
			issue.Check = c.Name
			issue.Severity = c.Severity
			if c.Severity == SeverityError {
				r.Errors = append(r.Errors, issue)
			} else {
				r.Warnings = append(r.Warnings, issue)
			}
		}
	}
	return r
}

// Check is one validator check.
type Check = parser.Check

// Checks lists the checks run by Validate.
func Checks() []Check {
	return append([]Check(nil), parser.Checks...)
}
