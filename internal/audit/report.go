package audit

import "fmt"

// Status grades a single consistency check. Data visible to users incorrectly
// is an error; stale counters and informational findings are warnings.
type Status string

const (
	// StatusOK means the check found source and canonical data in agreement.
	StatusOK Status = "OK"
	// StatusWarning flags stale or informational drift.
	StatusWarning Status = "WARNING"
	// StatusError flags drift that surfaces incorrect data to users.
	StatusError Status = "ERROR"
)

// CheckResult is one line of the externally observable audit contract.
type CheckResult struct {
	Category  string
	CheckName string
	Status    Status
	Detail    string
}

// Summary counts check results by status.
type Summary struct {
	OK       int
	Warnings int
	Errors   int
}

// Report is the ordered output of one audit run. Partial marks runs cut short
// by cancellation; the results gathered so far are still included.
type Report struct {
	StartedAtSeconds  int64
	FinishedAtSeconds int64
	Partial           bool
	Results           []CheckResult
	Summary           Summary
}

// HasErrors reports whether any check failed at error severity.
func (r Report) HasErrors() bool {
	return r.Summary.Errors > 0
}

func (r *Report) add(results ...CheckResult) {
	for _, result := range results {
		r.Results = append(r.Results, result)
		switch result.Status {
		case StatusOK:
			r.Summary.OK++
		case StatusWarning:
			r.Summary.Warnings++
		case StatusError:
			r.Summary.Errors++
		}
	}
}

// SummaryLine renders the terminal summary count by status.
func (r Report) SummaryLine() string {
	suffix := ""
	if r.Partial {
		suffix = " (partial run)"
	}
	return fmt.Sprintf("%d ok, %d warnings, %d errors%s", r.Summary.OK, r.Summary.Warnings, r.Summary.Errors, suffix)
}
