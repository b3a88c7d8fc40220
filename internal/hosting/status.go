// pattern: Functional Core

package hosting

import (
	"encoding/json"
	"fmt"
)

// CIStatus summarizes the checks attached to a pull request.
type CIStatus string

const (
	CIPass    CIStatus = "pass"
	CIFail    CIStatus = "fail"
	CIPending CIStatus = "pending"
	CIUnknown CIStatus = "unknown"
	CINone    CIStatus = "none"
)

// ReviewStatus summarizes the review decision on a pull request.
type ReviewStatus string

const (
	ReviewOK       ReviewStatus = "ok"
	ReviewChanges  ReviewStatus = "changes"
	ReviewRequired ReviewStatus = "required"
	ReviewNone     ReviewStatus = "none"
)

// PRStatus is the code-hosting view of one branch. State is empty when the
// branch has no pull request.
type PRStatus struct {
	Branch string       `json:"branch" yaml:"branch"`
	State  string       `json:"state,omitempty" yaml:"state,omitempty"`
	CI     CIStatus     `json:"ci" yaml:"ci"`
	Review ReviewStatus `json:"review" yaml:"review"`
}

// Check is one entry of statusCheckRollup. Check runs carry Status and
// Conclusion; commit status contexts carry State.
type Check struct {
	Status     string `json:"status" yaml:"status"`
	Conclusion string `json:"conclusion" yaml:"conclusion"`
	State      string `json:"state" yaml:"state"`
}

type prView struct {
	State             string  `json:"state" yaml:"state"`
	ReviewDecision    string  `json:"reviewDecision" yaml:"reviewDecision"`
	StatusCheckRollup []Check `json:"statusCheckRollup" yaml:"statusCheckRollup"`
}

// ParseStatus maps the JSON printed by
// "pr view --json statusCheckRollup,reviewDecision,state".
func ParseStatus(branch string, data []byte) (PRStatus, error) {
	var v prView
	if err := json.Unmarshal(data, &v); err != nil {
		return PRStatus{}, fmt.Errorf("decoding pull request status: %w", err)
	}
	return PRStatus{
		Branch: branch,
		State:  v.State,
		CI:     MapCI(v.StatusCheckRollup),
		Review: MapReview(v.ReviewDecision),
	}, nil
}

// MapCI folds individual checks into one status. Any failure wins, then
// anything still running, then all-successful.
func MapCI(checks []Check) CIStatus {
	if len(checks) == 0 {
		return CINone
	}
	pending, passed := false, 0
	for _, c := range checks {
		result := c.Conclusion
		if result == "" {
			result = c.State
		}
		switch result {
		case "FAILURE", "ERROR", "TIMED_OUT", "CANCELLED", "ACTION_REQUIRED", "STARTUP_FAILURE":
			return CIFail
		case "SUCCESS", "NEUTRAL", "SKIPPED":
			passed++
			continue
		case "PENDING", "EXPECTED":
			pending = true
			continue
		}
		switch c.Status {
		case "IN_PROGRESS", "QUEUED", "PENDING", "WAITING", "REQUESTED":
			pending = true
		}
	}
	switch {
	case pending:
		return CIPending
	case passed == len(checks):
		return CIPass
	default:
		return CIUnknown
	}
}

func MapReview(decision string) ReviewStatus {
	switch decision {
	case "APPROVED":
		return ReviewOK
	case "CHANGES_REQUESTED":
		return ReviewChanges
	case "REVIEW_REQUIRED":
		return ReviewRequired
	default:
		return ReviewNone
	}
}
