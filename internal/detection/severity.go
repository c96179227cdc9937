package detection

import "fmt"

// Severity is the tier a measured value falls into relative to its
// configured threshold. The boundary formulation is fixed by the tiered
// (80%/100%/150%) scheme; the 64% lower bound of Info is authoritative per
// the resolved source ambiguity.
type Severity string

const (
	SeverityInfo      Severity = "Info"
	SeverityWarning   Severity = "Warning"
	SeverityCritical  Severity = "Critical"
	SeverityEmergency Severity = "Emergency"
)

// rank orders severities from least to most urgent, for selecting the
// highest-severity event among several candidates.
var rank = map[Severity]int{
	SeverityInfo:      0,
	SeverityWarning:   1,
	SeverityCritical:  2,
	SeverityEmergency: 3,
}

// Less reports whether s is strictly less severe than other.
func (s Severity) Less(other Severity) bool {
	return rank[s] < rank[other]
}

// AtLeastWarning reports whether s meets the "severity >= Warning" bar used
// throughout the circuit to decide whether a threshold crossing warrants
// downstream processing.
func (s Severity) AtLeastWarning() bool {
	return rank[s] >= rank[SeverityWarning]
}

// classify computes the Severity tier for value against threshold, and
// whether value crosses into the Info band at all (value >= 0.64*threshold).
// A value below that floor is not a threshold crossing and no event is
// emitted for it.
func classify(value, threshold float64) (Severity, bool) {
	if threshold <= 0 {
		return "", false
	}
	ratio := value / threshold
	switch {
	case ratio >= 1.50:
		return SeverityEmergency, true
	case ratio >= 1.00:
		return SeverityCritical, true
	case ratio >= 0.80:
		return SeverityWarning, true
	case ratio >= 0.64:
		return SeverityInfo, true
	default:
		return "", false
	}
}

func (s Severity) validate() error {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical, SeverityEmergency:
		return nil
	default:
		return fmt.Errorf("detection: invalid severity %q", s)
	}
}
