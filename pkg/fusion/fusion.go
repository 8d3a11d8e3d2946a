// Package fusion combines the sequence model's flag with the point
// detectors' flags. The sequence flag is necessary but not sufficient: it
// must be corroborated by at least one point detector.
package fusion

import "fmt"

// Verdict is the per-sample combination of the three anomaly signals.
type Verdict struct {
	LSTM  bool `json:"lstm_anomaly"`
	ISO   bool `json:"iso_anomaly"`
	SVM   bool `json:"svm_anomaly"`
	Final bool `json:"final_anomaly"`
}

// Decide fuses one sample's flags.
func Decide(lstm, iso, svm bool) Verdict {
	return Verdict{
		LSTM:  lstm,
		ISO:   iso,
		SVM:   svm,
		Final: (lstm && svm) || (lstm && iso),
	}
}

// Fuse combines aligned flag slices into verdicts.
func Fuse(lstm, iso, svm []bool) ([]Verdict, error) {
	if len(iso) != len(lstm) || len(svm) != len(lstm) {
		return nil, fmt.Errorf("misaligned flags: lstm=%d iso=%d svm=%d", len(lstm), len(iso), len(svm))
	}

	out := make([]Verdict, len(lstm))
	for i := range lstm {
		out[i] = Decide(lstm[i], iso[i], svm[i])
	}
	return out, nil
}

// Any reports whether any verdict is a final anomaly.
func Any(verdicts []Verdict) bool {
	for _, v := range verdicts {
		if v.Final {
			return true
		}
	}
	return false
}

// Count returns the number of final anomalies.
func Count(verdicts []Verdict) int {
	n := 0
	for _, v := range verdicts {
		if v.Final {
			n++
		}
	}
	return n
}
