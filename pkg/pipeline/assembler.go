package pipeline

import (
	"fmt"
	"sort"

	"github.com/examlens/examlens/pkg/dataset"
	"github.com/examlens/examlens/pkg/detectors"
)

// Flag is the anomaly verdict attached to a reported row.
type Flag string

const (
	FlagAnomaly Flag = "Anomaly"
	FlagNormal  Flag = "Normal"
)

// Row is a master record extended with its anomaly verdict.
type Row struct {
	dataset.MasterRecord

	AnomalyScore float64
	Flag         Flag
}

// Report is the full joined table plus the ranked anomalous subset.
type Report struct {
	// Rows holds every center, ordered by center id.
	Rows []Row
	// Anomalies holds the flagged centers, most anomalous first.
	Anomalies []Row
}

// Top returns at most n of the most anomalous flagged rows.
func (r *Report) Top(n int) []Row {
	if n < 0 {
		n = 0
	}
	if n > len(r.Anomalies) {
		n = len(r.Anomalies)
	}
	return r.Anomalies[:n]
}

// JoinConsistencyError reports a center present on one side of the
// result/record join but not the other. The join is inner and must be exact;
// a mismatch means rows were lost after the forest stage.
type JoinConsistencyError struct {
	CenterID string
	Missing  string // "record" or "result"
}

func (e *JoinConsistencyError) Error() string {
	return fmt.Sprintf("center %s: no matching %s in anomaly join", e.CenterID, e.Missing)
}

// Assemble joins scores back onto master records by center id and builds the
// ranked report.
func Assemble(master []dataset.MasterRecord, scores []detectors.Score) (*Report, error) {
	byID := make(map[string]detectors.Score, len(scores))
	for _, s := range scores {
		byID[s.CenterID] = s
	}

	rows := make([]Row, 0, len(master))
	for i := range master {
		s, ok := byID[master[i].CenterID]
		if !ok {
			return nil, &JoinConsistencyError{CenterID: master[i].CenterID, Missing: "result"}
		}
		delete(byID, master[i].CenterID)

		flag := FlagNormal
		if s.IsAnomaly {
			flag = FlagAnomaly
		}
		rows = append(rows, Row{
			MasterRecord: master[i],
			AnomalyScore: s.Value,
			Flag:         flag,
		})
	}
	for id := range byID {
		return nil, &JoinConsistencyError{CenterID: id, Missing: "record"}
	}

	var anomalies []Row
	for _, row := range rows {
		if row.Flag == FlagAnomaly {
			anomalies = append(anomalies, row)
		}
	}
	sort.Slice(anomalies, func(i, j int) bool {
		if anomalies[i].AnomalyScore != anomalies[j].AnomalyScore {
			return anomalies[i].AnomalyScore > anomalies[j].AnomalyScore
		}
		return anomalies[i].CenterID < anomalies[j].CenterID
	})

	return &Report{Rows: rows, Anomalies: anomalies}, nil
}
