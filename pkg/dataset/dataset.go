// Package dataset defines the tabular records flowing through the pipeline.
package dataset

import "sort"

// Canonical field names used when selecting features by name.
const (
	FieldStdDev        = "Center_Std_Dev"
	FieldSkewness      = "Center_Skewness"
	FieldKurtosis      = "Center_Kurtosis"
	FieldUltraHigh     = "Ultra_High_Score_Ratio"
	FieldHighScore     = "High_Score_Ratio"
	FieldNationalGap   = "Center_v_National_Gap"
	FieldStateGap      = "Center_v_State_Gap"
	FieldTotalStudents = "total_students"
	FieldState         = "state"
	FieldCity          = "city"
	FieldCenterName    = "center_name"
)

// Float is a float64 that may be missing. The zero value is missing.
type Float struct {
	Value float64
	Valid bool
}

// Some returns a present Float.
func Some(v float64) Float {
	return Float{Value: v, Valid: true}
}

// StudentRecord is a single student's result at one center.
type StudentRecord struct {
	CenterID string
	Marks    float64
}

// CenterStats holds the pre-computed per-center metrics supplied by the loader.
type CenterStats struct {
	CenterID             string
	CenterName           string
	City                 string
	State                string
	TotalStudents        int
	CenterAverageMarks   float64
	StateAverageMarks    float64
	NationalAverageMarks float64
	Above600Marks        int
	Above700Marks        int
}

// CenterFeatures holds the distributional moments derived from student marks.
// A moment is missing when the group was too small to estimate it.
type CenterFeatures struct {
	CenterID string
	StdDev   Float
	Skewness Float
	Kurtosis Float
}

// MasterRecord is the per-center union of supplied stats, derived moments and
// derived ratio/gap metrics. It is the unit handed to the encoder and joined
// back with anomaly results.
type MasterRecord struct {
	CenterStats

	StdDev   Float
	Skewness Float
	Kurtosis Float

	UltraHighScoreRatio Float
	HighScoreRatio      Float
	NationalGap         float64
	StateGap            float64
}

// Feature returns the named numeric feature. The second return reports
// whether the name is a known numeric field at all; a known field may still
// carry a missing value.
func (r *MasterRecord) Feature(name string) (Float, bool) {
	switch name {
	case FieldStdDev:
		return r.StdDev, true
	case FieldSkewness:
		return r.Skewness, true
	case FieldKurtosis:
		return r.Kurtosis, true
	case FieldUltraHigh:
		return r.UltraHighScoreRatio, true
	case FieldHighScore:
		return r.HighScoreRatio, true
	case FieldNationalGap:
		return Some(r.NationalGap), true
	case FieldStateGap:
		return Some(r.StateGap), true
	case FieldTotalStudents:
		return Some(float64(r.TotalStudents)), true
	}
	return Float{}, false
}

// SetFeature overwrites the named numeric feature. It returns false for
// unknown or non-settable fields (gaps are always derived, never imputed).
func (r *MasterRecord) SetFeature(name string, v float64) bool {
	switch name {
	case FieldStdDev:
		r.StdDev = Some(v)
	case FieldSkewness:
		r.Skewness = Some(v)
	case FieldKurtosis:
		r.Kurtosis = Some(v)
	case FieldUltraHigh:
		r.UltraHighScoreRatio = Some(v)
	case FieldHighScore:
		r.HighScoreRatio = Some(v)
	default:
		return false
	}
	return true
}

// Categorical returns the named categorical field value.
func (r *MasterRecord) Categorical(name string) (string, bool) {
	switch name {
	case FieldState:
		return r.State, true
	case FieldCity:
		return r.City, true
	case FieldCenterName:
		return r.CenterName, true
	}
	return "", false
}

// BuildMaster merges derived moments onto the supplied center stats and
// computes the ratio and gap metrics. The merge is a left join on center id:
// centers without a moments row keep missing moment values. Ratios are
// missing for centers reporting zero students. Output is ordered by center id.
func BuildMaster(centers []CenterStats, features []CenterFeatures) []MasterRecord {
	byID := make(map[string]CenterFeatures, len(features))
	for _, f := range features {
		byID[f.CenterID] = f
	}

	master := make([]MasterRecord, 0, len(centers))
	for _, c := range centers {
		rec := MasterRecord{
			CenterStats: c,
			NationalGap: c.CenterAverageMarks - c.NationalAverageMarks,
			StateGap:    c.CenterAverageMarks - c.StateAverageMarks,
		}
		if f, ok := byID[c.CenterID]; ok {
			rec.StdDev = f.StdDev
			rec.Skewness = f.Skewness
			rec.Kurtosis = f.Kurtosis
		}
		if c.TotalStudents > 0 {
			n := float64(c.TotalStudents)
			rec.UltraHighScoreRatio = Some(float64(c.Above700Marks) / n)
			rec.HighScoreRatio = Some(float64(c.Above600Marks+c.Above700Marks) / n)
		}
		master = append(master, rec)
	}

	sort.Slice(master, func(i, j int) bool {
		return master[i].CenterID < master[j].CenterID
	})
	return master
}
