package csv

import (
	"encoding/csv"
	"os"
	"strconv"

	"github.com/examlens/examlens/pkg/dataset"
	"github.com/examlens/examlens/pkg/pipeline"
)

// resultColumns is the output layout: the master table extended with the
// anomaly score and flag.
var resultColumns = []string{
	"center_id", "center_name", "city", "state", "total_students",
	"center_average_marks", "state_average_marks", "national_average_marks",
	"above_600_marks", "above_700_marks",
	"Ultra_High_Score_Ratio", "High_Score_Ratio",
	"Center_v_National_Gap", "Center_v_State_Gap",
	"Center_Std_Dev", "Center_Skewness", "Center_Kurtosis",
	"Anomaly_Score", "Anomaly_Flag",
}

// ResultWriter writes the extended result table to a CSV file.
type ResultWriter struct {
	file   *os.File
	writer *csv.Writer
}

// NewResultWriter creates the output file, truncating any existing one.
func NewResultWriter(filename string) (*ResultWriter, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	return &ResultWriter{file: file, writer: csv.NewWriter(file)}, nil
}

// WriteReport writes the header and one row per center. Moment columns are
// rounded to 3 decimals for reporting; missing values become empty cells.
func (w *ResultWriter) WriteReport(report *pipeline.Report) error {
	if err := w.writer.Write(resultColumns); err != nil {
		return err
	}

	for _, row := range report.Rows {
		record := []string{
			row.CenterID,
			row.CenterName,
			row.City,
			row.State,
			strconv.Itoa(row.TotalStudents),
			formatFloat(row.CenterAverageMarks),
			formatFloat(row.StateAverageMarks),
			formatFloat(row.NationalAverageMarks),
			strconv.Itoa(row.Above600Marks),
			strconv.Itoa(row.Above700Marks),
			formatOptional(row.UltraHighScoreRatio),
			formatOptional(row.HighScoreRatio),
			formatFloat(row.NationalGap),
			formatFloat(row.StateGap),
			formatMoment(row.StdDev),
			formatMoment(row.Skewness),
			formatMoment(row.Kurtosis),
			formatFloat(row.AnomalyScore),
			string(row.Flag),
		}
		if err := w.writer.Write(record); err != nil {
			return err
		}
	}

	w.writer.Flush()
	return w.writer.Error()
}

// Close flushes and releases the output file.
func (w *ResultWriter) Close() error {
	w.writer.Flush()
	if err := w.writer.Error(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatOptional(v dataset.Float) string {
	if !v.Valid {
		return ""
	}
	return formatFloat(v.Value)
}

func formatMoment(v dataset.Float) string {
	if !v.Valid {
		return ""
	}
	return strconv.FormatFloat(v.Value, 'f', 3, 64)
}
