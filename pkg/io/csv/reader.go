// Package csv provides CSV readers and writers for the tabular exam records.
package csv

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/examlens/examlens/pkg/dataset"
)

// header maps column names to positions. Columns are addressed by name so
// input files may carry extra columns (serial numbers and the like) in any
// order.
type header map[string]int

func readHeader(r *csv.Reader) (header, error) {
	record, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	h := make(header, len(record))
	for i, name := range record {
		h[name] = i
	}
	return h, nil
}

func (h header) require(names ...string) error {
	for _, name := range names {
		if _, ok := h[name]; !ok {
			return fmt.Errorf("missing required column %q", name)
		}
	}
	return nil
}

func (h header) float(record []string, name string) (float64, error) {
	v, err := strconv.ParseFloat(record[h[name]], 64)
	if err != nil {
		return 0, fmt.Errorf("column %s: %w", name, err)
	}
	return v, nil
}

func (h header) int(record []string, name string) (int, error) {
	v, err := strconv.Atoi(record[h[name]])
	if err != nil {
		return 0, fmt.Errorf("column %s: %w", name, err)
	}
	return v, nil
}

// StudentReader reads per-student marks rows from a CSV file with at least
// the center_id and marks columns.
type StudentReader struct {
	file   *os.File
	reader *csv.Reader
	header header
}

// NewStudentReader opens a student marks CSV.
func NewStudentReader(filename string) (*StudentReader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	reader := csv.NewReader(file)

	h, err := readHeader(reader)
	if err != nil {
		file.Close()
		return nil, err
	}
	if err := h.require("center_id", "marks"); err != nil {
		file.Close()
		return nil, fmt.Errorf("%s: %w", filename, err)
	}

	return &StudentReader{file: file, reader: reader, header: h}, nil
}

// ReadStudents returns all student records. Rows with unparseable marks are
// skipped; the loader is lenient, the pipeline is not.
func (r *StudentReader) ReadStudents() ([]dataset.StudentRecord, error) {
	var records []dataset.StudentRecord

	for {
		record, err := r.reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		marks, err := r.header.float(record, "marks")
		if err != nil {
			continue
		}
		records = append(records, dataset.StudentRecord{
			CenterID: record[r.header["center_id"]],
			Marks:    marks,
		})
	}

	return records, nil
}

// Close releases resources.
func (r *StudentReader) Close() error {
	return r.file.Close()
}

// centerColumns are the required columns of a center stats CSV.
var centerColumns = []string{
	"center_id", "center_name", "city", "state", "total_students",
	"center_average_marks", "state_average_marks", "national_average_marks",
	"above_600_marks", "above_700_marks",
}

// CenterReader reads pre-computed per-center stats rows from a CSV file.
type CenterReader struct {
	file   *os.File
	reader *csv.Reader
	header header
}

// NewCenterReader opens a center stats CSV.
func NewCenterReader(filename string) (*CenterReader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	reader := csv.NewReader(file)

	h, err := readHeader(reader)
	if err != nil {
		file.Close()
		return nil, err
	}
	if err := h.require(centerColumns...); err != nil {
		file.Close()
		return nil, fmt.Errorf("%s: %w", filename, err)
	}

	return &CenterReader{file: file, reader: reader, header: h}, nil
}

// ReadCenters returns all center stats rows. Center rows are load-bearing for
// the join stage, so malformed values are errors, not skips.
func (r *CenterReader) ReadCenters() ([]dataset.CenterStats, error) {
	var centers []dataset.CenterStats

	line := 1
	for {
		record, err := r.reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++

		var parseErr error
		floatCol := func(name string) float64 {
			v, err := r.header.float(record, name)
			if err != nil && parseErr == nil {
				parseErr = err
			}
			return v
		}
		intCol := func(name string) int {
			v, err := r.header.int(record, name)
			if err != nil && parseErr == nil {
				parseErr = err
			}
			return v
		}

		c := dataset.CenterStats{
			CenterID:             record[r.header["center_id"]],
			CenterName:           record[r.header["center_name"]],
			City:                 record[r.header["city"]],
			State:                record[r.header["state"]],
			TotalStudents:        intCol("total_students"),
			CenterAverageMarks:   floatCol("center_average_marks"),
			StateAverageMarks:    floatCol("state_average_marks"),
			NationalAverageMarks: floatCol("national_average_marks"),
			Above600Marks:        intCol("above_600_marks"),
			Above700Marks:        intCol("above_700_marks"),
		}
		if parseErr != nil {
			return nil, fmt.Errorf("row %d: %w", line, parseErr)
		}

		centers = append(centers, c)
	}

	return centers, nil
}

// Close releases resources.
func (r *CenterReader) Close() error {
	return r.file.Close()
}
