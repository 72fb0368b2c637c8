// Package io defines the flat-record collaborators around the scoring core:
// sources of student marks and center stats, and sinks for the result table.
package io

import (
	"github.com/examlens/examlens/pkg/dataset"
	"github.com/examlens/examlens/pkg/pipeline"
)

// StudentSource supplies per-student marks records from arbitrary storage.
type StudentSource interface {
	// ReadStudents returns the complete student record set.
	ReadStudents() ([]dataset.StudentRecord, error)

	// Close releases resources.
	Close() error
}

// CenterSource supplies pre-computed per-center metrics.
type CenterSource interface {
	// ReadCenters returns one stats row per center.
	ReadCenters() ([]dataset.CenterStats, error)

	// Close releases resources.
	Close() error
}

// ReportSink consumes the final extended record table. Implementations must
// address columns by name, never by position.
type ReportSink interface {
	// WriteReport outputs the joined result table.
	WriteReport(report *pipeline.Report) error

	// Close releases resources.
	Close() error
}
