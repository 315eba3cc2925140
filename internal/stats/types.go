// Package stats holds the counters produced by a sync pass and records run
// outcomes for later inspection.
package stats

import "fmt"

// Statistics counts what a sync pass did with the resources it saw
type Statistics struct {
	Processed     int    `json:"processed"`
	Created       int    `json:"created"`
	Updated       int    `json:"updated"`
	Failed        int    `json:"failed"`
	ReportMessage string `json:"reportMessage"`
}

// Add accumulates the counters of other. ReportMessage is left untouched.
func (s *Statistics) Add(other Statistics) {
	s.Processed += other.Processed
	s.Created += other.Created
	s.Updated += other.Updated
	s.Failed += other.Failed
}

// Unchanged is the number of processed resources that needed no write
func (s Statistics) Unchanged() int {
	return s.Processed - s.Created - s.Updated - s.Failed
}

// Report renders a one-line summary naming the plural resource noun
func (s Statistics) Report(noun string) string {
	return fmt.Sprintf("Summary: %d %s were processed in total (%d created, %d updated and %d failed to sync).",
		s.Processed, noun, s.Created, s.Updated, s.Failed)
}

// Finalize sets ReportMessage from the current counters
func (s *Statistics) Finalize(noun string) {
	s.ReportMessage = s.Report(noun)
}
