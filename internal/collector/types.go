/*
Copyright 2025 The shiplift Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package collector

import (
	"time"
)

// DataPoint represents a single time-series data point.
type DataPoint struct {
	// Timestamp is when this data point was recorded.
	Timestamp time.Time `json:"timestamp"`

	// Value is the metric value at this timestamp.
	Value float64 `json:"value"`
}

// SampleWindow is a bounded buffer of recent samples for one service.
// It automatically prunes old data to stay within the retention period.
// Note: this type is not thread-safe. Concurrency control is handled by
// the owning control loop, which is single-goroutine per service.
type SampleWindow struct {
	// Points are the data points in chronological order.
	Points []DataPoint

	// Retention is how long to keep data points.
	Retention time.Duration

	// MaxPoints is the maximum number of points to store (0 = unlimited).
	MaxPoints int
}

// NewSampleWindow creates a window with the specified retention and cap.
func NewSampleWindow(retention time.Duration, maxPoints int) *SampleWindow {
	return &SampleWindow{
		Points:    make([]DataPoint, 0),
		Retention: retention,
		MaxPoints: maxPoints,
	}
}

// Add appends a data point and prunes old data.
func (w *SampleWindow) Add(timestamp time.Time, value float64) {
	w.Points = append(w.Points, DataPoint{Timestamp: timestamp, Value: value})
	w.prune(timestamp)
}

// Latest returns the most recent data point, or nil if empty.
func (w *SampleWindow) Latest() *DataPoint {
	if len(w.Points) == 0 {
		return nil
	}
	return &w.Points[len(w.Points)-1]
}

// LatestValue returns the most recent value, or 0 if empty.
func (w *SampleWindow) LatestValue() float64 {
	if len(w.Points) == 0 {
		return 0
	}
	return w.Points[len(w.Points)-1].Value
}

// prune removes points older than the retention period, then enforces the
// point cap by dropping the oldest entries.
func (w *SampleWindow) prune(now time.Time) {
	if w.Retention > 0 {
		cutoff := now.Add(-w.Retention)
		kept := w.Points[:0]
		for _, p := range w.Points {
			if !p.Timestamp.Before(cutoff) {
				kept = append(kept, p)
			}
		}
		w.Points = kept
	}
	if w.MaxPoints > 0 && len(w.Points) > w.MaxPoints {
		w.Points = w.Points[len(w.Points)-w.MaxPoints:]
	}
}
