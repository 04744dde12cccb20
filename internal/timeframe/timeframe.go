// Package timeframe computes the time bucketing used by chart queries:
// bucket sizing, SQLite group-by expressions and dense bucket sequences.
package timeframe

import (
	"fmt"
	"strings"
	"time"
)

type BucketSize string

const (
	BucketSizeHour BucketSize = "hour"
	BucketSizeDay  BucketSize = "day"
)

// Windows spanning fewer than this many days are bucketed hourly.
const hourlyThresholdDays = 3

// Bucket is one dense chart slot. Key matches the SQLite group-by output for
// the same slot; Label is the RFC3339 boundary handed to the frontend.
type Bucket struct {
	Key   string
	Label string
}

// TimeFrame is a half-open reporting window with a derived bucket size.
type TimeFrame struct {
	From       time.Time
	To         time.Time
	BucketSize BucketSize
}

// New builds a time frame over [from, to], bucketed hourly when the window
// spans fewer than three days and daily otherwise.
func New(from, to time.Time) (*TimeFrame, error) {
	if from.After(to) {
		return nil, fmt.Errorf("from must be before to")
	}

	size := BucketSizeDay
	if to.Sub(from) < hourlyThresholdDays*24*time.Hour {
		size = BucketSizeHour
	}

	return &TimeFrame{
		From:       from.UTC(),
		To:         to.UTC(),
		BucketSize: size,
	}, nil
}

// sqliteFormat is the strftime pattern producing this frame's bucket keys.
func (tf *TimeFrame) sqliteFormat() string {
	if tf.BucketSize == BucketSizeHour {
		return "%Y-%m-%d %H"
	}
	return "%Y-%m-%d"
}

// SQLiteGroupByExpression returns the strftime expression that groups the
// given timestamp column into this frame's buckets.
func (tf *TimeFrame) SQLiteGroupByExpression(column string) string {
	return fmt.Sprintf("strftime('%s', %s)", tf.sqliteFormat(), column)
}

// DisplayFormat is the hint for how the frontend should render bucket labels.
// The comparison period is bucketed independently and may use a different
// granularity than the primary period, so the hint travels with each report.
func (tf *TimeFrame) DisplayFormat() string {
	if tf.BucketSize == BucketSizeHour {
		return "LT" // localized time, e.g. 3:00 PM
	}
	return "MMM D" // e.g. Mar 10
}

// keyFormat derives the Go layout for bucket keys from the same strftime
// pattern the group-by uses, so in-memory keys always match SQL output.
func (tf *TimeFrame) keyFormat() string {
	return SQLiteToGoFormat(tf.sqliteFormat())
}

func (tf *TimeFrame) truncate(t time.Time) time.Time {
	t = t.UTC()
	if tf.BucketSize == BucketSizeHour {
		return t.Truncate(time.Hour)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (tf *TimeFrame) step(t time.Time) time.Time {
	if tf.BucketSize == BucketSizeHour {
		return t.Add(time.Hour)
	}
	return t.AddDate(0, 0, 1)
}

// Buckets generates the dense bucket sequence covering [From, To], one entry
// per bucket boundary inclusive of both ends. Boundaries past now are never
// emitted even when To lies in the future.
func (tf *TimeFrame) Buckets(now time.Time) []Bucket {
	end := tf.To
	if end.After(now) {
		end = now.UTC()
	}

	var buckets []Bucket
	for current := tf.truncate(tf.From); !current.After(end); current = tf.step(current) {
		buckets = append(buckets, Bucket{
			Key:   current.Format(tf.keyFormat()),
			Label: current.Format(time.RFC3339),
		})
	}
	return buckets
}

// Duration is the window's length.
func (tf *TimeFrame) Duration() time.Duration {
	return tf.To.Sub(tf.From)
}

// Previous is the symmetric comparison window of identical duration
// immediately preceding this one.
func (tf *TimeFrame) Previous() (*TimeFrame, error) {
	return New(tf.From.Add(-tf.Duration()), tf.From)
}

// SQLiteToGoFormat translates the subset of strftime verbs used by the chart
// queries into a Go reference layout.
func SQLiteToGoFormat(format string) string {
	format = strings.ReplaceAll(format, "%Y", "2006")
	format = strings.ReplaceAll(format, "%m", "01")
	format = strings.ReplaceAll(format, "%d", "02")
	format = strings.ReplaceAll(format, "%H", "15")
	return format
}
