package analytics

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"beaconly/internal/timeframe"
)

// ChartData is the bucketed time series for one period. The arrays are
// parallel and dense: one entry per bucket boundary from the window start
// through now, zero-filled where nothing happened.
type ChartData struct {
	Labels   []string `json:"labels"`
	Sessions []int64  `json:"sessions"`
	Hits     []int64  `json:"hits"`

	// Granularity and DisplayFormat describe this period's bucketing. The
	// comparison period is bucketed independently and may differ.
	Granularity   string `json:"granularity"`
	DisplayFormat string `json:"display_format"`
}

type bucketCount struct {
	Bucket string
	Count  int64
}

func bucketCounts(db *gorm.DB, table, serviceUUID string, tf *timeframe.TimeFrame) (map[string]int64, error) {
	groupBy := tf.SQLiteGroupByExpression("start_time")
	query := fmt.Sprintf(`
        SELECT %s AS bucket, COUNT(*) AS count
        FROM %s
        WHERE service_uuid = ? AND start_time >= ? AND start_time < ?
        GROUP BY bucket
    `, groupBy, table)

	var rows []bucketCount
	if err := db.Raw(query, serviceUUID, tf.From, tf.To).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("error bucketing %s: %w", table, err)
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Bucket] = row.Count
	}
	return counts, nil
}

// GetChartData builds the dense per-bucket series of session and hit starts.
func GetChartData(db *gorm.DB, serviceUUID string, tf *timeframe.TimeFrame, now time.Time) (*ChartData, error) {
	sessionCounts, err := bucketCounts(db, "sessions", serviceUUID, tf)
	if err != nil {
		return nil, err
	}
	hitCounts, err := bucketCounts(db, "hits", serviceUUID, tf)
	if err != nil {
		return nil, err
	}

	buckets := tf.Buckets(now)
	chart := &ChartData{
		Labels:        make([]string, len(buckets)),
		Sessions:      make([]int64, len(buckets)),
		Hits:          make([]int64, len(buckets)),
		Granularity:   string(tf.BucketSize),
		DisplayFormat: tf.DisplayFormat(),
	}
	for i, bucket := range buckets {
		chart.Labels[i] = bucket.Label
		chart.Sessions[i] = sessionCounts[bucket.Key]
		chart.Hits[i] = hitCounts[bucket.Key]
	}
	return chart, nil
}
