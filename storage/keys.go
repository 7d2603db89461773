package storage

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

const maxQuerySegment = 50

// SafeSegment lower-cases s and replaces every non-alphanumeric rune with '_' so it
// can be used inside an object key. The result is capped at max runes (0 = no cap).
func SafeSegment(s string, max int) string {
	var b strings.Builder
	n := 0
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if max > 0 && n == max {
			break
		}
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
		n++
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}

func shortID(batchID string) string {
	if len(batchID) > 8 {
		return batchID[:8]
	}
	return batchID
}

// RawKey is the time-bucketed key of a raw batch:
// raw/YYYY/MM/DD/HH/<query>_<YYYYMMDD_HHMMSS>_<batch8>.json
func RawKey(query string, fetchedAt time.Time, batchID string) string {
	ts := fetchedAt.UTC()
	return fmt.Sprintf("raw/%s/%s_%s_%s.json",
		ts.Format("2006/01/02/15"),
		SafeSegment(query, maxQuerySegment),
		ts.Format("20060102_150405"),
		shortID(batchID))
}

// PartitionPrefix is the Hive-style directory of one normalized partition.
func PartitionPrefix(day time.Time, source string) string {
	day = day.UTC()
	return fmt.Sprintf("normalized/year=%04d/month=%02d/day=%02d/source=%s",
		day.Year(), int(day.Month()), day.Day(), SafeSegment(source, 0))
}

// NormalizedKey names the Parquet object of one partition written by batchID at ts.
func NormalizedKey(day time.Time, source string, ts time.Time, batchID string) string {
	return fmt.Sprintf("%s/articles_%s_%s.parquet",
		PartitionPrefix(day, source), ts.UTC().Format("150405"), shortID(batchID))
}

// Location renders an s3:// URI.
func Location(bucket, key string) string {
	return "s3://" + bucket + "/" + key
}
