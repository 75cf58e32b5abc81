package repository

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// timeLayout is a fixed-width RFC3339 format so stored UTC times sort as strings
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// dateLayout stores calendar dates so they compare as strings
const dateLayout = "2006-01-02"

// parseTime parses a time string in RFC3339 format
func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func parseDate(s string) (time.Time, error) {
	return time.Parse(dateLayout, s)
}

// nullableTime converts an optional time for an INSERT/UPDATE argument
func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func scanNullableTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// nextInvoiceNumber returns PREFIX-YEAR-SEQ one past the highest sequence in numbers
func nextInvoiceNumber(prefix string, year int, numbers []string) string {
	head := fmt.Sprintf("%s-%d-", prefix, year)
	last := 0
	for _, n := range numbers {
		if !strings.HasPrefix(n, head) {
			continue
		}
		var seq int
		if _, err := fmt.Sscanf(strings.TrimPrefix(n, head), "%d", &seq); err != nil {
			continue
		}
		if seq > last {
			last = seq
		}
	}
	return fmt.Sprintf("%s%03d", head, last+1)
}
