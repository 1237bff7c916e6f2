package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"triad/internal/services"
)

type scanner interface{ Scan(dest ...any) error }

// timeLayout keeps a fixed width so stored timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nowString() string {
	return formatTime(time.Now())
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}

func parseTime(raw sql.NullString) time.Time {
	if !raw.Valid {
		return time.Time{}
	}
	t, _ := parseTimeString(raw.String)
	return t
}

func parseTimePtr(raw sql.NullString) *time.Time {
	if !raw.Valid {
		return nil
	}
	t, err := parseTimeString(raw.String)
	if err != nil {
		return nil
	}
	return &t
}

func encodeDescriptor(desc *services.Descriptor) (any, error) {
	if desc == nil {
		return nil, nil
	}
	data, err := json.Marshal(desc)
	if err != nil {
		return nil, fmt.Errorf("marshal error descriptor: %w", err)
	}
	return string(data), nil
}

func decodeDescriptor(raw sql.NullString) *services.Descriptor {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var desc services.Descriptor
	if err := json.Unmarshal([]byte(raw.String), &desc); err != nil {
		return &services.Descriptor{Code: services.KindProcessing.Code(), Kind: services.KindProcessing, Message: raw.String}
	}
	return &desc
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", count), ",")
}

func statusArgs[T ~string](values []T) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = string(v)
	}
	return args
}
