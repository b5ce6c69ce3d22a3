package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/trackside-presence/internal/domain"
)

// table is a parsed CSV with a case-insensitive header index.
type table struct {
	colIdx map[string]int
	rows   [][]string
}

func readTable(r io.Reader, required ...string) (*table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.New("empty CSV")
	}

	colIdx := make(map[string]int, len(records[0]))
	for i, h := range records[0] {
		colIdx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range required {
		if _, ok := colIdx[col]; !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}
	return &table{colIdx: colIdx, rows: records[1:]}, nil
}

func (t *table) get(row []string, col string) string {
	i, ok := t.colIdx[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func (t *table) float(row []string, col string) (float64, error) {
	v := t.get(row, col)
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q", col, v)
	}
	return f, nil
}

// readVenuesCSV parses id,name,lat,lon,radius_m,city,state,surface. Only
// id, name, lat and lon are required; an empty radius_m uses the default.
func readVenuesCSV(r io.Reader) ([]domain.Venue, error) {
	t, err := readTable(r, "id", "name", "lat", "lon")
	if err != nil {
		return nil, err
	}

	venues := make([]domain.Venue, 0, len(t.rows))
	for n, row := range t.rows {
		line := n + 2
		v := domain.Venue{
			ID:      t.get(row, "id"),
			Name:    t.get(row, "name"),
			City:    t.get(row, "city"),
			State:   t.get(row, "state"),
			Surface: t.get(row, "surface"),
		}
		if v.ID == "" {
			return nil, fmt.Errorf("line %d: empty id", line)
		}
		if v.Lat, err = t.float(row, "lat"); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if v.Lon, err = t.float(row, "lon"); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if _, err := domain.NewPosition(v.Lat, v.Lon, nil, time.Time{}); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if t.get(row, "radius_m") != "" {
			if v.DetectionRadiusMeters, err = t.float(row, "radius_m"); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
		}
		venues = append(venues, v)
	}
	return venues, nil
}

// readFixesCSV parses lat,lon with optional accuracy (meters) and time
// (RFC 3339). Rows without a time are stamped when replayed.
func readFixesCSV(r io.Reader) ([]domain.Position, error) {
	t, err := readTable(r, "lat", "lon")
	if err != nil {
		return nil, err
	}

	fixes := make([]domain.Position, 0, len(t.rows))
	for n, row := range t.rows {
		line := n + 2
		lat, err := t.float(row, "lat")
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		lon, err := t.float(row, "lon")
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		var acc *float64
		if t.get(row, "accuracy") != "" {
			a, err := t.float(row, "accuracy")
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			acc = &a
		}

		var ts time.Time
		if s := t.get(row, "time"); s != "" {
			if ts, err = time.Parse(time.RFC3339, s); err != nil {
				return nil, fmt.Errorf("line %d: time: %w", line, err)
			}
		}

		// Positions are built at replay time so untimed rows pick up the
		// replay clock.
		fixes = append(fixes, domain.Position{Lat: lat, Lon: lon, Accuracy: acc, Timestamp: ts})
	}
	return fixes, nil
}
