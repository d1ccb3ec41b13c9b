package matrix

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Record is one measured pair of the sparse input stream.
type Record struct {
	From     int     `json:"from"`
	To       int     `json:"to"`
	Time     float64 `json:"time"`
	Distance float64 `json:"distance"`
}

// SizeOf returns max(index seen)+1, or 0 for no records.
func SizeOf(records []Record) int {
	size := 0
	for _, r := range records {
		if r.From >= size {
			size = r.From + 1
		}
		if r.To >= size {
			size = r.To + 1
		}
	}
	return size
}

// ReadCSV parses "from,to,time,distance" lines. Blank lines are skipped and
// a first line whose leading field is not a number is treated as a header.
func ReadCSV(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	var out []Record
	line := 0
	for {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read csv: line %d: %w", line, err)
		}
		if len(fields) == 1 && strings.TrimSpace(fields[0]) == "" {
			continue
		}
		if len(fields) < 4 {
			return nil, fmt.Errorf("read csv: line %d: want 4 fields, got %d", line, len(fields))
		}
		rec, err := parseRecord(fields)
		if err != nil {
			if line == 1 && len(out) == 0 {
				if _, numErr := strconv.Atoi(strings.TrimSpace(fields[0])); numErr != nil {
					continue
				}
			}
			return nil, fmt.Errorf("read csv: line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func parseRecord(fields []string) (Record, error) {
	from, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil {
		return Record{}, fmt.Errorf("from index: %w", err)
	}
	to, err := strconv.Atoi(strings.TrimSpace(fields[1]))
	if err != nil {
		return Record{}, fmt.Errorf("to index: %w", err)
	}
	t, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
	if err != nil {
		return Record{}, fmt.Errorf("time: %w", err)
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(fields[3]), 64)
	if err != nil {
		return Record{}, fmt.Errorf("distance: %w", err)
	}
	if from < 0 || to < 0 {
		return Record{}, fmt.Errorf("negative index %d,%d: %w", from, to, ErrOutOfRange)
	}
	return Record{From: from, To: to, Time: t, Distance: d}, nil
}
