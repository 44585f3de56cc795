package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
)

// FromCSV reads a headered CSV stream into a Dataset. This is the
// boundary with the external data-loading collaborators; the engine
// itself never performs I/O past this point.
func FromCSV(r io.Reader) (*Dataset, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return New(nil, nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	var rows [][]string
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		rows = append(rows, record)
	}

	return New(header, rows), nil
}

// FromCSVFile reads a headered CSV file into a Dataset.
func FromCSVFile(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	return FromCSV(f)
}
