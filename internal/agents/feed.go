// Initial population feeds: CSV files and seeded random scatter.
package agents

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/talgya/jotrsim/internal/landscape"
	"github.com/talgya/jotrsim/internal/rng"
)

// ReadRecordsCSV reads lon,lat,age records. The header row names the columns;
// column order is free and extra columns are ignored.
func ReadRecordsCSV(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	recs, err := DecodeRecordsCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return recs, nil
}

// DecodeRecordsCSV parses CSV with lon, lat and age columns.
func DecodeRecordsCSV(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := map[string]int{"lon": -1, "lat": -1, "age": -1}
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		if _, ok := cols[key]; ok {
			cols[key] = i
		}
	}
	for k, idx := range cols {
		if idx < 0 {
			return nil, fmt.Errorf("header missing %q column", k)
		}
	}

	var out []Record
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		lon, err1 := strconv.ParseFloat(row[cols["lon"]], 64)
		lat, err2 := strconv.ParseFloat(row[cols["lat"]], 64)
		age, err3 := strconv.ParseUint(row[cols["age"]], 10, 16)
		if err1 != nil || err2 != nil || err3 != nil {
			return nil, fmt.Errorf("line %d: invalid lon/lat/age %v", line, row)
		}
		out = append(out, Record{Position: landscape.Point{X: lon, Y: lat}, Age: uint16(age)})
	}
	return out, nil
}

// WriteRecordsCSV writes the live agents as a feed for a follow-up run.
func WriteRecordsCSV(path string, list []*Agent) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"lon", "lat", "age", "stage"}); err != nil {
		return err
	}
	for _, a := range list {
		if !a.Alive() {
			continue
		}
		err := w.Write([]string{
			strconv.FormatFloat(a.Position.X, 'f', -1, 64),
			strconv.FormatFloat(a.Position.Y, 'f', -1, 64),
			strconv.Itoa(int(a.Age)),
			a.Stage.String(),
		})
		if err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

// ScatterRecords places count records uniformly inside the bounds
// (west, south, east, north) with ages uniform in [minAge, maxAge].
func ScatterRecords(bounds [4]float64, count int, minAge, maxAge uint16, src rng.Source) []Record {
	if maxAge < minAge {
		minAge, maxAge = maxAge, minAge
	}
	west, south, east, north := bounds[0], bounds[1], bounds[2], bounds[3]
	out := make([]Record, count)
	for i := range out {
		x := west + src.Float64()*(east-west)
		y := north - src.Float64()*(north-south) // (south, north]: row 0 is the northern edge
		age := minAge + uint16(src.IntN(int(maxAge-minAge)+1))
		out[i] = Record{Position: landscape.Point{X: x, Y: y}, Age: age}
	}
	return out
}
