package aspect

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// File names looked up by LoadDir.
const (
	SetsFile    = "aspect_sets.csv"
	AspectsFile = "aspects.csv"
)

// LoadDir reads aspect_sets.csv and aspects.csv from dir.
func LoadDir(dir string) ([]Set, error) {
	sf, err := os.Open(filepath.Join(dir, SetsFile))
	if err != nil {
		return nil, fmt.Errorf("aspect: open sets: %w", err)
	}
	defer sf.Close()
	af, err := os.Open(filepath.Join(dir, AspectsFile))
	if err != nil {
		return nil, fmt.Errorf("aspect: open aspects: %w", err)
	}
	defer af.Close()
	return ReadSets(sf, af)
}

// ReadSets parses the two tables. Both are ';' separated with a header row.
// The sets table needs id and name columns; the aspects table needs set, id,
// name, angle and orb. Any other aspect column is kept in Def.Attrs under
// its header name.
func ReadSets(sets, aspects io.Reader) ([]Set, error) {
	srows, sidx, err := readTable(sets, "id", "name")
	if err != nil {
		return nil, fmt.Errorf("aspect: %s: %w", SetsFile, err)
	}
	byID := map[int]*Set{}
	var order []int
	for n, row := range srows {
		id, err := strconv.Atoi(row[sidx["id"]])
		if err != nil {
			return nil, fmt.Errorf("aspect: %s row %d: bad id: %w", SetsFile, n+2, err)
		}
		if _, dup := byID[id]; dup {
			return nil, fmt.Errorf("aspect: %s row %d: duplicate set id %d", SetsFile, n+2, id)
		}
		byID[id] = &Set{ID: id, Name: row[sidx["name"]]}
		order = append(order, id)
	}

	arows, aidx, err := readTable(aspects, "set", "id", "name", "angle", "orb")
	if err != nil {
		return nil, fmt.Errorf("aspect: %s: %w", AspectsFile, err)
	}
	var header []string
	for name, i := range aidx {
		for len(header) <= i {
			header = append(header, "")
		}
		header[i] = name
	}
	for n, row := range arows {
		line := n + 2
		setID, err := strconv.Atoi(row[aidx["set"]])
		if err != nil {
			return nil, fmt.Errorf("aspect: %s row %d: bad set: %w", AspectsFile, line, err)
		}
		s, ok := byID[setID]
		if !ok {
			return nil, fmt.Errorf("aspect: %s row %d: unknown set %d", AspectsFile, line, setID)
		}
		d := Def{Name: row[aidx["name"]]}
		if d.ID, err = strconv.Atoi(row[aidx["id"]]); err != nil {
			return nil, fmt.Errorf("aspect: %s row %d: bad id: %w", AspectsFile, line, err)
		}
		if d.Angle, err = strconv.ParseFloat(row[aidx["angle"]], 64); err != nil {
			return nil, fmt.Errorf("aspect: %s row %d: bad angle: %w", AspectsFile, line, err)
		}
		if d.Orb, err = strconv.ParseFloat(row[aidx["orb"]], 64); err != nil {
			return nil, fmt.Errorf("aspect: %s row %d: bad orb: %w", AspectsFile, line, err)
		}
		if d.Angle < 0 || d.Angle > 180 || d.Orb < 0 {
			return nil, fmt.Errorf("aspect: %s row %d: angle %v orb %v out of range", AspectsFile, line, d.Angle, d.Orb)
		}
		for i, v := range row {
			switch h := header[i]; h {
			case "set", "id", "name", "angle", "orb":
			default:
				if v == "" {
					continue
				}
				if d.Attrs == nil {
					d.Attrs = map[string]string{}
				}
				d.Attrs[h] = v
			}
		}
		s.Defs = append(s.Defs, d)
	}

	out := make([]Set, 0, len(order))
	for _, id := range order {
		s := *byID[id]
		sort.SliceStable(s.Defs, func(i, j int) bool { return s.Defs[i].ID < s.Defs[j].ID })
		out = append(out, s)
	}
	return out, nil
}

func readTable(r io.Reader, required ...string) ([][]string, map[string]int, error) {
	cr := csv.NewReader(r)
	cr.Comma = ';'
	cr.Comment = '#'
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	head, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, errors.New("missing header")
	}
	if err != nil {
		return nil, nil, err
	}
	idx := map[string]int{}
	for i, h := range head {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, want := range required {
		if _, ok := idx[want]; !ok {
			return nil, nil, fmt.Errorf("missing column %q", want)
		}
	}
	var rows [][]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		for len(rec) < len(head) {
			rec = append(rec, "")
		}
		for i := range rec {
			rec[i] = strings.TrimSpace(rec[i])
		}
		rows = append(rows, rec[:len(head)])
	}
	return rows, idx, nil
}
