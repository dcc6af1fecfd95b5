package checkpoint

import (
	"encoding/csv"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrCorrupt is returned when a checkpoint or source file exists but
// cannot be parsed as CSV. Fatal at startup, no auto-repair.
var ErrCorrupt = errors.New("checkpoint file is corrupt")

// Table is the full working dataset: every source row plus derived and
// result columns, re-loadable in the same row and column order it was
// persisted with. Cells are strings; the empty string means unset.
type Table struct {
	path   string
	header []string
	index  map[string]int
	rows   [][]string
}

// LoadOrInit loads the checkpoint at checkpointPath if it exists.
// Otherwise it loads the source table, appends each missing result
// column empty, and persists the augmented table once so a later run
// resumes from the checkpoint.
func LoadOrInit(checkpointPath, sourcePath string, resultColumns []string) (*Table, error) {
	if _, err := os.Stat(checkpointPath); err == nil {
		t, err := load(checkpointPath)
		if err != nil {
			return nil, err
		}
		t.EnsureColumns(resultColumns...)
		log.Printf("INFO: loaded checkpoint %s (%d rows)", checkpointPath, t.Len())
		return t, nil
	}

	t, err := load(sourcePath)
	if err != nil {
		return nil, err
	}
	t.path = checkpointPath
	t.EnsureColumns(resultColumns...)
	if err := t.Persist(); err != nil {
		return nil, err
	}
	log.Printf("INFO: created checkpoint %s from %s (%d rows)", checkpointPath, sourcePath, t.Len())
	return t, nil
}

func load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open table %s: %w", path, err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s: missing header row", ErrCorrupt, path)
	}

	t := &Table{
		path:   path,
		header: records[0],
		index:  make(map[string]int, len(records[0])),
		rows:   records[1:],
	}
	for i, name := range t.header {
		t.index[name] = i
	}
	return t, nil
}

// Len returns the number of data rows.
func (t *Table) Len() int { return len(t.rows) }

// Header returns a copy of the column names in persisted order.
func (t *Table) Header() []string {
	h := make([]string, len(t.header))
	copy(h, t.header)
	return h
}

// HasColumn reports whether the table has a column with this name.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.index[name]
	return ok
}

// EnsureColumns appends each named column with empty cells if it is not
// already present. Existing columns and values are left untouched.
func (t *Table) EnsureColumns(names ...string) {
	for _, name := range names {
		if _, ok := t.index[name]; ok {
			continue
		}
		t.index[name] = len(t.header)
		t.header = append(t.header, name)
		for i := range t.rows {
			t.rows[i] = append(t.rows[i], "")
		}
	}
}

// Get returns the cell value, or "" when the column does not exist.
func (t *Table) Get(row int, col string) string {
	i, ok := t.index[col]
	if !ok {
		return ""
	}
	return t.rows[row][i]
}

// Set writes a cell value. Columns must be created with EnsureColumns
// first; writes to unknown columns are ignored.
func (t *Table) Set(row int, col, value string) {
	i, ok := t.index[col]
	if !ok {
		return
	}
	t.rows[row][i] = value
}

// SetFloat writes an optional numeric cell; nil clears it to unset.
func (t *Table) SetFloat(row int, col string, v *float64) {
	if v == nil {
		t.Set(row, col, "")
		return
	}
	t.Set(row, col, strconv.FormatFloat(*v, 'f', -1, 64))
}

// Float parses a cell as float64.
func (t *Table) Float(row int, col string) (float64, error) {
	s := strings.TrimSpace(t.Get(row, col))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("row %d column %q: %w", row, col, err)
	}
	return v, nil
}

// Int parses a cell as int.
func (t *Table) Int(row int, col string) (int, error) {
	s := strings.TrimSpace(t.Get(row, col))
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("row %d column %q: %w", row, col, err)
	}
	return v, nil
}

// Persist rewrites the whole checkpoint file with the current in-memory
// state, via a temp file and rename. Safe to call after every batch.
func (t *Table) Persist() error {
	tmp, err := os.CreateTemp(filepath.Dir(t.path), ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("persist checkpoint: %w", err)
	}

	w := csv.NewWriter(tmp)
	if err := w.Write(t.header); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("persist checkpoint: %w", err)
	}
	for _, row := range t.rows {
		if err := w.Write(row); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return fmt.Errorf("persist checkpoint: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("persist checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("persist checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), t.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("persist checkpoint: %w", err)
	}
	return nil
}
