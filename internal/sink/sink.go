// Package sink persists batches of flat rows to line-delimited or tabular
// files. Overwrite truncates, append creates the file when absent. For csv the
// header is written once: an append against an existing file suppresses it.
package sink

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	jsoniter "github.com/json-iterator/go"

	"github.com/feedpoint/harvester/internal/config"
)

// Write persists rows to path. Columns fixes the csv column order (mapped
// field declaration order); ndjson ignores it. Empty batches are a no-op so a
// trailing empty page never truncates or touches the file.
func Write(rows []map[string]interface{}, columns []string, sinkType, path, mode string) error {
	if len(rows) == 0 {
		return nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create sink directory: %w", err)
		}
	}

	switch sinkType {
	case config.SinkNDJSON:
		return writeNDJSON(rows, path, mode)
	case config.SinkCSV:
		return writeCSV(rows, columns, path, mode)
	default:
		return fmt.Errorf("unsupported sink type %q", sinkType)
	}
}

func openSink(path, mode string) (*os.File, error) {
	flags := os.O_CREATE | os.O_WRONLY
	if mode == config.ModeAppend {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("open sink %s: %w", path, err)
	}
	return f, nil
}

func writeNDJSON(rows []map[string]interface{}, path, mode string) error {
	f, err := openSink(path, mode)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := jsoniter.NewEncoder(f)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("write ndjson row: %w", err)
		}
	}
	return nil
}

func writeCSV(rows []map[string]interface{}, columns []string, path, mode string) error {
	if len(columns) == 0 {
		columns = make([]string, 0, len(rows[0]))
		for name := range rows[0] {
			columns = append(columns, name)
		}
		sort.Strings(columns)
	}

	writeHeader := true
	if mode == config.ModeAppend {
		if _, err := os.Stat(path); err == nil {
			writeHeader = false
		}
	}

	f, err := openSink(path, mode)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write(columns); err != nil {
			return fmt.Errorf("write csv header: %w", err)
		}
	}
	record := make([]string, len(columns))
	for _, row := range rows {
		for i, name := range columns {
			record[i] = formatCell(row[name])
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func formatCell(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case map[string]interface{}, []interface{}:
		encoded, err := jsoniter.MarshalToString(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return encoded
	default:
		return fmt.Sprint(v)
	}
}
