// Package jsonl reads and writes JSON Lines datasets and supports resuming
// interrupted batch runs from a partially written output file.
package jsonl

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Record is a single JSONL entry.
type Record = map[string]interface{}

// maxLineSize bounds a single JSONL line (completions can be large).
const maxLineSize = 16 * 1024 * 1024

// Read loads all records from a .jsonl file.
func Read(path string) ([]Record, error) {
	if !strings.HasSuffix(path, ".jsonl") {
		return nil, fmt.Errorf("file %q is not a jsonl file", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w", path, err)
	}
	defer f.Close()

	return decode(f, path)
}

// ReadMap loads a .jsonl file and indexes its records by idKey.
func ReadMap(path, idKey string) (map[string]Record, error) {
	records, err := Read(path)
	if err != nil {
		return nil, err
	}
	indexed := make(map[string]Record, len(records))
	for _, rec := range records {
		id, ok := rec[idKey]
		if !ok {
			return nil, fmt.Errorf("record in %q has no %q field", path, idKey)
		}
		indexed[fmt.Sprint(id)] = rec
	}
	return indexed, nil
}

// ReadGz loads all records from a gzip-compressed .jsonl.gz file.
func ReadGz(path string) ([]Record, error) {
	if !strings.HasSuffix(path, ".jsonl.gz") {
		return nil, fmt.Errorf("file %q is not a jsonl.gz file", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w", path, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("decompressing %q: %w", path, err)
	}
	defer gz.Close()

	return decode(gz, path)
}

// Write replaces the file at path with the given records.
func Write(path string, records []Record) error {
	return write(path, records, false)
}

// Append adds records to the end of the file at path, creating it if needed.
func Append(path string, records []Record) error {
	return write(path, records, true)
}

// FromJSON converts a JSON array file to a JSONL file.
func FromJSON(jsonPath, jsonlPath string) error {
	records, err := ReadJSON(jsonPath)
	if err != nil {
		return err
	}
	return Write(jsonlPath, records)
}

// ReadJSON loads records from a file holding a single JSON array.
func ReadJSON(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", path, err)
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parsing %q: %w", path, err)
	}
	return records, nil
}

// CompletedIDs returns the identifiers already present in an output file.
// A missing file yields an empty set, not an error.
func CompletedIDs(path, idKey string) (map[string]struct{}, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return map[string]struct{}{}, nil
	}
	records, err := Read(path)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(records))
	for _, rec := range records {
		if id, ok := rec[idKey]; ok {
			ids[fmt.Sprint(id)] = struct{}{}
		}
	}
	return ids, nil
}

// ReadAll reads several .jsonl files concurrently and merges their records.
// Per-file failures do not stop the other reads; they are joined into the
// returned error alongside whatever was read successfully.
func ReadAll(paths []string, workers int) ([]Record, error) {
	if workers <= 0 {
		workers = 1
	}

	type result struct {
		records []Record
		err     error
	}

	jobs := make(chan string)
	results := make(chan result)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				records, err := Read(path)
				if err != nil {
					err = fmt.Errorf("%s: %w", path, err)
				}
				results <- result{records: records, err: err}
			}
		}()
	}

	go func() {
		for _, path := range paths {
			jobs <- path
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	var all []Record
	var errs []error
	for res := range results {
		if res.err != nil {
			errs = append(errs, res.err)
			continue
		}
		all = append(all, res.records...)
	}
	return all, errors.Join(errs...)
}

func decode(r io.Reader, path string) ([]Record, error) {
	var records []Record
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, fmt.Errorf("parsing %q line %d: %w", path, line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %q: %w", path, err)
	}
	return records, nil
}

func write(path string, records []Record, appendMode bool) error {
	flags := os.O_CREATE | os.O_WRONLY
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("opening %q: %w", path, err)
	}

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			f.Close()
			return fmt.Errorf("encoding record for %q: %w", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flushing %q: %w", path, err)
	}
	return f.Close()
}
