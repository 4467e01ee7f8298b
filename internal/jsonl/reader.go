package jsonl

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
)

// maxLineBytes bounds a single JSONL line, large enough for a task with a
// long description plus metadata.
const maxLineBytes = 64 * 1024 * 1024

// ReadFile reads every record from a JSONL sync file, in file order.
func ReadFile(path string) ([]Record, error) {
	// #nosec G304 -- controlled path from caller (project-root-relative sync file)
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open jsonl file: %w", err)
	}
	defer func() { _ = file.Close() }()

	records, err := scanRecords(bufio.NewScanner(file))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return records, nil
}

// ReadData reads every record from in-memory JSONL data, in line order.
func ReadData(data []byte) ([]Record, error) {
	return scanRecords(bufio.NewScanner(bytes.NewReader(data)))
}

func scanRecords(scanner *bufio.Scanner) ([]Record, error) {
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var records []Record
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("parse record at line %d: %w", lineNum, err)
		}
		if rec.V > schemaVersion {
			slog.Warn("jsonl: ignoring record with unknown schema version", "line", lineNum, "v", rec.V, "op", rec.Op)
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	return records, nil
}
