package policy

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"audioforge/internal/logging"
)

// maxEventLine bounds one JSONL line when scanning day logs.
const maxEventLine = 4 * 1024 * 1024

// ReadEvents loads every event from every day log under root, oldest day
// first. Malformed lines are skipped, not fatal: a crashed writer leaves a
// truncated tail and the reader must shrug it off. A missing directory
// yields an empty slice.
func ReadEvents(root string) ([]Event, error) {
	files, err := listDayLogs(root)
	if err != nil {
		return nil, err
	}

	var events []Event
	for _, path := range files {
		evs, err := readDayLog(path)
		if err != nil {
			logging.PolicyWarn("read %s: %v", path, err)
			continue
		}
		events = append(events, evs...)
	}
	return events, nil
}

// listDayLogs returns the day-log paths under root sorted by name, which
// sorts by UTC day because names are YYYYMMDD.log.
func listDayLogs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".log" {
			continue
		}
		files = append(files, filepath.Join(root, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func readDayLog(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxEventLine)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			// Truncated or garbage line; skip it.
			continue
		}
		events = append(events, ev)
	}
	return events, scanner.Err()
}

// cacheToken fingerprints the log directory. Stats are rebuilt only when
// the token changes.
type cacheToken struct {
	newestMTime int64
	fileCount   int
}

func snapshotLogDir(root string) cacheToken {
	var token cacheToken
	entries, err := os.ReadDir(root)
	if err != nil {
		return token
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".log" {
			continue
		}
		token.fileCount++
		info, err := e.Info()
		if err != nil {
			continue
		}
		if mt := info.ModTime().UnixNano(); mt > token.newestMTime {
			token.newestMTime = mt
		}
	}
	return token
}
