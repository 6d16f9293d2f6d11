package metadata

import (
	"time"

	"github.com/djherbis/times"
)

func fileTimes(path string) (map[string]string, error) {
	ts, err := times.Stat(path)
	if err != nil {
		return nil, err
	}
	result := map[string]string{
		"mod_time":    ts.ModTime().UTC().Format(time.RFC3339),
		"access_time": ts.AccessTime().UTC().Format(time.RFC3339),
	}
	if ts.HasChangeTime() {
		result["change_time"] = ts.ChangeTime().UTC().Format(time.RFC3339)
	}
	if ts.HasBirthTime() {
		result["creation_time"] = ts.BirthTime().UTC().Format(time.RFC3339)
	}
	return result, nil
}
