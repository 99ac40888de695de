package store

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"

	"pmedians/internal/model"
)

// ResultColumns is the column order of the results log.
var ResultColumns = []string{"ObjVal", "ObjBound", "MIPGap", "Runtime", "NodeCount", "NumVars", "NumConstrs"}

// AppendResultLine appends one CSV line for a run to the results log at path,
// creating the file (and its directory) on first use.
func AppendResultLine(path string, r model.ResultLine) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	row := []string{
		ftoa(r.ObjVal),
		ftoa(r.ObjBound),
		ftoa(r.MIPGap),
		ftoa(r.Runtime),
		strconv.Itoa(r.NodeCount),
		strconv.Itoa(r.NumVars),
		strconv.Itoa(r.NumConstrs),
	}
	_ = w.Write(row) // a failed write shows up in w.Error after Flush
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func ftoa(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
