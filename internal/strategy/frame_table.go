package strategy

import (
	"strconv"
	"time"
)

// FrameTable flattens a frame into a header and row set suitable for columnar
// persistence. Column order is stable: timestamp, numeric columns, boolean
// columns (as 0/1), then label columns, each group sorted by name.
func FrameTable(f *Frame) ([]string, [][]string) {
	numeric := f.NumericColumns()
	booleans := f.BoolColumns()
	labels := f.LabelColumns()

	header := make([]string, 0, 1+len(numeric)+len(booleans)+len(labels))
	header = append(header, "timestamp")
	for _, col := range numeric {
		header = append(header, string(col))
	}
	for _, col := range booleans {
		header = append(header, string(col))
	}
	for _, col := range labels {
		header = append(header, string(col))
	}

	index := f.Index()
	rows := make([][]string, 0, len(index))
	for i, ts := range index {
		row := make([]string, 0, len(header))
		row = append(row, ts.UTC().Format(time.RFC3339Nano))
		for _, col := range numeric {
			series, _ := f.Numeric(col)
			row = append(row, strconv.FormatFloat(series[i], 'g', -1, 64))
		}
		for _, col := range booleans {
			series, _ := f.Bool(col)
			if series[i] {
				row = append(row, "1")
			} else {
				row = append(row, "0")
			}
		}
		for _, col := range labels {
			series, _ := f.Labels(col)
			row = append(row, series[i])
		}
		rows = append(rows, row)
	}
	return header, rows
}
