// Package report renders per-class scores as CSV files and console tables.
package report

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/gocarina/gocsv"
	"github.com/olekukonko/tablewriter"

	"contactnet/internal/errors"
	"contactnet/internal/scoring"
)

// ClassRow is the score summary of one output class.
type ClassRow struct {
	Class string  `csv:"class" json:"class"`
	N     int     `csv:"n" json:"n"`
	Loss  float64 `csv:"loss" json:"loss"`
	Acc   float64 `csv:"acc" json:"acc"`
	PPV   float64 `csv:"ppv" json:"ppv"`
	NPV   float64 `csv:"npv" json:"npv"`
	TPR   float64 `csv:"tpr" json:"tpr"`
	TNR   float64 `csv:"tnr" json:"tnr"`
	MCC   float64 `csv:"mcc" json:"mcc"`
	AUC   float64 `csv:"auc" json:"auc"`
	Std   float64 `csv:"std" json:"std"`
	F1    float64 `csv:"f1" json:"f1"`
	// R is the observed positive rate of the class.
	R float64 `csv:"r" json:"r"`
}

// Rows lays out rec with one row per class. F1, R and N are left unset
// (NaN, NaN, 0) for the caller to fill in when it has them.
func Rows(names []string, rec scoring.Record) ([]ClassRow, error) {
	if len(names) != rec.Classes() {
		return nil, fmt.Errorf("%d class names for %d scored classes", len(names), rec.Classes())
	}
	rows := make([]ClassRow, len(names))
	for c, name := range names {
		loss := math.NaN()
		if c < len(rec.ClassLoss) {
			loss = rec.ClassLoss[c]
		}
		rows[c] = ClassRow{
			Class: name,
			Loss:  loss,
			Acc:   rec.Metric("acc", c),
			PPV:   rec.Metric("ppv", c),
			NPV:   rec.Metric("npv", c),
			TPR:   rec.Metric("tpr", c),
			TNR:   rec.Metric("tnr", c),
			MCC:   rec.Metric("mcc", c),
			AUC:   rec.Metric("auc", c),
			Std:   rec.Metric("std", c),
			F1:    math.NaN(),
			R:     math.NaN(),
		}
	}
	return rows, nil
}

func WriteCSV(w io.Writer, rows []ClassRow) error {
	return gocsv.Marshal(&rows, w)
}

func ReadCSV(r io.Reader) ([]ClassRow, error) {
	var rows []ClassRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// WriteFile writes rows as CSV to path.
func WriteFile(path string, rows []ClassRow) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.WithStack(err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return WriteCSV(f, rows)
}

// Render prints rows as a table with two decimals per score.
func Render(w io.Writer, rows []ClassRow) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"class", "n", "loss", "acc", "ppv", "npv", "tpr", "tnr", "mcc", "auc", "std", "f1", "r"})
	table.SetAutoFormatHeaders(false)
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	for _, row := range rows {
		table.Append([]string{
			row.Class,
			strconv.Itoa(row.N),
			format(row.Loss),
			format(row.Acc),
			format(row.PPV),
			format(row.NPV),
			format(row.TPR),
			format(row.TNR),
			format(row.MCC),
			format(row.AUC),
			format(row.Std),
			format(row.F1),
			format(row.R),
		})
	}
	table.Render()
}

func format(v float64) string {
	if math.IsNaN(v) {
		return "-"
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}
