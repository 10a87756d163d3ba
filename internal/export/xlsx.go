// Package export writes air-gap results to spreadsheet workbooks.
package export

import (
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strings"

	"github.com/xuri/excelize/v2"

	"rdsp/internal/core"
)

const (
	speedLabel   = "Speed (rpm)"
	numberFormat = "0.000"
	maxSheetName = 31
	defaultSheet = "Sheet1"
)

// ErrEmptyResult is returned when there is nothing to export.
var ErrEmptyResult = errors.New("export: empty result")

// WriteXLSX writes one worksheet per track. Row 1 holds the speed of each
// revolution, row p+1 holds pole p. NaN cells are left blank.
func WriteXLSX(w io.Writer, r core.Result) error {
	if len(r) == 0 {
		return ErrEmptyResult
	}
	f := excelize.NewFile()
	defer f.Close()

	numFmt := numberFormat
	style, err := f.NewStyle(&excelize.Style{CustomNumFmt: &numFmt})
	if err != nil {
		return fmt.Errorf("export: style: %w", err)
	}
	names := SheetNames(r)
	for i, tr := range r {
		if _, err := f.NewSheet(names[i]); err != nil {
			return fmt.Errorf("export: sheet %q: %w", names[i], err)
		}
		if err := writeTrack(f, names[i], tr, style); err != nil {
			return err
		}
	}
	if !slices.ContainsFunc(names, func(n string) bool { return strings.EqualFold(n, defaultSheet) }) {
		if err := f.DeleteSheet(defaultSheet); err != nil {
			return fmt.Errorf("export: drop default sheet: %w", err)
		}
	}
	if idx, err := f.GetSheetIndex(names[0]); err == nil && idx >= 0 {
		f.SetActiveSheet(idx)
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("export: write: %w", err)
	}
	return nil
}

func writeTrack(f *excelize.File, sheet string, tr core.TrackResult, style int) error {
	if err := f.SetCellStr(sheet, "A1", speedLabel); err != nil {
		return err
	}
	if err := setRow(f, sheet, 1, tr.Speed); err != nil {
		return err
	}
	for p, row := range tr.Data {
		cell, _ := excelize.CoordinatesToCellName(1, p+2)
		if err := f.SetCellValue(sheet, cell, p+1); err != nil {
			return err
		}
		if err := setRow(f, sheet, p+2, row); err != nil {
			return err
		}
	}
	width := len(tr.Speed)
	for _, row := range tr.Data {
		width = max(width, len(row))
	}
	if width == 0 {
		return nil
	}
	first, _ := excelize.CoordinatesToCellName(2, 1)
	last, _ := excelize.CoordinatesToCellName(width+1, len(tr.Data)+1)
	return f.SetCellStyle(sheet, first, last, style)
}

func setRow(f *excelize.File, sheet string, row int, vals []float64) error {
	for i, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(i+2, row)
		if err != nil {
			return err
		}
		if err := f.SetCellFloat(sheet, cell, v, -1, 64); err != nil {
			return err
		}
	}
	return nil
}

// SheetNames maps track names onto valid, case-insensitively unique worksheet
// names in result order.
func SheetNames(r core.Result) []string {
	out := make([]string, len(r))
	seen := make(map[string]bool, len(r))
	for i, tr := range r {
		base := sanitize(tr.Name)
		if base == "" {
			base = fmt.Sprintf("Track%d", i+1)
		}
		name := base
		for n := 2; seen[strings.ToLower(name)]; n++ {
			suffix := fmt.Sprintf(" (%d)", n)
			name = truncate(base, maxSheetName-len(suffix)) + suffix
		}
		seen[strings.ToLower(name)] = true
		out[i] = name
	}
	return out
}

func sanitize(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case ':', '\\', '/', '?', '*', '[', ']':
			return '_'
		}
		return r
	}, name)
	name = strings.Trim(strings.TrimSpace(name), "'")
	return truncate(name, maxSheetName)
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n])
}
