// Package export writes parse results as JSON, CSV or XLSX.
package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/address-cli/internal/model"
)

// Format is an output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// Columns is the tabular layout shared by CSV and XLSX.
var Columns = []string{"line", "unencoded", "encoded", "lat", "lng", "cell"}

// ParseFormat resolves a format name. An empty name falls back to the
// extension of path, then to JSON.
func ParseFormat(name, path string) (Format, error) {
	if name == "" {
		name = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
		if name == "" {
			return FormatJSON, nil
		}
	}
	switch f := Format(strings.ToLower(name)); f {
	case FormatJSON, FormatCSV, FormatXLSX:
		return f, nil
	default:
		return "", eris.Errorf("export: unsupported format %q", name)
	}
}

// Write encodes records to w.
func Write(w io.Writer, f Format, records []model.AddressRecord) error {
	switch f {
	case FormatJSON:
		return writeJSON(w, records)
	case FormatCSV:
		return writeCSV(w, records)
	case FormatXLSX:
		return writeXLSX(w, records)
	default:
		return eris.Errorf("export: unsupported format %q", f)
	}
}

// WriteFile encodes records into the file at path, replacing it.
func WriteFile(path string, f Format, records []model.AddressRecord) error {
	out, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "export: create %s", path)
	}
	if err := Write(out, f, records); err != nil {
		out.Close() //nolint:errcheck
		return err
	}
	return eris.Wrapf(out.Close(), "export: close %s", path)
}

func writeJSON(w io.Writer, records []model.AddressRecord) error {
	if records == nil {
		records = []model.AddressRecord{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(records), "export: encode json")
}

func writeCSV(w io.Writer, records []model.AddressRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	for _, r := range records {
		if err := cw.Write(row(r)); err != nil {
			return eris.Wrapf(err, "export: write csv line %d", r.Line)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

func writeXLSX(w io.Writer, records []model.AddressRecord) error {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet("addresses")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	addRow(sheet, Columns)
	for _, r := range records {
		addRow(sheet, row(r))
	}
	return eris.Wrap(file.Write(w), "export: write xlsx")
}

func addRow(sheet *xlsx.Sheet, values []string) {
	xr := sheet.AddRow()
	for _, v := range values {
		xr.AddCell().SetString(v)
	}
}

func row(r model.AddressRecord) []string {
	var lat, lng string
	if r.Coordinate != nil {
		lat = strconv.FormatFloat(r.Coordinate.Lat, 'f', -1, 64)
		lng = strconv.FormatFloat(r.Coordinate.Lng, 'f', -1, 64)
	}
	return []string{strconv.Itoa(r.Line), r.Unencoded, r.Encoded, lat, lng, r.Cell}
}
