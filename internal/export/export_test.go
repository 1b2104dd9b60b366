package export

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/address-cli/internal/model"
)

func testRecords() []model.AddressRecord {
	return []model.AddressRecord{
		{
			Line:       1,
			Unencoded:  "346 SUMMER LN, MAPLEWOOD, MN, 55117",
			Encoded:    "44.9778, -93.265",
			Coordinate: &model.Coordinate{Lat: 44.9778, Lng: -93.265},
			Cell:       "8827532b41fffff",
		},
		{Line: 3, Unencoded: "767 CAPITOL HTS # 22, SAINT PAUL, MN, 55103"},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name, path string
		want       Format
		wantErr    bool
	}{
		{"json", "", FormatJSON, false},
		{"CSV", "out.json", FormatCSV, false},
		{"", "out.xlsx", FormatXLSX, false},
		{"", "out.CSV", FormatCSV, false},
		{"", "", FormatJSON, false},
		{"", "out.txt", "", true},
		{"yaml", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name+"|"+tt.path, func(t *testing.T) {
			got, err := ParseFormat(tt.name, tt.path)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "unsupported format")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWrite_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatJSON, testRecords()))

	var got []model.AddressRecord
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, testRecords(), got)
}

func TestWrite_JSONEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatJSON, nil))
	assert.Equal(t, "[]\n", buf.String())
}

func TestWrite_CSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatCSV, testRecords()))

	want := "line,unencoded,encoded,lat,lng,cell\n" +
		"1,\"346 SUMMER LN, MAPLEWOOD, MN, 55117\",\"44.9778, -93.265\",44.9778,-93.265,8827532b41fffff\n" +
		"3,\"767 CAPITOL HTS # 22, SAINT PAUL, MN, 55103\",,,,\n"
	assert.Equal(t, want, buf.String())
}

func TestWriteFile_XLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.xlsx")
	require.NoError(t, WriteFile(path, FormatXLSX, testRecords()))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 1)
	sheet := f.Sheets[0]
	assert.Equal(t, "addresses", sheet.Name)
	require.Len(t, sheet.Rows, 3)
	assert.Equal(t, "unencoded", sheet.Rows[0].Cells[1].String())
	assert.Equal(t, "346 SUMMER LN, MAPLEWOOD, MN, 55117", sheet.Rows[1].Cells[1].String())
	assert.Equal(t, "8827532b41fffff", sheet.Rows[1].Cells[5].String())
}

func TestWriteFile_CreateError(t *testing.T) {
	err := WriteFile(filepath.Join(t.TempDir(), "missing", "out.json"), FormatJSON, testRecords())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "export: create")
}

func TestWrite_UnsupportedFormat(t *testing.T) {
	err := Write(&bytes.Buffer{}, Format("yaml"), testRecords())
	require.Error(t, err)
}
