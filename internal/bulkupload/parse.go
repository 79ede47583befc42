// Package bulkupload imports charge rules from spreadsheets: it produces the
// upload template, parses .xlsx and .csv files, validates every row and
// applies the valid rows to a charge.
package bulkupload

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/pitabwire/chargecfg/model"
)

// Template columns.
const (
	ColAlias           = "alias"
	ColPriority        = "priority"
	ColValidityStart   = "validity_start"
	ColValidityEnd     = "validity_end"
	ColRateType        = "rate_type"
	ColComputeOn       = "compute_on"
	ColValue           = "value"
	ColSlabs           = "slabs"
	ColMGTGate         = "mgt_gate"
	ColApprovalEnabled = "approval_enabled"
)

// Columns lists the template columns in order. The dimension columns are
// named after their dimension and hold "|"-separated values.
var Columns = []string{
	ColAlias, ColPriority, ColValidityStart, ColValidityEnd, ColRateType, ColComputeOn,
	string(model.DimRoute), string(model.DimOrigin), string(model.DimDestination),
	string(model.DimVehicleType), string(model.DimMaterial), string(model.DimMovementType),
	ColValue, ColSlabs, ColMGTGate, ColApprovalEnabled,
}

// requiredColumns must be present in the header row of every upload.
var requiredColumns = []string{ColAlias, ColPriority, ColValidityStart, ColValidityEnd, ColRateType, ColComputeOn}

// Limits bound the size of an upload.
type Limits struct {
	MaxBytes int64
	MaxRows  int
}

// Upload is an uploaded file.
type Upload struct {
	Filename string
	Data     []byte
}

// Row is one data row of an upload. Number is the 1-based position among the
// data rows, not counting the header.
type Row struct {
	Number int               `json:"row"`
	Values map[string]string `json:"values"`
}

// Get returns the trimmed value of a column.
func (r Row) Get(column string) string {
	return strings.TrimSpace(r.Values[column])
}

// Parse reads the rows of an .xlsx or .csv upload. The first row must be a
// header naming the columns; blank rows are skipped.
func Parse(u Upload, limits Limits) ([]Row, error) {
	if limits.MaxBytes > 0 && int64(len(u.Data)) > limits.MaxBytes {
		return nil, model.NewPayloadTooLargeError(
			fmt.Sprintf("file is %d bytes; the limit is %d bytes", len(u.Data), limits.MaxBytes))
	}

	var (
		records [][]string
		err     error
	)
	switch strings.ToLower(filepath.Ext(u.Filename)) {
	case ".xlsx":
		records, err = readXLSX(u.Data)
	case ".csv":
		records, err = readCSV(u.Data)
	default:
		return nil, model.NewBadRequestError(
			fmt.Sprintf("unsupported file type %q; upload an .xlsx or .csv file", filepath.Ext(u.Filename)))
	}
	if err != nil {
		return nil, model.NewBadRequestError(fmt.Sprintf("read %s: %v", u.Filename, err))
	}
	if len(records) == 0 {
		return nil, model.NewBadRequestError("file is empty")
	}

	header := make([]string, len(records[0]))
	present := make(map[string]bool, len(header))
	for i, h := range records[0] {
		header[i] = strings.ToLower(strings.TrimSpace(h))
		present[header[i]] = true
	}
	var missing []string
	for _, c := range requiredColumns {
		if !present[c] {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, model.NewBadRequestError("missing columns: " + strings.Join(missing, ", "))
	}

	var rows []Row
	for _, rec := range records[1:] {
		if blank(rec) {
			continue
		}
		if limits.MaxRows > 0 && len(rows) == limits.MaxRows {
			return nil, model.NewPayloadTooLargeError(
				fmt.Sprintf("file has more than %d rows", limits.MaxRows))
		}
		values := make(map[string]string, len(header))
		for i, cell := range rec {
			if i < len(header) && header[i] != "" {
				values[header[i]] = cell
			}
		}
		rows = append(rows, Row{Number: len(rows) + 1, Values: values})
	}
	return rows, nil
}

func blank(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func readXLSX(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	return f.GetRows(sheets[0])
}

func readCSV(data []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var records [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
}
