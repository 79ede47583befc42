package bulkupload

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/pitabwire/chargecfg/model"
)

// Sheet names.
const (
	rulesSheet   = "Rules"
	optionsSheet = "Options"
	errorsSheet  = "Errors"
)

// templateRows is the number of rows the template drop-downs cover.
const templateRows = 1000

var rateTypes = []string{
	string(model.RateFixed), string(model.RatePerUnit), string(model.RateSlabbed), string(model.RateSlabOverflow),
}

// Template builds the upload workbook for a charge: a Rules sheet with the
// column header, an example row and drop-downs for the enumerated columns,
// and an Options sheet listing the accepted dimension values.
func Template(ch model.ChargeConfig, ref model.ReferenceData) ([]byte, error) {
	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	if err := xl.SetSheetName(xl.GetSheetName(0), rulesSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	header := slices.Clone(Columns)
	if err := xl.SetSheetRow(rulesSheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	example := exampleRow()
	if err := xl.SetSheetRow(rulesSheet, "A2", &example); err != nil {
		return nil, fmt.Errorf("write example: %w", err)
	}

	computeOn := make([]string, len(model.ComputeOnOptions))
	for i, c := range model.ComputeOnOptions {
		computeOn[i] = string(c)
	}
	for col, list := range map[string][]string{
		ColRateType:        rateTypes,
		ColComputeOn:       computeOn,
		ColMGTGate:         {"yes", "no"},
		ColApprovalEnabled: {"yes", "no"},
	} {
		if err := addDropList(xl, col, list); err != nil {
			return nil, err
		}
	}

	if _, err := xl.NewSheet(optionsSheet); err != nil {
		return nil, fmt.Errorf("add options sheet: %w", err)
	}
	title := []any{"charge", ch.Code, ch.Name}
	if err := xl.SetSheetRow(optionsSheet, "A1", &title); err != nil {
		return nil, fmt.Errorf("write options: %w", err)
	}
	for i, dim := range slices.Sorted(maps.Keys(ref.DimensionOptions)) {
		row := []any{string(dim), strings.Join(ref.DimensionOptions[dim], " | ")}
		cell, _ := excelize.CoordinatesToCellName(1, i+3)
		if err := xl.SetSheetRow(optionsSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("write options: %w", err)
		}
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write template: %w", err)
	}
	return buf.Bytes(), nil
}

func exampleRow() []any {
	row := make([]any, len(Columns))
	example := map[string]string{
		ColAlias:           "Example: Expressway trailers",
		ColPriority:        "1",
		ColValidityStart:   "2026-01-01",
		ColValidityEnd:     "2026-12-31",
		ColRateType:        string(model.RateSlabOverflow),
		ColComputeOn:       string(model.ComputeWeight),
		ColSlabs:           "0-100:Flat:500;100-500:Per-unit:4.5;overflow:Per-unit:3",
		ColMGTGate:         "no",
		ColApprovalEnabled: "no",
	}
	example[string(model.DimVehicleType)] = "Trailer|Container"
	for i, c := range Columns {
		row[i] = example[c]
	}
	return row
}

func addDropList(xl *excelize.File, column string, list []string) error {
	idx := slices.Index(Columns, column)
	name, err := excelize.ColumnNumberToName(idx + 1)
	if err != nil {
		return err
	}
	dv := excelize.NewDataValidation(true)
	dv.Sqref = fmt.Sprintf("%s2:%s%d", name, name, templateRows+1)
	if err := dv.SetDropList(list); err != nil {
		return fmt.Errorf("drop list for %s: %w", column, err)
	}
	if err := xl.AddDataValidation(rulesSheet, dv); err != nil {
		return fmt.Errorf("drop list for %s: %w", column, err)
	}
	return nil
}

// ErrorSheet builds a workbook holding the rows that failed validation, as
// uploaded, followed by the row number and the message.
func ErrorSheet(rows []Row, results []Result) ([]byte, error) {
	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	if err := xl.SetSheetName(xl.GetSheetName(0), errorsSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	header := make([]any, 0, len(Columns)+2)
	for _, c := range Columns {
		header = append(header, c)
	}
	header = append(header, "row", "message")
	if err := xl.SetSheetRow(errorsSheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	byNumber := make(map[int]Row, len(rows))
	for _, r := range rows {
		byNumber[r.Number] = r
	}
	line := 2
	for _, res := range results {
		if res.Status != StatusError {
			continue
		}
		src := byNumber[res.Row]
		record := make([]any, 0, len(Columns)+2)
		for _, c := range Columns {
			record = append(record, src.Values[c])
		}
		record = append(record, res.Row, res.Message)
		cell, _ := excelize.CoordinatesToCellName(1, line)
		if err := xl.SetSheetRow(errorsSheet, cell, &record); err != nil {
			return nil, fmt.Errorf("write row %d: %w", res.Row, err)
		}
		line++
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write error sheet: %w", err)
	}
	return buf.Bytes(), nil
}
