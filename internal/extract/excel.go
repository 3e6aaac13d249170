package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// extractExcel renders each non-empty row as one line of " | " separated cells. Workbooks with
// several sheets get a "[sheet]" line before each sheet's rows.
func extractExcel(content []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	var lines []string
	for _, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		var sheetLines []string
		for _, row := range rows {
			cells := make([]string, 0, len(row))
			for _, cell := range row {
				if cell = strings.TrimSpace(cell); cell != "" {
					cells = append(cells, cell)
				}
			}
			if len(cells) > 0 {
				sheetLines = append(sheetLines, strings.Join(cells, " | "))
			}
		}
		if len(sheetLines) == 0 {
			continue
		}
		if len(sheets) > 1 {
			lines = append(lines, "["+sheet+"]")
		}
		lines = append(lines, sheetLines...)
	}
	return strings.Join(lines, "\n"), nil
}
