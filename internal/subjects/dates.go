package subjects

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/araddon/dateparse"
	"github.com/xuri/excelize/v2"
)

const dateLayout = "2006-01-02"

// NormalizeDate reduces a spreadsheet timestamp to its calendar date.
// Excel serial numbers (1900 date system) and any layout dateparse
// understands are accepted.
func NormalizeDate(raw string) (string, error) {
	return normalizeDate(raw, false)
}

func normalizeDate(raw string, date1904 bool) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty date")
	}

	if serial, err := strconv.ParseFloat(raw, 64); err == nil && serial > 0 && serial < 2958466 {
		t, err := excelize.ExcelDateToTime(serial, date1904)
		if err != nil {
			return "", fmt.Errorf("excel serial %q: %w", raw, err)
		}
		return t.Format(dateLayout), nil
	}

	t, err := dateparse.ParseAny(raw)
	if err != nil {
		return "", fmt.Errorf("parsing date %q: %w", raw, err)
	}
	return t.Format(dateLayout), nil
}
