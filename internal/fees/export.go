package fees

import (
	"encoding/csv"
	"io"
	"strconv"
)

var duesCSVHeader = []string{"student_id", "admission_number", "student_name", "academic_year", "fee_type", "ledger", "balance", "total_dues"}

// WriteDuesCSV writes one line per contributing record.
func WriteDuesCSV(w io.Writer, rows []StudentDues) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(duesCSVHeader); err != nil {
		return err
	}
	for _, row := range rows {
		for _, d := range row.Details {
			record := []string{
				strconv.FormatInt(row.StudentID, 10),
				row.Student.AdmissionNumber,
				row.Student.Name,
				d.YearName,
				d.FeeType,
				string(d.Ledger),
				d.Balance.StringFixed(2),
				row.TotalDues.StringFixed(2),
			}
			if err := cw.Write(record); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}
