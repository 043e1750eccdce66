/*
payslip.go - PDF payslips for paid work entries

PURPOSE:
  Renders a one-page A4 payslip for a single paid work entry: who was paid,
  for which period, how much work at what rate, and how it was paid.

RULES:
  - Only paid entries have a payslip. Unpaid entries return
    payroll.ErrEntryNotPaid and nothing is written to w.
  - Amounts are printed with two decimals.
*/
package payslip

import (
	"fmt"
	"io"

	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/payroll"
)

// Payslip is everything printed on one document.
type Payslip struct {
	Company  string
	Employee payroll.Employee
	Entry    payroll.WorkEntry
	Run      *payroll.Run // nil when the entry was paid outside a run
}

// Render writes the payslip PDF to w.
func Render(w io.Writer, slip Payslip) error {
	if !slip.Entry.IsPaid {
		return fmt.Errorf("work entry %d: %w", slip.Entry.ID, payroll.ErrEntryNotPaid)
	}

	quantity, rate, unit := lineItem(slip.Employee, slip.Entry)

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(fmt.Sprintf("Payslip %d", slip.Entry.ID), false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(0, 10, "Payslip")
	pdf.Ln(10)
	if slip.Company != "" {
		pdf.SetFont("Helvetica", "", 11)
		pdf.Cell(0, 6, slip.Company)
		pdf.Ln(10)
	}

	pdf.SetFont("Helvetica", "", 12)
	row(pdf, "Employee", fmt.Sprintf("%s (#%d)", slip.Employee.Name(), slip.Employee.ID))
	row(pdf, "Period", fmt.Sprintf("%s to %s", slip.Entry.Period.Start, slip.Entry.Period.End))
	if slip.Run != nil {
		row(pdf, "Payroll run", fmt.Sprintf("#%d", slip.Run.ID))
	}
	pdf.Ln(4)

	row(pdf, "Quantity", fmt.Sprintf("%s %s", quantity.String(), unit))
	row(pdf, "Rate", fmt.Sprintf("%s per %s", rate.StringFixed(2), singular(unit)))
	row(pdf, "Gross", slip.Entry.GrossPay.StringFixed(2))
	row(pdf, "Deductions", slip.Entry.TotalDeductions.StringFixed(2))

	pdf.SetFont("Helvetica", "B", 12)
	row(pdf, "Net", slip.Entry.NetPay.StringFixed(2))
	pdf.SetFont("Helvetica", "", 12)
	pdf.Ln(4)

	row(pdf, "Payment type", string(slip.Entry.PaymentType))
	if slip.Entry.PaymentDate != nil {
		row(pdf, "Payment date", slip.Entry.PaymentDate.String())
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("failed to write payslip pdf: %w", err)
	}
	return nil
}

func row(pdf *gofpdf.Fpdf, label, value string) {
	pdf.Cell(45, 8, label+":")
	pdf.Cell(0, 8, value)
	pdf.Ln(7)
}

// lineItem picks the quantity and rate the entry was paid on.
func lineItem(emp payroll.Employee, entry payroll.WorkEntry) (decimal.Decimal, decimal.Decimal, string) {
	policy, err := emp.PayPolicy()
	if err != nil {
		return decimal.Zero, decimal.Zero, "units"
	}
	switch p := policy.(type) {
	case payroll.Hourly:
		return p.Quantity(entry), p.Rate, "hours"
	case payroll.Daily:
		return p.Quantity(entry), p.Rate, "days"
	}
	return decimal.Zero, decimal.Zero, "units"
}

func singular(unit string) string {
	switch unit {
	case "hours":
		return "hour"
	case "days":
		return "day"
	}
	return "unit"
}
