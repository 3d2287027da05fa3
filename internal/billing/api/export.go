package api

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"rentbilling/internal/billing/domain"
	"rentbilling/internal/common/money"
)

// Statement is the payout statement of one billing period.
type Statement struct {
	Period      domain.Period
	GeneratedAt time.Time
	Payouts     []*domain.Payout
	Gross       money.Money
	Fee         money.Money
	Net         money.Money
}

// NewStatement totals payouts. All payouts must share a currency.
func NewStatement(period domain.Period, payouts []*domain.Payout, now time.Time) (*Statement, error) {
	st := &Statement{
		Period:      period,
		GeneratedAt: now,
		Payouts:     payouts,
		Gross:       money.Zero(money.BRL),
		Fee:         money.Zero(money.BRL),
		Net:         money.Zero(money.BRL),
	}
	if len(payouts) == 0 {
		return st, nil
	}

	gross := make([]money.Money, len(payouts))
	fee := make([]money.Money, len(payouts))
	net := make([]money.Money, len(payouts))
	for i, p := range payouts {
		gross[i], fee[i], net[i] = p.Gross, p.Fee, p.Net
	}

	var err error
	if st.Gross, err = money.Sum(gross...); err != nil {
		return nil, fmt.Errorf("totaling gross: %w", err)
	}
	if st.Fee, err = money.Sum(fee...); err != nil {
		return nil, fmt.Errorf("totaling fees: %w", err)
	}
	if st.Net, err = money.Sum(net...); err != nil {
		return nil, fmt.Errorf("totaling net: %w", err)
	}
	return st, nil
}

func amount(m money.Money) string {
	return m.Decimal().StringFixed(2)
}

// BuildStatementPDF renders the statement as a single-table PDF.
func BuildStatementPDF(st *Statement) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Owner Payout Statement")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Period: %s", st.Period))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", st.GeneratedAt.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Payouts: %d", len(st.Payouts)))
	pdf.Ln(8)

	widths := []float64{60, 40, 32, 22, 32, 32, 30, 25}
	header := []string{"Owner", "Lease", "Transfer date", "Fee %", "Gross", "Fee", "Net", "Status"}
	pdf.SetFont("Arial", "B", 10)
	for i, h := range header {
		pdf.CellFormat(widths[i], 6, h, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 10)
	for _, p := range st.Payouts {
		row := []string{
			p.OwnerName,
			p.LeaseID,
			p.ExpectedTransferDate.Format(time.DateOnly),
			p.FeePct.String(),
			amount(p.Gross),
			amount(p.Fee),
			amount(p.Net),
			string(p.Status),
		}
		for i, v := range row {
			align := "L"
			if i >= 3 && i <= 6 {
				align = "R"
			}
			pdf.CellFormat(widths[i], 6, v, "1", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(widths[0]+widths[1]+widths[2]+widths[3], 6, "Total", "1", 0, "L", false, 0, "")
	pdf.CellFormat(widths[4], 6, amount(st.Gross), "1", 0, "R", false, 0, "")
	pdf.CellFormat(widths[5], 6, amount(st.Fee), "1", 0, "R", false, 0, "")
	pdf.CellFormat(widths[6], 6, amount(st.Net), "1", 0, "R", false, 0, "")
	pdf.CellFormat(widths[7], 6, "", "1", 0, "L", false, 0, "")
	pdf.Ln(-1)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildStatementXLSX renders the statement as a workbook with a summary
// sheet and one row per payout.
func BuildStatementXLSX(st *Statement) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	summarySheet := "summary"
	payoutsSheet := "payouts"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(payoutsSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Owner Payout Statement")
	_ = f.SetCellValue(summarySheet, "A3", "Period")
	_ = f.SetCellValue(summarySheet, "B3", st.Period.String())
	_ = f.SetCellValue(summarySheet, "A4", "Generated")
	_ = f.SetCellValue(summarySheet, "B4", st.GeneratedAt.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A5", "Payouts")
	_ = f.SetCellValue(summarySheet, "B5", len(st.Payouts))
	_ = f.SetCellValue(summarySheet, "A6", "Gross")
	_ = f.SetCellValue(summarySheet, "B6", st.Gross.Decimal().InexactFloat64())
	_ = f.SetCellValue(summarySheet, "A7", "Admin fee")
	_ = f.SetCellValue(summarySheet, "B7", st.Fee.Decimal().InexactFloat64())
	_ = f.SetCellValue(summarySheet, "A8", "Net to owners")
	_ = f.SetCellValue(summarySheet, "B8", st.Net.Decimal().InexactFloat64())
	_ = f.SetCellValue(summarySheet, "A9", "Currency")
	_ = f.SetCellValue(summarySheet, "B9", string(st.Net.Currency))

	header := []string{"Payout", "Invoice", "Lease", "Owner", "Transfer date", "Fee %", "Gross", "Fee", "Net", "Status"}
	for i, h := range header {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(payoutsSheet, cell, h)
	}
	for i, p := range st.Payouts {
		row := i + 2
		_ = f.SetCellValue(payoutsSheet, fmt.Sprintf("A%d", row), p.ID)
		_ = f.SetCellValue(payoutsSheet, fmt.Sprintf("B%d", row), p.InvoiceID)
		_ = f.SetCellValue(payoutsSheet, fmt.Sprintf("C%d", row), p.LeaseID)
		_ = f.SetCellValue(payoutsSheet, fmt.Sprintf("D%d", row), p.OwnerName)
		_ = f.SetCellValue(payoutsSheet, fmt.Sprintf("E%d", row), p.ExpectedTransferDate.Format(time.DateOnly))
		_ = f.SetCellValue(payoutsSheet, fmt.Sprintf("F%d", row), p.FeePct.InexactFloat64())
		_ = f.SetCellValue(payoutsSheet, fmt.Sprintf("G%d", row), p.Gross.Decimal().InexactFloat64())
		_ = f.SetCellValue(payoutsSheet, fmt.Sprintf("H%d", row), p.Fee.Decimal().InexactFloat64())
		_ = f.SetCellValue(payoutsSheet, fmt.Sprintf("I%d", row), p.Net.Decimal().InexactFloat64())
		_ = f.SetCellValue(payoutsSheet, fmt.Sprintf("J%d", row), string(p.Status))
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
