package efdms

import (
	"strconv"

	"github.com/alapierre/go-tra-vfd/vfd/model"
	"github.com/go-faster/errors"
)

const simIMSI = "WEBAPI"

// VATRateLabel e.g. "A-18.00"
func VATRateLabel(code model.TaxCode) string {
	return code.Letter() + "-" + code.Percent().StringFixed(2)
}

// EncodeZReport writes the ZREPORT fragment, without prolog.
func EncodeZReport(z *model.ZReport) (string, error) {
	if z == nil {
		return "", errors.New("z-report is nil")
	}
	doc := newDocument()
	root := doc.CreateElement("ZREPORT")

	add(root, "DATE", z.Date.Format(dateLayout))
	add(root, "TIME", z.Date.Format(timeLayout))

	header := root.CreateElement("HEADER")
	for _, line := range z.Header {
		add(header, "LINE", line)
	}

	add(root, "VRN", z.VRN)
	add(root, "TIN", z.TIN)
	add(root, "TAXOFFICE", z.TaxOffice)
	add(root, "REGID", z.RegID)
	add(root, "ZNUMBER", z.ZNumber)
	add(root, "EFDSERIAL", z.EFDSerial)
	add(root, "REGISTRATIONDATE", z.RegistrationDate)
	add(root, "USER", z.User)
	add(root, "SIMIMSI", simIMSI)

	t := z.Totals
	totals := root.CreateElement("TOTALS")
	add(totals, "DAILYTOTALAMOUNT", money(t.DailyTotalAmount))
	add(totals, "GROSS", money(t.Gross))
	add(totals, "CORRECTIONS", money(t.Corrections))
	add(totals, "DISCOUNTS", money(t.Discounts))
	add(totals, "SURCHARGES", money(t.Surcharges))
	add(totals, "TICKETSVOID", strconv.FormatInt(t.TicketsVoid, 10))
	add(totals, "TICKETSVOIDTOTAL", money(t.TicketsVoidTotal))
	add(totals, "TICKETSFISCAL", strconv.FormatInt(t.TicketsFiscal, 10))
	add(totals, "TICKETSNONFISCAL", strconv.FormatInt(t.TicketsNonFiscal, 10))

	vat := root.CreateElement("VATTOTALS")
	for _, v := range z.VATTotals {
		add(vat, "VATRATE", VATRateLabel(v.TaxCode))
		add(vat, "NETTAMOUNT", money(v.NetAmount))
		add(vat, "TAXAMOUNT", money(v.TaxAmount))
	}

	payments := root.CreateElement("PAYMENTS")
	for _, p := range z.Payments {
		add(payments, "PMTTYPE", string(p.Type))
		add(payments, "PMTAMOUNT", money(p.Amount))
	}

	changes := root.CreateElement("CHANGES")
	add(changes, "VATCHANGENUM", strconv.Itoa(z.VATChangeNum))
	add(changes, "HEADCHANGENUM", strconv.Itoa(z.HeadChangeNum))

	add(root, "ERRORS", z.Errors)
	add(root, "FWVERSION", z.FWVersion)
	add(root, "FWCHECKSUM", z.FWChecksum)

	return write(doc)
}
