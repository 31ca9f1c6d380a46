package efdms

import (
	"strconv"
	"time"

	"github.com/alapierre/go-tra-vfd/vfd/model"
	"github.com/beevik/etree"
	"github.com/go-faster/errors"
)

// EncodeReceipt writes the RCT fragment, without prolog.
func EncodeReceipt(r *model.Receipt) (string, error) {
	if r == nil {
		return "", errors.New("receipt is nil")
	}
	doc := newDocument()
	rct := doc.CreateElement("RCT")

	add(rct, "DATE", r.Date.Format(dateLayout))
	add(rct, "TIME", r.Date.Format(timeLayout))
	add(rct, "TIN", r.TIN)
	add(rct, "REGID", r.RegID)
	add(rct, "EFDSERIAL", r.EFDSerial)
	add(rct, "CUSTIDTYPE", strconv.Itoa(int(r.Customer.IDType)))
	add(rct, "CUSTID", r.Customer.ID)
	add(rct, "CUSTNAME", r.Customer.Name)
	add(rct, "MOBILENUM", r.Customer.Mobile)
	add(rct, "RCTNUM", strconv.FormatInt(r.RCTNUM, 10))
	add(rct, "DC", strconv.FormatInt(r.DC, 10))
	add(rct, "GC", strconv.FormatInt(r.GC, 10))
	add(rct, "ZNUM", r.ZNUM)
	add(rct, "RCTVNUM", r.ReceiptCode)

	items := rct.CreateElement("ITEMS")
	for _, it := range r.Items {
		item := items.CreateElement("ITEM")
		add(item, "ID", it.ID)
		add(item, "DESC", it.Desc)
		add(item, "QTY", it.Qty.String())
		add(item, "TAXCODE", strconv.Itoa(int(it.TaxCode)))
		add(item, "AMT", money(it.Amt))
	}

	totals := rct.CreateElement("TOTALS")
	add(totals, "TOTALTAXEXCL", money(r.Totals.TaxExcl))
	add(totals, "TOTALTAXINCL", money(r.Totals.TaxIncl))
	add(totals, "DISCOUNT", money(r.Totals.Discount))

	payments := rct.CreateElement("PAYMENTS")
	for _, p := range r.Payments {
		add(payments, "PMTTYPE", string(p.Type))
		add(payments, "PMTAMOUNT", money(p.Amount))
	}

	vat := rct.CreateElement("VATTOTALS")
	for _, v := range r.VATTotals {
		add(vat, "VATRATE", v.Rate)
		add(vat, "NETTAMOUNT", money(v.NetAmount))
		add(vat, "TAXAMOUNT", money(v.TaxAmount))
	}

	return write(doc)
}

// DecodeReceipt reads an RCT fragment back into a model.Receipt.
func DecodeReceipt(s string) (*model.Receipt, error) {
	root, err := parse(s)
	if err != nil {
		return nil, err
	}
	if root.Tag != "RCT" {
		if root = root.SelectElement("RCT"); root == nil {
			return nil, errors.Wrap(ErrMalformed, "RCT not found")
		}
	}

	r := &model.Receipt{
		TIN:         text(root, "TIN"),
		RegID:       text(root, "REGID"),
		EFDSerial:   text(root, "EFDSERIAL"),
		ReceiptCode: text(root, "RCTVNUM"),
	}
	r.ZNUM = text(root, "ZNUM")

	if r.Date, err = time.ParseInLocation(dateLayout+" "+timeLayout,
		text(root, "DATE")+" "+text(root, "TIME"), time.Local); err != nil {
		return nil, errors.Wrapf(ErrMalformed, "DATE/TIME: %v", err)
	}

	idType, err := integer(root, "CUSTIDTYPE")
	if err != nil {
		return nil, err
	}
	r.Customer = model.Customer{
		IDType: model.CustomerIDType(idType),
		ID:     text(root, "CUSTID"),
		Name:   text(root, "CUSTNAME"),
		Mobile: text(root, "MOBILENUM"),
	}

	for _, f := range []struct {
		tag string
		dst *int64
	}{{"RCTNUM", &r.RCTNUM}, {"DC", &r.DC}, {"GC", &r.GC}} {
		if *f.dst, err = integer(root, f.tag); err != nil {
			return nil, err
		}
	}

	if items := root.SelectElement("ITEMS"); items != nil {
		for _, el := range items.SelectElements("ITEM") {
			it, err := decodeItem(el)
			if err != nil {
				return nil, err
			}
			r.Items = append(r.Items, it)
		}
	}

	if t := root.SelectElement("TOTALS"); t != nil {
		if r.Totals.TaxExcl, err = number(t, "TOTALTAXEXCL"); err != nil {
			return nil, err
		}
		if r.Totals.TaxIncl, err = number(t, "TOTALTAXINCL"); err != nil {
			return nil, err
		}
		if r.Totals.Discount, err = number(t, "DISCOUNT"); err != nil {
			return nil, err
		}
	}

	if r.Payments, err = decodePayments(root.SelectElement("PAYMENTS")); err != nil {
		return nil, err
	}
	if r.VATTotals, err = decodeVATTotals(root.SelectElement("VATTOTALS")); err != nil {
		return nil, err
	}
	return r, nil
}

func decodeItem(el *etree.Element) (model.Item, error) {
	it := model.Item{ID: text(el, "ID"), Desc: text(el, "DESC")}
	var err error
	if it.Qty, err = number(el, "QTY"); err != nil {
		return it, err
	}
	code, err := integer(el, "TAXCODE")
	if err != nil {
		return it, err
	}
	it.TaxCode = model.TaxCode(code)
	it.Amt, err = number(el, "AMT")
	return it, err
}

// PAYMENTS and VATTOTALS are flat sequences of repeating groups.
func decodePayments(el *etree.Element) ([]model.Payment, error) {
	if el == nil {
		return nil, nil
	}
	var out []model.Payment
	for _, c := range el.ChildElements() {
		switch c.Tag {
		case "PMTTYPE":
			out = append(out, model.Payment{Type: model.PaymentType(c.Text())})
		case "PMTAMOUNT":
			if len(out) == 0 {
				return nil, errors.Wrap(ErrMalformed, "PMTAMOUNT before PMTTYPE")
			}
			if err := parseInto(c, &out[len(out)-1].Amount); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func decodeVATTotals(el *etree.Element) ([]model.VATTotal, error) {
	if el == nil {
		return nil, nil
	}
	var out []model.VATTotal
	for _, c := range el.ChildElements() {
		switch c.Tag {
		case "VATRATE":
			out = append(out, model.VATTotal{Rate: c.Text()})
		case "NETTAMOUNT", "TAXAMOUNT":
			if len(out) == 0 {
				return nil, errors.Wrapf(ErrMalformed, "%s before VATRATE", c.Tag)
			}
			last := &out[len(out)-1]
			dst := &last.NetAmount
			if c.Tag == "TAXAMOUNT" {
				dst = &last.TaxAmount
			}
			if err := parseInto(c, dst); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}
