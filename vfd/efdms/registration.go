package efdms

import (
	"strings"

	"github.com/alapierre/go-tra-vfd/vfd/model"
	"github.com/go-faster/errors"
)

// EncodeRegistration REGDATA{TIN,CERTKEY}
func EncodeRegistration(tin, certKey string) (string, error) {
	doc := newDocument()
	root := doc.CreateElement("REGDATA")
	add(root, "TIN", tin)
	add(root, "CERTKEY", certKey)
	return write(doc)
}

// DecodeRegistration reads EFDMSRESP, either bare or inside an EFDMS envelope.
func DecodeRegistration(s string) (*model.RegistrationInfo, error) {
	root, err := parse(s)
	if err != nil {
		return nil, err
	}
	resp := root
	if root.Tag != "EFDMSRESP" {
		resp = root.FindElement(".//EFDMSRESP")
	}
	if resp == nil {
		return nil, errors.Wrapf(ErrMalformed, "EFDMSRESP not found in %s", root.Tag)
	}

	info := &model.RegistrationInfo{
		AckCode:     text(resp, "ACKCODE"),
		AckMsg:      text(resp, "ACKMSG"),
		RegID:       text(resp, "REGID"),
		Serial:      text(resp, "SERIAL"),
		UIN:         text(resp, "UIN"),
		TIN:         text(resp, "TIN"),
		VRN:         text(resp, "VRN"),
		Mobile:      text(resp, "MOBILE"),
		Street:      text(resp, "STREET"),
		City:        text(resp, "CITY"),
		Address:     text(resp, "ADDRESS"),
		Country:     text(resp, "COUNTRY"),
		Name:        text(resp, "NAME"),
		ReceiptCode: text(resp, "RECEIPTCODE"),
		Region:      text(resp, "REGION"),
		RoutingKey:  text(resp, "ROUTINGKEY"),
		TaxOffice:   text(resp, "TAXOFFICE"),
		Username:    text(resp, "USERNAME"),
		Password:    text(resp, "PASSWORD"),
		TokenPath:   text(resp, "TOKENPATH"),
	}
	if info.AckCode == "" {
		return nil, errors.Wrap(ErrMalformed, "ACKCODE missing")
	}
	if info.GC, err = integer(resp, "GC"); err != nil {
		return nil, err
	}
	if tc := resp.SelectElement("TAXCODES"); tc != nil {
		info.TaxCodes = map[string]string{}
		for _, c := range tc.ChildElements() {
			info.TaxCodes[c.Tag] = strings.TrimSpace(c.Text())
		}
	}
	return info, nil
}
