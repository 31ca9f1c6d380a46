package efdms

import (
	"github.com/alapierre/go-tra-vfd/vfd/model"
	"github.com/beevik/etree"
	"github.com/go-faster/errors"
)

var ackElements = []string{"RCTACK", "ZACK", "EFDMSRESP"}

// DecodeAck reads the acknowledgement of any submission. The ack may be
// bare or wrapped in EFDMS next to the server signature.
func DecodeAck(s string) (*model.Ack, error) {
	root, err := parse(s)
	if err != nil {
		return nil, err
	}

	el := findAck(root)
	if el == nil {
		return nil, errors.Wrapf(ErrMalformed, "no acknowledgement in <%s>", root.Tag)
	}

	ack := &model.Ack{
		Kind:    el.Tag,
		Date:    text(el, "DATE"),
		Time:    text(el, "TIME"),
		Code:    text(el, "ACKCODE"),
		Message: text(el, "ACKMSG"),
	}
	switch el.Tag {
	case "RCTACK":
		ack.Number = text(el, "RCTNUM")
	case "ZACK":
		ack.Number = text(el, "ZNUMBER")
	}

	if ack.Code == "" {
		return nil, errors.Wrapf(ErrMalformed, "%s without ACKCODE", el.Tag)
	}
	logger.Debugf("ack %s code=%s msg=%s", ack.Kind, ack.Code, ack.Message)
	return ack, nil
}

func findAck(root *etree.Element) *etree.Element {
	for _, tag := range ackElements {
		if root.Tag == tag {
			return root
		}
	}
	for _, tag := range ackElements {
		if el := root.FindElement(".//" + tag); el != nil {
			return el
		}
	}
	return nil
}
