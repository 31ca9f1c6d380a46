package model

// AckOK ACKCODE of an accepted document
const AckOK = "0"

// Ack parsed RCTACK, ZACK or EFDMSRESP.
type Ack struct {
	Kind    string // root element name
	Number  string // RCTNUM or ZNUMBER
	Date    string
	Time    string
	Code    string
	Message string
}

func (a *Ack) OK() bool {
	return a != nil && a.Code == AckOK
}

// RegistrationInfo EFDMSRESP of a successful registration.
type RegistrationInfo struct {
	AckCode     string
	AckMsg      string
	RegID       string
	Serial      string
	UIN         string
	TIN         string
	VRN         string
	Mobile      string
	Street      string
	City        string
	Address     string
	Country     string
	Name        string
	ReceiptCode string
	Region      string
	RoutingKey  string
	GC          int64
	TaxOffice   string
	Username    string
	Password    string
	TokenPath   string
	TaxCodes    map[string]string
}
