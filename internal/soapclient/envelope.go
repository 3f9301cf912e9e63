package soapclient

import "encoding/xml"

const wsseNS = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
const wsPasswordTextType = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-username-token-profile-1.0#PasswordText"

type soapEnvelope struct {
	XMLName xml.Name   `xml:"s:Envelope"`
	XmlnsS  string     `xml:"xmlns:s,attr"`
	XmlnsA  string     `xml:"xmlns:a,attr,omitempty"`
	Header  soapHeader `xml:"s:Header"`
	Body    soapBody   `xml:"s:Body"`
}

type soapHeader struct {
	Security wsSecurityHeader `xml:"wsse:Security"`
}

type wsSecurityHeader struct {
	XmlnsWsse     string          `xml:"xmlns:wsse,attr"`
	UsernameToken wsUsernameToken `xml:"wsse:UsernameToken"`
}

type wsUsernameToken struct {
	Username string     `xml:"wsse:Username"`
	Password wsPassword `xml:"wsse:Password"`
	Nonce    string     `xml:"wsse:Nonce"`
	Created  string     `xml:"wsu:Created"`
}

type wsPassword struct {
	Type  string `xml:"Type,attr"`
	Value string `xml:",chardata"`
}

type soapBody struct {
	Content any
}

func (b soapBody) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start.Name.Local = "s:Body"
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	if err := e.Encode(b.Content); err != nil {
		return err
	}
	return e.EncodeToken(start.End())
}

type sendBillAsyncBody struct {
	XMLName     xml.Name `xml:"SendBillAsync"`
	Xmlns       string   `xml:"xmlns,attr"`
	FileName    string   `xml:"fileName"`
	ContentFile string   `xml:"contentFile"`
}

type getStatusZipBody struct {
	XMLName xml.Name `xml:"GetStatusZip"`
	Xmlns   string   `xml:"xmlns,attr"`
	TrackID string   `xml:"trackId"`
}

type soapResponseEnvelope struct {
	Body soapResponseBody `xml:"Body"`
}

type soapResponseBody struct {
	SendBillResponse *sendBillAsyncResponse `xml:"SendBillAsyncResponse"`
	StatusResponse   *getStatusZipResponse  `xml:"GetStatusZipResponse"`
	Fault            *soapFault             `xml:"Fault"`
}

type sendBillAsyncResponse struct {
	Result sendBillAsyncResult `xml:"SendBillAsyncResult"`
}

type sendBillAsyncResult struct {
	HasErrors        bool     `xml:"HasErrors"`
	ErrorMessageList []string `xml:"ErrorMessageList>string"`
	ZipKey           string   `xml:"ZipKey"`
}

type getStatusZipResponse struct {
	Result getStatusZipResult `xml:"GetStatusZipResult"`
}

type getStatusZipResult struct {
	StatusCode    string `xml:"StatusCode"`
	StatusMessage string `xml:"StatusMessage"`
	ZipBase64     string `xml:"ZipBase64"`
}

type soapFault struct {
	FaultCode   string `xml:"faultcode"`
	FaultString string `xml:"faultstring"`
}
