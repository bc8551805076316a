package xmlgen

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"brosync/internal/domain"
)

// Registry schema namespaces.
const (
	nsBrocom = "http://www.broservices.nl/xsd/brocommon/3.0"
	nsGML    = "http://www.opengis.net/gml/3.2"
	nsGMW    = "http://www.broservices.nl/xsd/isgmw/1.1"
	nsGLD    = "http://www.broservices.nl/xsd/isgld/1.0"
	nsFRD    = "http://www.broservices.nl/xsd/isfrd/1.0"
	nsGMN    = "http://www.broservices.nl/xsd/isgmn/1.0"
)

// Document is the built source document plus the idempotency handle the
// caller uses as filename base and upload reference.
type Document struct {
	RequestReference string
	Bytes            []byte
}

// Meta is the envelope data every payload carries. Ref is the object's bro id
// when known, its local id otherwise; Seq distinguishes repeat messages of the
// same type for the same object.
type Meta struct {
	Ref                      string
	Seq                      int
	DeliveryAccountableParty string
	QualityRegime            string
	BroID                    string
	DeliveryType             domain.DeliveryType
}

func (m Meta) requestReference(t domain.MessageType) string {
	return fmt.Sprintf("%s_%s_%d", m.Ref, t, m.Seq)
}

func (m Meta) validate() error {
	if m.Ref == "" {
		return invalidf("empty object reference")
	}
	switch m.QualityRegime {
	case "IMBRO", "IMBRO/A":
	default:
		return invalidf("quality regime %q not in {IMBRO, IMBRO/A}", m.QualityRegime)
	}
	dt := m.DeliveryType
	if dt == "" {
		dt = domain.DeliverRegister
	}
	if !domain.ValidDeliveryType(dt) {
		return invalidf("delivery type %q", m.DeliveryType)
	}
	return nil
}

// Payload is one typed source-document payload. Build is total over the
// closed MessageType enum: every payload type knows how to render itself.
type Payload interface {
	MessageType() domain.MessageType
	meta() Meta
	sourceDocument() (any, error)
}

// InvalidPayloadError rejects a payload that violates a closed enumeration or
// misses a required field. The row it belongs to goes to build-failed, not to
// the registry.
type InvalidPayloadError struct {
	Reason string
}

func (e *InvalidPayloadError) Error() string { return "invalid payload: " + e.Reason }

func invalidf(format string, args ...any) error {
	return &InvalidPayloadError{Reason: fmt.Sprintf(format, args...)}
}

// Root element per delivery type.
var rootNames = map[domain.DeliveryType]string{
	domain.DeliverRegister: "registrationRequest",
	domain.DeliverReplace:  "replaceRequest",
	domain.DeliverInsert:   "insertRequest",
	domain.DeliverMove:     "moveRequest",
	domain.DeliverDelete:   "deleteRequest",
}

type sourceDocument struct {
	Doc any
}

type envelope struct {
	XMLName                  xml.Name
	XMLNS                    string         `xml:"xmlns,attr"`
	Brocom                   string         `xml:"xmlns:brocom,attr"`
	GML                      string         `xml:"xmlns:gml,attr,omitempty"`
	RequestReference         string         `xml:"brocom:requestReference"`
	DeliveryAccountableParty string         `xml:"brocom:deliveryAccountableParty,omitempty"`
	BroID                    string         `xml:"brocom:broId,omitempty"`
	QualityRegime            string         `xml:"brocom:qualityRegime"`
	SourceDocument           sourceDocument `xml:"sourceDocument"`
}

func familyNamespace(k domain.ObjectKind) string {
	switch k {
	case domain.KindGMW:
		return nsGMW
	case domain.KindGLD:
		return nsGLD
	case domain.KindFRD:
		return nsFRD
	default:
		return nsGMN
	}
}

// Build renders one payload into schema-ordered XML. Deterministic: the same
// payload always yields the same bytes.
func Build(p Payload) (Document, error) {
	m := p.meta()
	if err := m.validate(); err != nil {
		return Document{}, err
	}
	doc, err := p.sourceDocument()
	if err != nil {
		return Document{}, err
	}
	t := p.MessageType()
	dt := m.DeliveryType
	if dt == "" {
		dt = domain.DeliverRegister
	}
	env := envelope{
		XMLName:                  xml.Name{Local: rootNames[dt]},
		XMLNS:                    familyNamespace(t.Kind()),
		Brocom:                   nsBrocom,
		GML:                      nsGML,
		RequestReference:         m.requestReference(t),
		DeliveryAccountableParty: m.DeliveryAccountableParty,
		BroID:                    m.BroID,
		QualityRegime:            m.QualityRegime,
		SourceDocument:           sourceDocument{Doc: doc},
	}
	body, err := xml.MarshalIndent(env, "", "  ")
	if err != nil {
		return Document{}, fmt.Errorf("marshal %s: %w", t, err)
	}
	return Document{
		RequestReference: env.RequestReference,
		Bytes:            append([]byte(xml.Header), append(body, '\n')...),
	}, nil
}

// --- formatting helpers ---

// metres renders a position in metres with exactly three decimals, so float
// noise like 0.30000000000000004 comes out as 0.300.
func metres(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// commaDecimal renders with the comma decimal separator some electrode fields
// require.
func commaDecimal(v float64) string {
	return strings.Replace(metres(v), ".", ",", 1)
}

func checkDate(field, v string) error {
	if _, err := time.Parse("2006-01-02", v); err != nil {
		return invalidf("%s: %q is not a date", field, v)
	}
	return nil
}

// formatTimestamp normalizes to ISO-8601 with an explicit offset.
func formatTimestamp(field, v string) (string, error) {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return "", invalidf("%s: %q is not a timestamp", field, v)
	}
	return t.Format("2006-01-02T15:04:05-07:00"), nil
}

func checkEnum(field, v string, allowed ...string) error {
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return invalidf("%s: %q not in %v", field, v, allowed)
}
