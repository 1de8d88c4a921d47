package registry

import "github.com/msklv/inn-smsp-registry/internal/normalize"

// RecordElement is the record-level element of a registry dump.
const RecordElement = "Документ"

// document is the part of one <Документ> element the loader needs. Every
// other child (names, ОКВЭД codes, licences) is skipped by the decoder.
type document struct {
	Individual *struct {
		INN string `xml:"ИННФЛ,attr"`
	} `xml:"ИПВклМСП"`
	Organization *struct {
		INN string `xml:"ИННЮЛ,attr"`
	} `xml:"ОргВклМСП"`
	Location *struct {
		Region string `xml:"КодРегион,attr"`
	} `xml:"СведМН"`
}

// identifier prefers the individual entrepreneur marker and falls back to the
// legal entity one.
func (d *document) identifier() (string, IdentifierType) {
	if d.Individual != nil {
		if inn := normalize.Identifier(d.Individual.INN); inn != "" {
			return inn, Individual
		}
	}
	if d.Organization != nil {
		if inn := normalize.Identifier(d.Organization.INN); inn != "" {
			return inn, LegalEntity
		}
	}
	return "", ""
}

func (d *document) region() string {
	if d.Location == nil {
		return ""
	}
	return normalize.Region(d.Location.Region)
}

// record converts the document, reporting false when identifier or region is missing.
func (d *document) record(sourceFile string) (Record, bool) {
	inn, typ := d.identifier()
	region := d.region()
	if inn == "" || region == "" {
		return Record{}, false
	}
	return Record{Identifier: inn, Type: typ, Region: region, SourceFile: sourceFile}, true
}
