// Package registry streams taxpayer records out of ФНС small and medium
// business registry (ЕРСМСП) XML dumps.
package registry

// IdentifierType tells individual entrepreneurs from legal entities.
type IdentifierType string

const (
	// Individual is an individual entrepreneur, identified by a 12 digit ИННФЛ.
	Individual IdentifierType = "IP"
	// LegalEntity is an organisation, identified by a 10 digit ИННЮЛ.
	LegalEntity IdentifierType = "UL"
)

// Valid reports whether t is one of the known identifier types.
func (t IdentifierType) Valid() bool {
	return t == Individual || t == LegalEntity
}

// Record is one extracted (identifier, type, region, source file) tuple. The
// identifier is already canonical.
type Record struct {
	Identifier string
	Type       IdentifierType
	Region     string
	SourceFile string
}
