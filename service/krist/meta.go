package krist

import "regexp"

// kroRe matches CommonMeta recipients of the form "metaname@name.kro"
// with the metaname part optional.
var kroRe = regexp.MustCompile(`^(?:([a-z0-9_-]{1,32})@)?([a-z0-9]{1,64})\.kro`)

// NameData is the name routing parsed out of a transaction's metadata
// or recipient field per the CommonMeta convention.
type NameData struct {
	Name     string
	Metaname string
}

// ParseNameData extracts CommonMeta name routing from s. An empty or
// non-matching input yields the zero value.
func ParseNameData(s string) NameData {
	if s == "" {
		return NameData{}
	}
	m := kroRe.FindStringSubmatch(s)
	if m == nil {
		return NameData{}
	}
	return NameData{Metaname: m[1], Name: m[2]}
}
