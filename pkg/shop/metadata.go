package shop

import "strings"

// Metadata is the parsed form of a transaction's metadata string,
// "key=value; ...; bareValue; ...". Keys are lowercased; bare values
// keep their order.
type Metadata struct {
	Pairs map[string]string
	Bare  []string
}

// ParseMetadata splits a raw metadata string on semicolons. Empty
// fields are dropped; a field with an "=" becomes a pair, anything else
// a bare value.
func ParseMetadata(raw string) Metadata {
	m := Metadata{Pairs: make(map[string]string)}
	for _, field := range strings.Split(raw, ";") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		if k, v, ok := strings.Cut(field, "="); ok {
			m.Pairs[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
			continue
		}
		m.Bare = append(m.Bare, field)
	}
	return m
}

// Has reports whether the key is present.
func (m Metadata) Has(key string) bool {
	_, ok := m.Pairs[strings.ToLower(key)]
	return ok
}

// Get returns the value for a key, or "".
func (m Metadata) Get(key string) string {
	return m.Pairs[strings.ToLower(key)]
}

// FirstBare returns the first bare value, or "".
func (m Metadata) FirstBare() string {
	if len(m.Bare) == 0 {
		return ""
	}
	return m.Bare[0]
}
