package openhumans

import (
	"iter"

	"golang.org/x/text/unicode/norm"
)

// PayloadSchemaVersion identifies the push envelope below: {"data": Payload}.
// Bump it when the user-data endpoint's documented schema changes.
const PayloadSchemaVersion = 1

// Payload is the export written to the member's project data. Each section
// is omitted when it has no entries.
type Payload struct {
	Files map[string]string `json:"files,omitempty"`
	Links map[string]string `json:"links,omitempty"`
}

// envelope is the request body for the user-data endpoint.
type envelope struct {
	Data Payload `json:"data"`
}

// NamedURL is one exportable item: a display name and the URL it resolves to.
type NamedURL struct {
	Name string
	URL  string
}

// Pairs adapts a slice of items to the sequence BuildPayload consumes.
func Pairs(items []NamedURL) iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		for _, it := range items {
			if !yield(it.Name, it.URL) {
				return
			}
		}
	}
}

// BuildPayload assembles an export from (name, url) sequences of the user's
// files and links. A duplicate name overwrites the earlier entry. Names are
// NFC-normalized so that canonically equivalent spellings collide, so an
// exported key can differ byte-wise from the name as stored (a decomposed
// "e\u0301" is sent as "\u00e9"). URLs are passed through unchanged.
func BuildPayload(files, links iter.Seq2[string, string]) Payload {
	return Payload{
		Files: collectSection(files),
		Links: collectSection(links),
	}
}

// collectSection returns nil for an empty sequence so the JSON key is dropped.
func collectSection(seq iter.Seq2[string, string]) map[string]string {
	if seq == nil {
		return nil
	}

	var section map[string]string

	for name, url := range seq {
		if section == nil {
			section = make(map[string]string)
		}

		section[norm.NFC.String(name)] = url
	}

	return section
}
