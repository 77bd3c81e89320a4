// Package parser normalises DOIs and decodes paper metadata documents.
package parser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/starford/scivault/internal/models"
)

var (
	doiPrefixRe = regexp.MustCompile(`(?i)^(?:https?://(?:dx\.)?doi\.org/|doi:\s*)`)
	doiShapeRe  = regexp.MustCompile(`^10\.\d{4,9}/\S+$`)
)

// NormalizeDOI strips resolver URL and "doi:" prefixes and surrounding space.
// The result may be empty.
func NormalizeDOI(raw string) string {
	s := strings.TrimSpace(raw)
	s = doiPrefixRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// LooksLikeDOI reports whether s has the 10.<registrant>/<suffix> shape.
// It is advisory; lookups do not require it.
func LooksLikeDOI(s string) bool {
	return doiShapeRe.MatchString(s)
}

// known metadata fields lifted onto models.Paper; everything else lands in Extra.
var known = map[string]bool{
	"id": true, "doi": true, "title": true, "authors": true, "abstract": true, "pdfVersions": true,
}

// ParseMetadata decodes a metadata JSON document. tags supply the DOI and
// title when the document omits them.
func ParseMetadata(id string, data []byte, tags models.Tags) (*models.Paper, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parser: decode metadata %s: %w", id, err)
	}

	p := &models.Paper{
		ID:       id,
		DOI:      NormalizeDOI(stringField(raw, "doi")),
		Title:    stringField(raw, "title"),
		Authors:  authorsField(raw["authors"]),
		Abstract: stringField(raw, "abstract"),
	}
	if p.DOI == "" {
		p.DOI = NormalizeDOI(tags.Value(models.TagDOI))
	}
	if p.Title == "" {
		p.Title = tags.Value(models.TagTitle)
	}
	if p.Authors == "" {
		p.Authors = tags.Value(models.TagAuthors)
	}

	for k, v := range raw {
		if known[k] {
			continue
		}
		if p.Extra == nil {
			p.Extra = make(map[string]any)
		}
		p.Extra[k] = v
	}
	return p, nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}

// authorsField accepts a plain string or a list of names.
func authorsField(v any) string {
	switch a := v.(type) {
	case string:
		return strings.TrimSpace(a)
	case []any:
		var names []string
		for _, item := range a {
			switch n := item.(type) {
			case string:
				if n = strings.TrimSpace(n); n != "" {
					names = append(names, n)
				}
			case map[string]any:
				if name := stringField(n, "name"); name != "" {
					names = append(names, name)
				}
			}
		}
		return strings.Join(names, ", ")
	default:
		return ""
	}
}
