package models

// TagFilter matches entries carrying tag Name with any of Values.
type TagFilter struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// Query is a structured filter over the tag schema.
type Query struct {
	AppName     string
	ContentType string
	Version     string
	DOI         string
	Type        string
	// Limit caps the number of results; zero means backend default.
	Limit int
	// Descending orders results by timestamp, newest first.
	Descending bool
}

// Filters returns the non-empty tag filters of q in a stable order.
func (q Query) Filters() []TagFilter {
	var out []TagFilter
	add := func(name, value string) {
		if value != "" {
			out = append(out, TagFilter{Name: name, Values: []string{value}})
		}
	}
	add(TagAppName, q.AppName)
	add(TagContentType, q.ContentType)
	add(TagVersion, q.Version)
	add(TagDOI, q.DOI)
	add(TagType, q.Type)
	return out
}

// Matches reports whether tags satisfy every filter of q.
func (q Query) Matches(tags Tags) bool {
	for _, f := range q.Filters() {
		ok := false
		for _, tag := range tags {
			if tag.Name != f.Name {
				continue
			}
			for _, v := range f.Values {
				if tag.Value == v {
					ok = true
				}
			}
		}
		if !ok {
			return false
		}
	}
	return true
}
