// Package models defines the domain types for scivault.
package models

import "strconv"

// Tag is one name/value pair attached to a storage entry.
type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Tags is an ordered tag list. Names are not necessarily unique.
type Tags []Tag

// Get returns the value of the first tag named name.
func (t Tags) Get(name string) (string, bool) {
	for _, tag := range t {
		if tag.Name == name {
			return tag.Value, true
		}
	}
	return "", false
}

// Value returns the first value for name, or "" when absent.
func (t Tags) Value(name string) string {
	v, _ := t.Get(name)
	return v
}

// StorageEntry is one immutable object in the content-addressed store.
type StorageEntry struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Tags      Tags   `json:"tags"`
}

// UploadKey returns the batch key of the entry: its Upload-Id tag, or the
// decimal timestamp when the tag is absent.
func (e StorageEntry) UploadKey() string {
	if v, ok := e.Tags.Get(TagUploadID); ok {
		return v
	}
	return strconv.FormatInt(e.Timestamp, 10)
}
