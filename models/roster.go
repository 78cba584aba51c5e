package models

import (
	"fmt"
	"sort"
	"strings"
)

// Field is an optional value from a remote record. A field that was not
// present in the record must not overwrite stored data.
type Field[T any] struct {
	Value   T
	Present bool
}

// Some returns a present field holding v
func Some[T any](v T) Field[T] {
	return Field[T]{Value: v, Present: true}
}

// Get returns the value and whether it was present
func (f Field[T]) Get() (T, bool) {
	return f.Value, f.Present
}

// RosterRecord is one roster entry as published remotely
type RosterRecord struct {
	Username  string
	FirstName Field[string]
	LastName  Field[string]
	FullName  Field[string]
	URL       Field[string]
	Pronouns  Field[string]
	Location  Field[string]
	Team      Field[string]
}

// privateKey holds fields that are nested in the roster source and flattened
// into the top level record
const privateKey = "private"

// ParseRosterRecord builds a record from a decoded roster entry. Keys holding
// null values are treated as absent; a nested "private" map is flattened and
// its keys win over top level keys.
func ParseRosterRecord(username string, raw map[string]any) RosterRecord {
	flat := make(map[string]any, len(raw))
	for k, v := range raw {
		if k == privateKey {
			continue
		}
		flat[k] = v
	}
	if nested, ok := raw[privateKey].(map[string]any); ok {
		for k, v := range nested {
			flat[k] = v
		}
	}

	rec := RosterRecord{Username: username}
	assign := func(key string, dst *Field[string]) {
		v, ok := flat[key]
		if !ok || v == nil {
			return
		}
		switch val := v.(type) {
		case string:
			*dst = Some(strings.TrimSpace(val))
		case map[string]any, []any:
			// Structured values are not scalar fields
		default:
			*dst = Some(fmt.Sprint(val))
		}
	}
	assign("first_name", &rec.FirstName)
	assign("last_name", &rec.LastName)
	assign("full_name", &rec.FullName)
	assign("url", &rec.URL)
	assign("pronouns", &rec.Pronouns)
	assign("location", &rec.Location)
	assign("team", &rec.Team)
	return rec
}

// ParseRoster turns a decoded roster document (username -> fields) into
// records sorted by username
func ParseRoster(doc map[string]map[string]any) []RosterRecord {
	records := make([]RosterRecord, 0, len(doc))
	for username, raw := range doc {
		username = strings.TrimSpace(username)
		if username == "" {
			continue
		}
		records = append(records, ParseRosterRecord(username, raw))
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Username < records[j].Username
	})
	return records
}

// Merge overwrites the author's scalar fields with the fields present in rec
// and reports whether anything changed. Location and team are references and
// are resolved by the store.
func (a *Author) Merge(rec RosterRecord) bool {
	changed := false
	set := func(dst *string, f Field[string]) {
		if v, ok := f.Get(); ok && *dst != v {
			*dst = v
			changed = true
		}
	}
	if a.Username == "" {
		a.Username = rec.Username
		changed = true
	}
	set(&a.FirstName, rec.FirstName)
	set(&a.LastName, rec.LastName)
	set(&a.FullName, rec.FullName)
	set(&a.URL, rec.URL)
	set(&a.Pronouns, rec.Pronouns)
	return changed
}
