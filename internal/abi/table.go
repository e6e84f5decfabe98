// Package abi decodes Fuel contract logs into named, typed field records using
// the loggedTypes of one or more ABI documents.
package abi

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/goran-ethernal/StarboardIndexor/internal/common"
)

//go:embed vault-abi.json
var vaultABI []byte

var (
	// ErrDuplicateLogID is returned when two loaded documents register the same log id.
	ErrDuplicateLogID = errors.New("duplicate log id")
	// ErrUnknownConcreteType is returned when a logged type references a missing concrete type.
	ErrUnknownConcreteType = errors.New("unknown concrete type")
	// ErrUnsupportedType is returned for type shapes the codec cannot decode.
	ErrUnsupportedType = errors.New("unsupported abi type")
)

// Document is the subset of a Fuel ABI JSON document needed to decode logs.
type Document struct {
	EncodingVersion string         `json:"encodingVersion"`
	ConcreteTypes   []ConcreteType `json:"concreteTypes"`
	MetadataTypes   []MetadataType `json:"metadataTypes"`
	LoggedTypes     []LoggedType   `json:"loggedTypes"`
}

type ConcreteType struct {
	Type           string   `json:"type"`
	ConcreteTypeID string   `json:"concreteTypeId"`
	MetadataTypeID *int     `json:"metadataTypeId,omitempty"`
	TypeArguments  []string `json:"typeArguments,omitempty"`
}

type MetadataType struct {
	Type           string      `json:"type"`
	MetadataTypeID int         `json:"metadataTypeId"`
	Components     []Component `json:"components,omitempty"`
	TypeParameters []int       `json:"typeParameters,omitempty"`
}

// Component is a struct field or enum variant. TypeID is either a concrete type id
// (JSON string) or a metadata type id (JSON number).
type Component struct {
	Name          string            `json:"name"`
	TypeID        json.RawMessage   `json:"typeId"`
	TypeArguments []json.RawMessage `json:"typeArguments,omitempty"`
}

type LoggedType struct {
	LogID          string `json:"logId"`
	ConcreteTypeID string `json:"concreteTypeId"`
}

// ParseDocument parses a Fuel ABI JSON document.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse abi document: %w", err)
	}

	if doc.EncodingVersion != "" && doc.EncodingVersion != "1" {
		return nil, fmt.Errorf("%w: encoding version %s", ErrUnsupportedType, doc.EncodingVersion)
	}

	return &doc, nil
}

// Entry is one registered log type.
type Entry struct {
	LogID          string
	ConcreteTypeID string
	Name           string
	shape          *shape
}

// Table is the immutable log id lookup built once at startup.
type Table struct {
	entries map[string]*Entry
	byName  map[string]*Entry
}

// DefaultTable builds the table from the embedded vault ABI.
func DefaultTable() (*Table, error) {
	doc, err := ParseDocument(vaultABI)
	if err != nil {
		return nil, err
	}

	return NewTable(doc)
}

// LoadTable builds a table from ABI files, or from the embedded vault ABI when no paths are given.
func LoadTable(paths []string) (*Table, error) {
	if len(paths) == 0 {
		return DefaultTable()
	}

	docs := make([]*Document, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read abi file %s: %w", path, err)
		}

		doc, err := ParseDocument(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		docs = append(docs, doc)
	}

	return NewTable(docs...)
}

// NewTable registers every logged type of the given documents.
// A log id registered twice, a dangling concrete type id or an unsupported shape is an error.
func NewTable(docs ...*Document) (*Table, error) {
	t := &Table{
		entries: make(map[string]*Entry),
		byName:  make(map[string]*Entry),
	}

	for _, doc := range docs {
		resolver := newShapeResolver(doc)

		for _, logged := range doc.LoggedTypes {
			logID, err := NormalizeLogID(logged.LogID)
			if err != nil {
				return nil, err
			}

			if existing, ok := t.entries[logID]; ok {
				return nil, fmt.Errorf("%w: %s registered for %s and %s",
					ErrDuplicateLogID, logID, existing.Name, logged.ConcreteTypeID)
			}

			ct, ok := resolver.concrete[logged.ConcreteTypeID]
			if !ok {
				return nil, fmt.Errorf("%w: log id %s references %s", ErrUnknownConcreteType, logID, logged.ConcreteTypeID)
			}

			s, err := resolver.fromConcrete(ct, 0)
			if err != nil {
				return nil, fmt.Errorf("log id %s (%s): %w", logID, ct.Type, err)
			}

			entry := &Entry{
				LogID:          logID,
				ConcreteTypeID: logged.ConcreteTypeID,
				Name:           humanName(ct.Type),
				shape:          s,
			}
			t.entries[logID] = entry

			if _, taken := t.byName[entry.Name]; !taken {
				t.byName[entry.Name] = entry
			}
		}
	}

	return t, nil
}

// Lookup returns the entry registered for logID.
func (t *Table) Lookup(logID string) (*Entry, bool) {
	entry, ok := t.entries[logID]
	if !ok {
		normalized, err := NormalizeLogID(logID)
		if err != nil {
			return nil, false
		}
		entry, ok = t.entries[normalized]
	}
	return entry, ok
}

// LogID returns the log id registered under an event name.
func (t *Table) LogID(name string) (string, bool) {
	entry, ok := t.byName[name]
	if !ok {
		return "", false
	}
	return entry.LogID, true
}

// Entries returns all entries ordered by name.
func (t *Table) Entries() []Entry {
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].LogID < out[j].LogID
	})

	return out
}

// Len returns the number of registered log ids.
func (t *Table) Len() int {
	return len(t.entries)
}

// NormalizeLogID returns the canonical decimal form of a log id given in decimal or 0x hex.
func NormalizeLogID(logID string) (string, error) {
	trimmed := strings.TrimSpace(logID)
	v, err := common.ParseUint64orHex(&trimmed)
	if err != nil {
		return "", fmt.Errorf("invalid log id %q: %w", logID, err)
	}
	return strconv.FormatUint(v, 10), nil
}

// humanName strips the kind keyword and module path: "struct events::Swap" becomes "Swap".
func humanName(typeName string) string {
	name := typeName
	for _, prefix := range []string{"struct ", "enum "} {
		name = strings.TrimPrefix(name, prefix)
	}
	if idx := strings.LastIndex(name, "::"); idx != -1 {
		name = name[idx+2:]
	}
	return name
}
