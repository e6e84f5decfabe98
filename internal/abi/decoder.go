package abi

import (
	"errors"
	"fmt"
)

// ErrNoMatch is returned by Decode for log ids that are not registered. It is not a failure.
var ErrNoMatch = errors.New("no decoder registered for log id")

// DecodeError reports a malformed payload for a registered log id.
type DecodeError struct {
	Name  string
	LogID string
	TxID  string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode %s (log id %s, tx %s): %v", e.Name, e.LogID, e.TxID, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Log is a decoded event.
type Log struct {
	Name   string
	LogID  string
	Fields Fields
}

// Decoder maps raw log payloads to named events. It holds no mutable state.
type Decoder struct {
	table *Table
}

// NewDecoder creates a decoder over an immutable table.
func NewDecoder(table *Table) *Decoder {
	return &Decoder{table: table}
}

// Table returns the lookup table the decoder was built with.
func (d *Decoder) Table() *Table {
	return d.table
}

// Decode decodes payload as the type registered for logID.
func (d *Decoder) Decode(logID string, payload []byte, txID string) (Log, error) {
	entry, ok := d.table.Lookup(logID)
	if !ok {
		return Log{}, ErrNoMatch
	}

	fields, err := decodePayload(entry.shape, payload)
	if err != nil {
		return Log{}, &DecodeError{Name: entry.Name, LogID: entry.LogID, TxID: txID, Err: err}
	}

	return Log{Name: entry.Name, LogID: entry.LogID, Fields: fields}, nil
}

// Encode produces the payload of the event registered under name.
func (t *Table) Encode(name string, fields Fields) (logID string, payload []byte, err error) {
	entry, ok := t.byName[name]
	if !ok {
		return "", nil, fmt.Errorf("no log type named %s", name)
	}

	var v any = fields
	if entry.shape.kind != kindStruct {
		v = fields["value"]
	}

	payload, err = encodeValue(entry.shape, v, nil)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s: %w", name, err)
	}

	return entry.LogID, payload, nil
}
