// Package id mints the identifiers Unmark owns: queue jobs, dead letter
// entries, ledger entries and worker pools. Each is a TypeID such as
// "job_01h2xcejqtf2nbrexx3vqjhp41", sortable by creation time.
//
// Watermark task ids are not minted here. They come from the submitting
// service and stay opaque strings.
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix is the type tag in front of the underscore.
type Prefix string

const (
	PrefixJob    Prefix = "job"
	PrefixDLQ    Prefix = "dlq"
	PrefixLedger Prefix = "ldg"
	PrefixWorker Prefix = "wkr"
)

// ID is a TypeID. The zero value is Nil and encodes as "" in text and
// NULL in SQL.
//
//nolint:recvcheck // decoding methods need pointer receivers
type ID struct {
	tid typeid.TypeID
	set bool
}

// Nil is the unset ID.
var Nil ID

// Aliases that document which prefix a field holds.
type (
	JobID    = ID
	DLQID    = ID
	LedgerID = ID
	WorkerID = ID
)

// New mints an ID under prefix. Prefixes are compile-time constants, so
// an invalid one panics.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: mint %q: %v", prefix, err))
	}
	return ID{tid: tid, set: true}
}

func NewJobID() ID    { return New(PrefixJob) }
func NewDLQID() ID    { return New(PrefixDLQ) }
func NewLedgerID() ID { return New(PrefixLedger) }
func NewWorkerID() ID { return New(PrefixWorker) }

// Parse decodes any TypeID.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: empty")
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: %q: %w", s, err)
	}
	return ID{tid: tid, set: true}, nil
}

// ParseAs decodes s and rejects ids of any prefix but want.
func ParseAs(want Prefix, s string) (ID, error) {
	i, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if got := i.Prefix(); got != want {
		return Nil, fmt.Errorf("id: %q is a %s id, want %s", s, got, want)
	}
	return i, nil
}

func ParseJobID(s string) (ID, error)    { return ParseAs(PrefixJob, s) }
func ParseDLQID(s string) (ID, error)    { return ParseAs(PrefixDLQ, s) }
func ParseWorkerID(s string) (ID, error) { return ParseAs(PrefixWorker, s) }

// String returns the encoded id, or "" for Nil.
func (i ID) String() string {
	if !i.set {
		return ""
	}
	return i.tid.String()
}

// Prefix returns the type tag, or "" for Nil.
func (i ID) Prefix() Prefix {
	if !i.set {
		return ""
	}
	return Prefix(i.tid.Prefix())
}

func (i ID) IsNil() bool { return !i.set }

func (i ID) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

func (i *ID) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Value stores Nil as NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.set {
		return nil, nil //nolint:nilnil // NULL
	}
	return i.String(), nil
}

// Scan accepts NULL, text and bytea columns.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	}
	return fmt.Errorf("id: cannot scan %T", src)
}
