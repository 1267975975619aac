package persist

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	yaml "go.yaml.in/yaml/v3"
	"tasktimer/internal/store"
)

// FormatVersion is written into every encoded snapshot.
const FormatVersion = 1

// Codec turns a snapshot into bytes and back. Decode must reject data it
// cannot fully interpret instead of returning a partial snapshot.
type Codec interface {
	Name() string
	Encode(snap store.Snapshot) ([]byte, error)
	Decode(b []byte) (store.Snapshot, error)
}

type document struct {
	Version int      `json:"version" yaml:"version"`
	Tasks   []record `json:"tasks" yaml:"tasks"`
}

type record struct {
	When        string `json:"when" yaml:"when"`
	Description string `json:"description" yaml:"description"`
}

func toDocument(snap store.Snapshot) document {
	doc := document{Version: FormatVersion, Tasks: make([]record, 0, len(snap.Entries))}
	for _, e := range snap.Entries {
		doc.Tasks = append(doc.Tasks, record{When: e.When.Format(time.RFC3339Nano), Description: e.Description})
	}
	return doc
}

func fromDocument(doc document) (store.Snapshot, error) {
	if doc.Version != FormatVersion {
		return store.Snapshot{}, fmt.Errorf("unsupported snapshot version %d (want %d)", doc.Version, FormatVersion)
	}
	entries := make([]store.Entry, 0, len(doc.Tasks))
	for i, r := range doc.Tasks {
		when, err := time.Parse(time.RFC3339Nano, r.When)
		if err != nil {
			return store.Snapshot{}, fmt.Errorf("task %d: invalid time %q: %w", i, r.When, err)
		}
		entries = append(entries, store.Entry{When: when, Description: r.Description})
	}
	return store.Snapshot{Entries: entries}, nil
}

type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Encode(snap store.Snapshot) ([]byte, error) {
	b, err := json.MarshalIndent(toDocument(snap), "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func (JSONCodec) Decode(b []byte) (store.Snapshot, error) {
	var doc document
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return store.Snapshot{}, fmt.Errorf("json decode: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return store.Snapshot{}, errTrailing("json", err)
	}
	return fromDocument(doc)
}

type YAMLCodec struct{}

func (YAMLCodec) Name() string { return "yaml" }

func (YAMLCodec) Encode(snap store.Snapshot) ([]byte, error) {
	return yaml.Marshal(toDocument(snap))
}

func (YAMLCodec) Decode(b []byte) (store.Snapshot, error) {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return store.Snapshot{}, fmt.Errorf("yaml decode: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return store.Snapshot{}, errTrailing("yaml", err)
	}
	return fromDocument(doc)
}

func errTrailing(codec string, err error) error {
	if err == nil {
		err = errors.New("trailing data")
	}
	return fmt.Errorf("%s decode: %w", codec, err)
}
