package jsonmanager

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Field names of the record file format.
const (
	FieldPosition    = "position"
	FieldName        = "name"
	FieldDescription = "description"
)

// Document is a decoded record. Top-level fields stay raw so fields the tool
// never touches are written back with the same JSON content.
type Document map[string]json.RawMessage

// Position returns the raw position attribute, or nil when absent.
func (d Document) Position() json.RawMessage {
	return d[FieldPosition]
}

// String returns a string field. ok is false when the field is absent;
// err is set when it is present but not a string.
func (d Document) String(field string) (value string, ok bool, err error) {
	raw, ok := d[field]
	if !ok {
		return "", false, nil
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", true, fmt.Errorf("field %s: %w", field, err)
	}
	return value, true, nil
}

// SetString stores a string field.
func (d Document) SetString(field, value string) error {
	raw, err := marshalNoEscape(value)
	if err != nil {
		return err
	}
	d[field] = raw
	return nil
}

// EditFunc edits a document in place and reports what it did. The store only
// writes the document back when the outcome is OutcomeApplied.
type EditFunc func(doc Document) (MutationOutcome, error)

// RecordStore reads and rewrites record files.
type RecordStore interface {
	Load(path string) (Document, error)
	Update(path string, edit EditFunc) (MutationOutcome, error)
}

// FileRecordStore keeps records as JSON files on disk.
type FileRecordStore struct {
	// Indent is the per-level indentation of rewritten files.
	Indent string
}

// NewFileRecordStore returns a store writing four-space indented JSON.
func NewFileRecordStore() *FileRecordStore {
	return &FileRecordStore{Indent: "    "}
}

// Load reads and decodes a record. Failures are *LoadError.
func (s *FileRecordStore) Load(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, cause: fmt.Errorf("read file: %w", err)}
	}
	return decodeDocument(path, data)
}

func decodeDocument(path string, data []byte) (Document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, &LoadError{Path: path, cause: errors.New("parse JSON: top level is not an object")}
	}
	var doc Document
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, &LoadError{Path: path, cause: fmt.Errorf("parse JSON: %w", err)}
	}
	if doc == nil {
		doc = Document{}
	}
	return doc, nil
}

// Update performs one read-modify-write cycle. The new content replaces the
// file atomically; on any failure the file is left as it was.
func (s *FileRecordStore) Update(path string, edit EditFunc) (MutationOutcome, error) {
	info, err := os.Stat(path)
	if err != nil {
		return OutcomeFailed, &LoadError{Path: path, cause: fmt.Errorf("stat file: %w", err)}
	}
	doc, err := s.Load(path)
	if err != nil {
		return OutcomeFailed, err
	}
	outcome, err := edit(doc)
	if err != nil {
		return OutcomeFailed, err
	}
	if outcome != OutcomeApplied {
		return outcome, nil
	}
	data, err := s.encode(doc)
	if err != nil {
		return OutcomeFailed, &PersistError{Path: path, Op: "encode", cause: err}
	}
	if err := writeFileAtomic(path, data, info.Mode().Perm()); err != nil {
		return OutcomeFailed, &PersistError{Path: path, Op: "write", cause: err}
	}
	return OutcomeApplied, nil
}

func (s *FileRecordStore) encode(doc Document) ([]byte, error) {
	indent := s.Indent
	if indent == "" {
		indent = "    "
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", indent)
	if err := enc.Encode(map[string]json.RawMessage(doc)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func marshalNoEscape(v any) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return json.RawMessage(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
