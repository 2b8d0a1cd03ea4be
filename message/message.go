// Package message defines the JSON document model exchanged between client and server.
//
// Every request body and every response body on the wire is a single JSON value —
// an object for most operations, but a bare string or number is legal too (the
// /ping demo operation answers with the string "pong"). Document is therefore an
// alias for any decoded JSON value rather than a fixed envelope struct.
package message

import (
	"encoding/json"
	"fmt"
)

// Document is one decoded JSON value: map[string]any, []any, string, float64,
// bool, or nil. Each request and each response owns its own Document; documents
// are never shared across in-flight requests.
type Document any

// Object is the object form of a Document.
type Object = map[string]any

// Parse decodes raw bytes into a Document.
func Parse(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing message: %w", err)
	}
	return doc, nil
}

// Dump serializes a Document to bytes.
func Dump(doc Document) ([]byte, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("serializing message: %w", err)
	}
	return data, nil
}

// Field reads a member of an object Document. The second return is false when
// the document is not an object or the key is absent.
func Field(doc Document, key string) (Document, bool) {
	obj, ok := doc.(Object)
	if !ok {
		return nil, false
	}
	val, ok := obj[key]
	return val, ok
}

// StringField reads a string-valued member of an object Document.
func StringField(doc Document, key string) (string, bool) {
	val, ok := Field(doc, key)
	if !ok {
		return "", false
	}
	s, ok := val.(string)
	return s, ok
}

// NumberField reads a numeric member of an object Document.
func NumberField(doc Document, key string) (float64, bool) {
	val, ok := Field(doc, key)
	if !ok {
		return 0, false
	}
	f, ok := val.(float64)
	return f, ok
}
