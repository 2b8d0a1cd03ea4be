// Package schema loads and compiles the per-operation schema pairs that gate the
// dispatch pipeline.
//
// Each operation has one schema file at <dir>/<name>.schema.json, shaped as
//
//	{"properties": {"request": <schema>, "response": <schema>}}
//
// Load compiles both sub-schemas once, at registration time; the resulting Pair
// is immutable and owned by the registry entry for that operation.
package schema

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"nudock/errors"
	"nudock/message"

	pkgerrors "github.com/pkg/errors"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Pair holds the compiled request and response validators for one operation,
// plus the raw sub-schemas for diagnostic reporting. The two validators are
// only ever stored and resolved together.
type Pair struct {
	request  *jsonschema.Schema
	response *jsonschema.Schema

	// Raw sub-schema documents, kept for error bodies.
	RawRequest  message.Document
	RawResponse message.Document
}

// Store resolves and loads schema files from a single directory.
type Store struct {
	Dir string
}

func NewStore(dir string) *Store {
	return &Store{Dir: dir}
}

// PathFor returns the default schema path for an operation name, e.g.
// "/set_parameters" -> "<dir>/set_parameters.schema.json".
func (s *Store) PathFor(name string) string {
	return filepath.Join(s.Dir, strings.TrimPrefix(name, "/")+".schema.json")
}

// Load reads and compiles the schema pair at path. Failures are coded: file or
// syntax problems are SchemaLoad errors, bad schema keywords are SchemaCompile
// errors. Either way the operation must not be served.
func (s *Store) Load(path string) (*Pair, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewSchemaLoadError(pkgerrors.Wrap(err, "reading schema file").Error())
	}

	var doc struct {
		Properties struct {
			Request  json.RawMessage `json:"request"`
			Response json.RawMessage `json:"response"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.NewSchemaLoadError(pkgerrors.Wrapf(err, "parsing schema file %s", path).Error())
	}
	if doc.Properties.Request == nil || doc.Properties.Response == nil {
		return nil, errors.Newf(errors.SchemaLoad,
			"schema file %s must contain properties.request and properties.response", path)
	}

	reqSchema, err := compile("request.json", doc.Properties.Request)
	if err != nil {
		return nil, err
	}
	respSchema, err := compile("response.json", doc.Properties.Response)
	if err != nil {
		return nil, err
	}

	rawReq, err := message.Parse(doc.Properties.Request)
	if err != nil {
		return nil, errors.NewSchemaLoadError(err.Error())
	}
	rawResp, err := message.Parse(doc.Properties.Response)
	if err != nil {
		return nil, errors.NewSchemaLoadError(err.Error())
	}

	return &Pair{
		request:     reqSchema,
		response:    respSchema,
		RawRequest:  rawReq,
		RawResponse: rawResp,
	}, nil
}

// compile builds a validator for one sub-schema. A fresh compiler per
// sub-schema keeps resource names from colliding across operations.
func compile(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft7
	if err := c.AddResource(name, bytes.NewReader(raw)); err != nil {
		return nil, errors.NewSchemaCompileError(pkgerrors.Wrap(err, "adding schema resource").Error())
	}
	sch, err := c.Compile(name)
	if err != nil {
		return nil, errors.NewSchemaCompileError(pkgerrors.Wrap(err, "compiling schema").Error())
	}
	return sch, nil
}

// ValidateRequest checks an inbound document against the request sub-schema.
func (p *Pair) ValidateRequest(doc message.Document) error {
	if err := p.request.Validate(doc); err != nil {
		return errors.Newf(errors.RequestValidation, "Server request validation failed: %s", err)
	}
	return nil
}

// ValidateResponse checks a handler result against the response sub-schema.
func (p *Pair) ValidateResponse(doc message.Document) error {
	if err := p.response.Validate(doc); err != nil {
		return errors.Newf(errors.ResponseValidation, "Server response validation failed: %s", err)
	}
	return nil
}
