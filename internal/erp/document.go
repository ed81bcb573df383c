// Package erp models the XML document exchanged with the ERP connector and
// converts it to and from typed order and line records.
package erp

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/jafarshop/erpsync/pkg/errors"
)

const (
	// DocumentSource is the value of the source attribute on every request
	DocumentSource = "LiveIntegration"

	TableOrders     = "EcomOrders"
	TableOrderLines = "EcomOrderLines"

	// SubmitTypePing marks the lightweight liveness document
	SubmitTypePing = "Ping"
)

// Document is the <tables> root of the wire protocol
type Document struct {
	XMLName       xml.Name `xml:"tables"`
	Source        string   `xml:"source,attr,omitempty"`
	SubmitType    string   `xml:"submitType,attr,omitempty"`
	ReferenceName string   `xml:"referenceName,attr,omitempty"`
	// Licensed is set to "false" by a connector that refuses this installation
	Licensed string  `xml:"licensed,attr,omitempty"`
	Tables   []Table `xml:"table"`
}

// Table groups the items of one logical table
type Table struct {
	Name  string `xml:"tableName,attr"`
	Items []Item `xml:"item"`
}

// Item is one row
type Item struct {
	Table   string   `xml:"table,attr"`
	Columns []Column `xml:"column"`
}

// Column is one named value of a row
type Column struct {
	Name                string `xml:"columnName,attr"`
	IsCustomField       bool   `xml:"isCustomField,attr,omitempty"`
	IsInformationalOnly bool   `xml:"isInformationalOnly,attr,omitempty"`
	Value               string `xml:",chardata"`
}

// NewDocument creates an empty request document
func NewDocument(submitType, referenceName string) *Document {
	return &Document{
		Source:        DocumentSource,
		SubmitType:    submitType,
		ReferenceName: referenceName,
	}
}

// Table returns the table with the given name, or nil
func (d *Document) Table(name string) *Table {
	for i := range d.Tables {
		if d.Tables[i].Name == name {
			return &d.Tables[i]
		}
	}
	return nil
}

// AddItem appends an item to the named table, creating the table if needed
func (d *Document) AddItem(tableName string, columns ...Column) {
	table := d.Table(tableName)
	if table == nil {
		d.Tables = append(d.Tables, Table{Name: tableName})
		table = &d.Tables[len(d.Tables)-1]
	}
	table.Items = append(table.Items, Item{Table: tableName, Columns: columns})
}

// Value returns the value of the named column
func (it Item) Value(name string) (string, bool) {
	for _, c := range it.Columns {
		if strings.EqualFold(c.Name, name) {
			return c.Value, true
		}
	}
	return "", false
}

// Marshal renders the document as XML
func (d *Document) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	if err := enc.Encode(d); err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return buf.Bytes(), nil
}

// ParseDocument parses a response body. Malformed XML is a retryable
// InvalidResponseFormat; well-formed XML with the wrong shape is reported as a
// non-retryable schema mismatch.
func ParseDocument(body []byte) (*Document, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New(errors.KindInvalidResponseFormat, "parse response", fmt.Errorf("empty body"))
	}

	var doc Document
	if err := xml.Unmarshal(body, &doc); err != nil {
		if isRootMismatch(err) {
			return nil, errors.New(errors.KindInvalidResponseFormat, "parse response", &SchemaMismatchError{Reason: err.Error()})
		}
		return nil, errors.New(errors.KindInvalidResponseFormat, "parse response", err)
	}
	return &doc, nil
}

// SchemaMismatchError reports valid XML that does not follow the <tables> schema
type SchemaMismatchError struct {
	Reason string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("response does not follow the tables schema: %s", e.Reason)
}

func isRootMismatch(err error) bool {
	ue, ok := err.(xml.UnmarshalError)
	return ok && strings.HasPrefix(string(ue), "expected element type <tables>")
}
