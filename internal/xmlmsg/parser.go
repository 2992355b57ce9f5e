// Package xmlmsg parses inbound XML business messages and evaluates field
// extraction paths against them.
package xmlmsg

import (
	"bytes"
	"errors"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"
	"github.com/shopspring/decimal"

	"github.com/dharsanguruparan/xmlgate/internal/model"
)

// Header element paths, relative to the root element.
const (
	PathVersion     = "./Version"
	PathTimeStamp   = "./TimeStamp"
	PathSignature   = "./SignedData/Signature"
	PathSenderTaxID = "./Sender/SenderINN"
	PathSenderName  = "./Sender/SenderName"
	PathDocumentID  = "./DocumentID"
	PathOperation   = "./Operation"
	PathMemberNames = "./Members/Member/MemberName"
)

var (
	errNoRoot          = errors.New("document has no root element")
	errTrailingContent = errors.New("content after the root element")
)

// Document is a parsed input. Field values are extracted on demand.
type Document struct {
	Header model.Header
	root   *xmlquery.Node
}

// Parse reads a well-formed XML document and its header. Only a malformed
// document or a blank Version fails; other missing values are left empty.
func Parse(data []byte) (*Document, error) {
	top, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, &model.ParseError{Reason: "malformed document", Err: err}
	}
	root, err := rootElement(top)
	if err != nil {
		return nil, &model.ParseError{Reason: "malformed document", Err: err}
	}
	doc := &Document{root: root}
	doc.Header = model.Header{
		Version:     doc.text(PathVersion),
		TimeStamp:   doc.text(PathTimeStamp),
		Signature:   doc.text(PathSignature),
		SenderTaxID: doc.text(PathSenderTaxID),
		SenderName:  doc.text(PathSenderName),
		DocumentID:  doc.text(PathDocumentID),
	}
	if doc.Header.Version == "" {
		return nil, &model.ParseError{Reason: "message version (Version) is not specified"}
	}
	return doc, nil
}

// rootElement returns the single top-level element. Declarations, comments
// and whitespace may surround it; a second element or any other text may not.
func rootElement(top *xmlquery.Node) (*xmlquery.Node, error) {
	var root *xmlquery.Node
	for n := top.FirstChild; n != nil; n = n.NextSibling {
		switch n.Type {
		case xmlquery.ElementNode:
			if root != nil {
				return nil, errTrailingContent
			}
			root = n
		case xmlquery.TextNode, xmlquery.CharDataNode:
			if strings.TrimSpace(n.Data) != "" {
				return nil, errTrailingContent
			}
		}
	}
	if root == nil {
		return nil, errNoRoot
	}
	return root, nil
}

// Lookup evaluates path against the root element and returns the trimmed text
// of the first match. An invalid expression is reported as not found.
func (d *Document) Lookup(path string) (string, bool) {
	if strings.TrimSpace(path) == "" {
		return "", false
	}
	node, err := xmlquery.Query(d.root, path)
	if err != nil || node == nil {
		return "", false
	}
	return strings.TrimSpace(node.InnerText()), true
}

func (d *Document) text(path string) string {
	v, _ := d.Lookup(path)
	return v
}

// Timestamp parses the declared TimeStamp. Zone-less values are taken as UTC.
func (d *Document) Timestamp() *time.Time {
	return parseTime(d.Header.TimeStamp, timestampLayouts)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTime(v string, layouts []string) *time.Time {
	if v == "" {
		return nil
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, v); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// Operation extracts the optional Operation block.
func (d *Document) Operation() *model.Operation {
	node, err := xmlquery.Query(d.root, PathOperation)
	if err != nil || node == nil {
		return nil
	}
	child := func(name string) string {
		n := node.SelectElement(name)
		if n == nil {
			return ""
		}
		return strings.TrimSpace(n.InnerText())
	}
	op := &model.Operation{
		TransactionDate: parseTime(child("TransactionDate"), []string{"2006-01-02", time.RFC3339}),
		Currency:        child("Currency"),
		OperationType:   child("OperationType"),
	}
	op.Amount = parseAmount(child("Amount"))
	return op
}

// maxAmount bounds the integer part of a stored amount (NUMERIC(18,2)).
var maxAmount = decimal.New(1, 16)

// parseAmount returns nil unless v is a decimal that the operations table
// stores exactly: at most two fractional digits and sixteen integer digits.
func parseAmount(v string) *decimal.Decimal {
	amount, err := decimal.NewFromString(v)
	if err != nil {
		return nil
	}
	if !amount.Equal(amount.Truncate(2)) || amount.Abs().GreaterThanOrEqual(maxAmount) {
		return nil
	}
	return &amount
}

// Members returns every Members/Member/MemberName in document order.
func (d *Document) Members() []model.Member {
	nodes, err := xmlquery.QueryAll(d.root, PathMemberNames)
	if err != nil {
		return nil
	}
	members := make([]model.Member, 0, len(nodes))
	for _, n := range nodes {
		members = append(members, model.Member{Name: strings.TrimSpace(n.InnerText())})
	}
	return members
}

// Values returns a lazy view of the document keyed by logical field name. A
// later catalogue entry with the same name replaces an earlier one.
func (d *Document) Values(catalogue []model.DocumentField) *FieldValues {
	paths := make(map[string]string, len(catalogue))
	for _, f := range catalogue {
		paths[f.Name] = f.Path
	}
	return &FieldValues{doc: d, paths: paths, cache: make(map[string]lookup)}
}

type lookup struct {
	value string
	found bool
}

// FieldValues resolves a field to its text, evaluating each path at most once.
// It is not safe for concurrent use.
type FieldValues struct {
	doc   *Document
	paths map[string]string
	cache map[string]lookup
}

// Value returns the value of field. The catalogue path wins; path is used for
// fields the catalogue does not declare.
func (v *FieldValues) Value(field, path string) (string, bool) {
	if p, ok := v.paths[field]; ok {
		path = p
	}
	if hit, ok := v.cache[path]; ok {
		return hit.value, hit.found
	}
	value, found := v.doc.Lookup(path)
	v.cache[path] = lookup{value: value, found: found}
	return value, found
}
