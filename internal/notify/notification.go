// Package notify renders outcome documents for processed inputs and writes
// them to the output directory.
package notify

import (
	"encoding/xml"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dharsanguruparan/xmlgate/internal/model"
)

const (
	AcceptedSuffix = ".AcceptingNotification.xml"
	DeniedSuffix   = ".DeniedNotification.xml"
	ErrorSuffix    = ".ErrorNotification.xml"

	MessageAccepted = "Document successfully validated and processed."
	MessageRejected = "Validation failed"

	errorType = "ERROR"
)

// Notification is the accept/reject outcome document.
type Notification struct {
	XMLName    xml.Name          `xml:"Notification"`
	Status     model.Decision    `xml:"Status"`
	DocumentID string            `xml:"DocumentID"`
	TimeStamp  string            `xml:"TimeStamp"`
	Signature  string            `xml:"SignedData>Signature"`
	Details    ProcessingDetails `xml:"ProcessingDetails"`
}

// ProcessingDetails describes how the input was handled.
type ProcessingDetails struct {
	Version        string `xml:"Version"`
	ProcessingTime string `xml:"ProcessingTime"`
	Message        string `xml:"Message"`
}

// ErrorNotification is written for dead-lettered inputs.
type ErrorNotification struct {
	XMLName         xml.Name `xml:"Notification"`
	Type            string   `xml:"type,attr"`
	OriginalMessage string   `xml:"OriginalMessage"`
	Errors          []string `xml:"Errors>Error"`
}

// Builder assembles notifications. Now is replaceable for tests.
type Builder struct {
	Now func() time.Time
}

// NewBuilder constructs a Builder using the wall clock.
func NewBuilder() *Builder {
	return &Builder{Now: time.Now}
}

// Build creates the outcome document for an input. TimeStamp and Signature
// are passed through verbatim.
func (b *Builder) Build(fileName string, header model.Header, decision model.Decision) Notification {
	msg := MessageAccepted
	if decision != model.DecisionAccepted {
		msg = MessageRejected
	}
	return Notification{
		Status:     decision,
		DocumentID: DocumentID(fileName, header),
		TimeStamp:  header.TimeStamp,
		Signature:  header.Signature,
		Details: ProcessingDetails{
			Version:        header.Version,
			ProcessingTime: b.Now().UTC().Format(time.RFC3339Nano),
			Message:        msg,
		},
	}
}

// BuildError creates the error document for a dead-lettered input.
func (b *Builder) BuildError(fileName string, errs ...error) ErrorNotification {
	n := ErrorNotification{Type: errorType, OriginalMessage: fileName}
	for _, err := range errs {
		if err != nil {
			n.Errors = append(n.Errors, err.Error())
		}
	}
	if len(n.Errors) == 0 {
		n.Errors = []string{"unknown error"}
	}
	return n
}

// Render encodes v with an XML declaration and indentation.
func Render(v any) ([]byte, error) {
	body, err := xml.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode notification: %w", err)
	}
	out := make([]byte, 0, len(xml.Header)+len(body)+1)
	out = append(out, xml.Header...)
	out = append(out, body...)
	return append(out, '\n'), nil
}

// DocumentID prefers an identifier carried by the document itself and falls
// back to the second dot-delimited segment of the input file name. A name
// without dots is used whole.
func DocumentID(fileName string, header model.Header) string {
	if id := strings.TrimSpace(header.DocumentID); id != "" {
		return id
	}
	base := filepath.Base(fileName)
	parts := strings.Split(base, ".")
	if len(parts) < 2 {
		return base
	}
	return parts[1]
}

// FileName derives the notification name by replacing the input extension.
func FileName(input string, decision model.Decision) string {
	if decision == model.DecisionAccepted {
		return replaceExt(input, AcceptedSuffix)
	}
	return replaceExt(input, DeniedSuffix)
}

// ErrorFileName derives the error notification name for an input.
func ErrorFileName(input string) string {
	return replaceExt(input, ErrorSuffix)
}

func replaceExt(input, suffix string) string {
	base := filepath.Base(input)
	return strings.TrimSuffix(base, filepath.Ext(base)) + suffix
}
