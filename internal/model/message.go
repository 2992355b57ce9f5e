// Package model contains the domain types shared across the ingestion
// pipeline: the message aggregate, the rule store records, and the job ledger.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Decision is the outcome of validating one message. Declaring it as a named
// string type keeps accidental mixing with free-form strings out of the API.
type Decision string

const (
	DecisionAccepted Decision = "Accepted"
	DecisionRejected Decision = "Rejected"
)

// SchemaVersion is the root of rule resolution. Code is globally unique.
type SchemaVersion struct {
	ID     int64  `json:"id"`
	Code   string `json:"code"`
	Schema string `json:"schema,omitempty"`
}

// Sender is upserted by TaxID; the first stored name wins.
type Sender struct {
	ID    int64  `json:"id"`
	TaxID string `json:"taxId"`
	Name  string `json:"name"`
}

// Header carries the envelope values read from an input document.
type Header struct {
	Version     string `json:"version"`
	TimeStamp   string `json:"timeStamp"`
	Signature   string `json:"signature"`
	SenderTaxID string `json:"senderTaxId"`
	SenderName  string `json:"senderName"`
	// DocumentID is optional; when present it overrides the identifier
	// derived from the input file name.
	DocumentID string `json:"documentId,omitempty"`
}

// Message is one ingested document instance.
type Message struct {
	ID             string     `json:"id"`
	IdempotencyKey string     `json:"idempotencyKey"`
	FileName       string     `json:"fileName"`
	VersionID      int64      `json:"versionId"`
	SenderID       *int64     `json:"senderId,omitempty"`
	Timestamp      *time.Time `json:"timestamp,omitempty"`
	RawTimestamp   string     `json:"rawTimestamp"`
	Signature      string     `json:"signature"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// Operation is the optional transaction block. Values that fail to parse are
// left nil; validation rules decide whether that rejects the message.
type Operation struct {
	TransactionDate *time.Time       `json:"transactionDate,omitempty"`
	Amount          *decimal.Decimal `json:"amount,omitempty"`
	Currency        string           `json:"currency"`
	OperationType   string           `json:"operationType"`
}

// Member is a named party of a message.
type Member struct {
	Name string `json:"name"`
}

// ArchivedArtifact references the raw document in object storage.
type ArchivedArtifact struct {
	Bucket    string `json:"bucket"`
	ObjectKey string `json:"objectKey"`
	Location  string `json:"location"`
	Size      int64  `json:"size"`
}

// ValidationError is a single business-rule violation keyed by field name.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// MessageAggregate groups a message with everything derived from it so the
// whole unit can be written in one transaction.
type MessageAggregate struct {
	Message   Message
	Sender    *Sender
	Operation *Operation
	Members   []Member
	Artifact  ArchivedArtifact
	Errors    []ValidationError
	Decision  Decision
}
