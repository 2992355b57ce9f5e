// Package storage contains an in-memory implementation of the rule store, the
// message repository and the job ledger. It is used by tests; the binaries use
// the Postgres repositories.
package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/xmlgate/internal/model"
)

// MemoryStore guards every table with one RWMutex, so a SaveMessage is atomic
// with respect to readers.
type MemoryStore struct {
	mu sync.RWMutex

	versions     map[string]model.SchemaVersion
	fields       map[int64]model.DocumentField
	rules        map[int64]model.Rule
	formatRules  []model.FormatRule
	requirements []model.RequirementRule
	nextID       int64

	senders  map[string]model.Sender
	messages map[string]*model.MessageAggregate
	byKey    map[string]string
	jobs     map[string]*model.Job
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		versions: make(map[string]model.SchemaVersion),
		fields:   make(map[int64]model.DocumentField),
		rules:    make(map[int64]model.Rule),
		senders:  make(map[string]model.Sender),
		messages: make(map[string]*model.MessageAggregate),
		byKey:    make(map[string]string),
		jobs:     make(map[string]*model.Job),
	}
}

func (m *MemoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

// AddVersion registers a schema version and returns it with its id.
func (m *MemoryStore) AddVersion(code string) model.SchemaVersion {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.versions[code]; ok {
		return v
	}
	v := model.SchemaVersion{ID: m.id(), Code: code}
	m.versions[code] = v
	return v
}

// AddField declares a document field for a version.
func (m *MemoryStore) AddField(versionID int64, name, path string) model.DocumentField {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := model.DocumentField{ID: m.id(), VersionID: versionID, Name: name, Path: path, Context: "body", Tag: name}
	m.fields[f.ID] = f
	return f
}

// AddRule binds a field to a version.
func (m *MemoryStore) AddRule(fieldID, versionID int64, active bool) model.Rule {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := model.Rule{ID: m.id(), FieldID: fieldID, VersionID: versionID, Active: active}
	m.rules[r.ID] = r
	return r
}

// AddFormatRule attaches a format rule. Field and Path are filled in on read.
func (m *MemoryStore) AddFormatRule(rule model.FormatRule) model.FormatRule {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule.ID = m.id()
	m.formatRules = append(m.formatRules, rule)
	return rule
}

// AddRequirementRule attaches a requirement rule.
func (m *MemoryStore) AddRequirementRule(rule model.RequirementRule) model.RequirementRule {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule.ID = m.id()
	m.requirements = append(m.requirements, rule)
	return rule
}

// SetRuleActive toggles a rule binding.
func (m *MemoryStore) SetRuleActive(ruleID int64, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rules[ruleID]; ok {
		r.Active = active
		m.rules[ruleID] = r
	}
}

// VersionByCode implements rules.Store.
func (m *MemoryStore) VersionByCode(_ context.Context, code string) (*model.SchemaVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.versions[code]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &v, nil
}

// FieldsByVersion implements rules.Store.
func (m *MemoryStore) FieldsByVersion(_ context.Context, versionID int64) ([]model.DocumentField, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.DocumentField
	for _, f := range m.fields {
		if f.VersionID == versionID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// activeField returns the field behind an active rule of the version.
func (m *MemoryStore) activeField(ruleID, versionID int64) (model.DocumentField, bool) {
	r, ok := m.rules[ruleID]
	if !ok || !r.Active || r.VersionID != versionID {
		return model.DocumentField{}, false
	}
	f, ok := m.fields[r.FieldID]
	return f, ok
}

// ActiveFormatRules implements rules.Store.
func (m *MemoryStore) ActiveFormatRules(_ context.Context, versionID int64) ([]model.FormatRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.FormatRule
	for _, fr := range m.formatRules {
		f, ok := m.activeField(fr.RuleID, versionID)
		if !ok {
			continue
		}
		fr.Field, fr.Path = f.Name, f.Path
		out = append(out, fr)
	}
	return out, nil
}

// ActiveRequirementRules implements rules.Store.
func (m *MemoryStore) ActiveRequirementRules(_ context.Context, versionID int64) ([]model.RequirementRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.RequirementRule
	for _, rr := range m.requirements {
		f, ok := m.activeField(rr.RuleID, versionID)
		if !ok {
			continue
		}
		rr.Field, rr.Path = f.Name, f.Path
		out = append(out, rr)
	}
	return out, nil
}

// SaveMessage stores the aggregate and advances the job ledger. A second save
// for the same idempotency key returns the first message id.
func (m *MemoryStore) SaveMessage(_ context.Context, agg *model.MessageAggregate) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := agg.Message.IdempotencyKey
	if id, ok := m.byKey[key]; ok {
		return id, nil
	}
	stored := *agg
	stored.Message.ID = uuid.NewString()
	stored.Message.CreatedAt = time.Now().UTC()
	if agg.Sender != nil && agg.Sender.TaxID != "" {
		sender, ok := m.senders[agg.Sender.TaxID]
		if !ok {
			sender = model.Sender{ID: m.id(), TaxID: agg.Sender.TaxID, Name: agg.Sender.Name}
			m.senders[sender.TaxID] = sender
		}
		stored.Sender = &sender
		stored.Message.SenderID = &sender.ID
	}
	stored.Members = append([]model.Member(nil), agg.Members...)
	stored.Errors = append([]model.ValidationError(nil), agg.Errors...)
	m.messages[stored.Message.ID] = &stored
	m.byKey[key] = stored.Message.ID

	job := m.job(key, agg.Message.FileName)
	id := stored.Message.ID
	job.MessageID = &id
	job.Decision = agg.Decision
	job.Status = model.JobPersisted
	job.UpdatedAt = stored.Message.CreatedAt
	return id, nil
}

// Message returns a copy of a stored aggregate.
func (m *MemoryStore) Message(id string) (*model.MessageAggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agg, ok := m.messages[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	out := *agg
	return &out, nil
}

// MessageCount returns the number of stored messages.
func (m *MemoryStore) MessageCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages)
}

// job returns the ledger row for key, creating it as queued. Callers hold mu.
func (m *MemoryStore) job(key, fileName string) *model.Job {
	j, ok := m.jobs[key]
	if !ok {
		now := time.Now().UTC()
		j = &model.Job{Key: key, FileName: fileName, Status: model.JobQueued, CreatedAt: now, UpdatedAt: now}
		m.jobs[key] = j
	}
	return j
}

// Register records a discovered input as queued unless it is already known.
func (m *MemoryStore) Register(_ context.Context, key, fileName string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := *m.job(key, fileName)
	return &out, nil
}

// Job returns the ledger row for key.
func (m *MemoryStore) Job(_ context.Context, key string) (*model.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[key]
	if !ok {
		return nil, model.ErrNotFound
	}
	out := *j
	return &out, nil
}

// Claim marks the job as processing and counts the attempt. Stages already
// reached are kept so a retry can resume; terminal rows are returned as is.
func (m *MemoryStore) Claim(_ context.Context, key, fileName string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.job(key, fileName)
	if !j.Status.Terminal() {
		if j.Status == model.JobQueued {
			j.Status = model.JobProcessing
		}
		j.Attempts++
		j.UpdatedAt = time.Now().UTC()
	}
	out := *j
	return &out, nil
}

// MarkArchived records that the raw document is in object storage.
func (m *MemoryStore) MarkArchived(_ context.Context, key string) error {
	return m.update(key, func(j *model.Job) { j.Status = model.JobArchived })
}

// Complete records the written notification and closes the job.
func (m *MemoryStore) Complete(_ context.Context, key, notification string) error {
	return m.update(key, func(j *model.Job) {
		j.Status = model.JobCompleted
		j.Notification = notification
		j.LastError = ""
	})
}

// DeadLetter closes the job as failed. A completed job is left as it is.
func (m *MemoryStore) DeadLetter(_ context.Context, key, fileName, reason, notification string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.job(key, fileName)
	if j.Status == model.JobCompleted {
		return nil
	}
	j.Status = model.JobDeadLettered
	j.LastError = reason
	j.Notification = notification
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// RecordFailure stores the last retryable error.
func (m *MemoryStore) RecordFailure(_ context.Context, key, reason string) error {
	return m.update(key, func(j *model.Job) { j.LastError = reason })
}

func (m *MemoryStore) update(key string, fn func(*model.Job)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[key]
	if !ok {
		return model.ErrNotFound
	}
	fn(j)
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// Import replaces the catalogue of every version in the bundle.
func (m *MemoryStore) Import(_ context.Context, bundle *model.RuleBundle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, vb := range bundle.Versions {
		v, ok := m.versions[vb.Code]
		if !ok {
			v = model.SchemaVersion{ID: m.id(), Code: vb.Code}
		}
		v.Schema = vb.Schema
		m.versions[vb.Code] = v
		m.dropCatalogue(v.ID)
		for _, fb := range vb.Fields {
			f := model.DocumentField{
				ID: m.id(), VersionID: v.ID, Name: fb.Name, Context: fb.Context, Path: fb.Path,
				ListMember: fb.ListMember, Tag: fb.Tag, Description: fb.Description,
			}
			m.fields[f.ID] = f
			r := model.Rule{ID: m.id(), FieldID: f.ID, VersionID: v.ID, Active: fb.IsActive()}
			m.rules[r.ID] = r
			for _, spec := range fb.Format {
				m.formatRules = append(m.formatRules, model.FormatRule{
					ID: m.id(), RuleID: r.ID, Predicate: spec.Predicate, Pattern: spec.Pattern,
					Length: spec.Length, ErrorTemplate: spec.ErrorTemplate,
				})
			}
			for _, spec := range fb.Requirement {
				m.requirements = append(m.requirements, model.RequirementRule{
					ID: m.id(), RuleID: r.ID, Predicate: spec.Predicate, Required: spec.Required,
					ErrorTemplate: spec.ErrorTemplate,
				})
			}
		}
	}
	return nil
}

// dropCatalogue removes fields and rules of a version. Callers hold mu.
func (m *MemoryStore) dropCatalogue(versionID int64) {
	dropped := make(map[int64]bool)
	for id, r := range m.rules {
		if r.VersionID == versionID {
			dropped[id] = true
			delete(m.rules, id)
		}
	}
	for id, f := range m.fields {
		if f.VersionID == versionID {
			delete(m.fields, id)
		}
	}
	formats := m.formatRules[:0]
	for _, fr := range m.formatRules {
		if !dropped[fr.RuleID] {
			formats = append(formats, fr)
		}
	}
	m.formatRules = formats
	reqs := m.requirements[:0]
	for _, rr := range m.requirements {
		if !dropped[rr.RuleID] {
			reqs = append(reqs, rr)
		}
	}
	m.requirements = reqs
}
