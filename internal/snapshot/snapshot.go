// Package snapshot defines the normalized result of one refresh cycle.
package snapshot

import (
	"encoding/json"
	"time"

	"engiero/internal/normalize"
)

// Snapshot is the canonical cycle output. Every key is always present;
// empty sections hold {} / [] / 0, never null.
type Snapshot struct {
	FetchedAt           time.Time          `json:"fetched_at"`
	Token               string             `json:"token"`
	AuthMode            string             `json:"auth_mode"`
	User                normalize.Record   `json:"user"`
	Places              []normalize.Record `json:"places"`
	Account             normalize.Record   `json:"account"`
	Divisions           []any              `json:"divisions"`
	IndexWindow         normalize.Record   `json:"index_window"`
	Balance             normalize.Record   `json:"balance"`
	Invoices            []normalize.Record `json:"invoices"`
	Consumption         []normalize.Record `json:"consumption"`
	IndexHistory        []normalize.Record `json:"index_history"`
	InvoiceHistory      []normalize.Record `json:"invoice_history"`
	UnpaidTotal         float64            `json:"unpaid_total"`
	InvoicesCurrentYear []normalize.Record `json:"invoices_current_year"`
	InvoicesPriorYear   []normalize.Record `json:"invoices_prior_year"`
	LatestIndex         normalize.Record   `json:"latest_index"`
	LatestInvoice       normalize.Record   `json:"latest_invoice"`
	Errors              map[string]string  `json:"errors"`
}

// Section names used as keys in Errors.
const (
	SectionUser           = "user"
	SectionPlaces         = "places"
	SectionDivisions      = "divisions"
	SectionIndexWindow    = "index_window"
	SectionBalance        = "balance"
	SectionInvoices       = "invoices"
	SectionConsumption    = "consumption"
	SectionIndexHistory   = "index_history"
	SectionInvoiceHistory = "invoice_history"
)

// New returns a snapshot with every section at its placeholder value.
func New(now time.Time, authMode string) *Snapshot {
	s := &Snapshot{FetchedAt: now.UTC(), AuthMode: authMode}
	s.fill()
	return s
}

// fill replaces nil sections with placeholders.
func (s *Snapshot) fill() {
	if s.User == nil {
		s.User = normalize.UserSchema.Empty()
	}
	if s.Places == nil {
		s.Places = []normalize.Record{}
	}
	if s.Account == nil {
		s.Account = normalize.PlaceSchema.Empty()
	}
	if s.Divisions == nil {
		s.Divisions = []any{}
	}
	if s.IndexWindow == nil {
		s.IndexWindow = normalize.IndexWindowSchema.Empty()
	}
	if s.Balance == nil {
		s.Balance = normalize.BalanceSchema.Empty()
	}
	if s.Invoices == nil {
		s.Invoices = []normalize.Record{}
	}
	if s.Consumption == nil {
		s.Consumption = []normalize.Record{}
	}
	if s.IndexHistory == nil {
		s.IndexHistory = []normalize.Record{}
	}
	if s.InvoiceHistory == nil {
		s.InvoiceHistory = []normalize.Record{}
	}
	if s.InvoicesCurrentYear == nil {
		s.InvoicesCurrentYear = []normalize.Record{}
	}
	if s.InvoicesPriorYear == nil {
		s.InvoicesPriorYear = []normalize.Record{}
	}
	if s.LatestIndex == nil {
		s.LatestIndex = normalize.IndexReadingSchema.Empty()
	}
	if s.LatestInvoice == nil {
		s.LatestInvoice = normalize.InvoiceSchema.Empty()
	}
	if s.Errors == nil {
		s.Errors = map[string]string{}
	}
}

// Fail records a section failure.
func (s *Snapshot) Fail(section string, err error) {
	s.Errors[section] = err.Error()
}

// Skip records a section that could not run for lack of an identifier.
func (s *Snapshot) Skip(section, missing string) {
	s.Errors[section] = "skipped: missing " + missing
}

// Redacted returns a shallow copy without the access token.
func (s *Snapshot) Redacted() *Snapshot {
	c := *s
	if c.Token != "" {
		c.Token = "***"
	}
	return &c
}

// Map renders the snapshot as a generic JSON object for path lookups.
func (s *Snapshot) Map() (map[string]any, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Keys lists the top-level keys of a snapshot.
func Keys() []string {
	return []string{
		"fetched_at", "token", "auth_mode", "user", "places", "account",
		"divisions", "index_window", "balance", "invoices", "consumption",
		"index_history", "invoice_history", "unpaid_total",
		"invoices_current_year", "invoices_prior_year", "latest_index",
		"latest_invoice", "errors",
	}
}

// Marshal encodes a snapshot for storage.
func Marshal(s *Snapshot) ([]byte, error) {
	return json.Marshal(s)
}

// Unmarshal decodes a stored snapshot, restoring placeholders for any
// section the stored document lacks.
func Unmarshal(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	s.fill()
	return &s, nil
}
