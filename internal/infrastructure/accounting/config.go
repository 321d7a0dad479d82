// Package accounting creates customer invoices in Odoo over its JSON-RPC API.
package accounting

import (
	"errors"
	"strings"
	"time"
)

const (
	defaultTimeout  = 30 * time.Second
	maxResponseSize = 5 * 1024 * 1024
)

var (
	ErrConfigMissingURL      = errors.New("accounting: odoo url is required")
	ErrConfigMissingDatabase = errors.New("accounting: odoo database is required")
	ErrConfigMissingUser     = errors.New("accounting: odoo username and password are required")
)

// Config holds the Odoo connection and invoice settings.
type Config struct {
	URL      string
	Database string
	Username string
	Password string // password or API key

	// JournalID pins invoices to a sales journal; 0 lets Odoo choose.
	JournalID int
	// PostInvoices confirms invoices after creation instead of leaving drafts.
	PostInvoices bool
	Timeout      time.Duration

	// FeeAccounts maps marketplace fee and charge codes to income or
	// expense account ids. Unmapped codes use the journal default.
	FeeAccounts map[string]int
}

// Validate checks required fields and fills defaults
func (c *Config) Validate() error {
	c.URL = strings.TrimRight(strings.TrimSpace(c.URL), "/")
	if c.URL == "" {
		return ErrConfigMissingURL
	}
	if c.Database == "" {
		return ErrConfigMissingDatabase
	}
	if c.Username == "" || c.Password == "" {
		return ErrConfigMissingUser
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	return nil
}
