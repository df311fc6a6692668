// Package health reports the state of every component a capture passes through.
package health

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/pbaille/jot/internal/config"
	"github.com/pbaille/jot/internal/ingress"
	"github.com/pbaille/jot/internal/ledger"
	"github.com/pbaille/jot/internal/store"
)

type Status string

const (
	StatusOK   Status = "ok"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

// Symbol is the one-character marker used in terminal output.
func (s Status) Symbol() string {
	switch s {
	case StatusOK:
		return "✓"
	case StatusWarn:
		return "!"
	default:
		return "✗"
	}
}

type Check struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Detail string `json:"detail"`
}

type Report struct {
	Checks []Check `json:"checks"`
}

// Healthy is false when any check failed. Warnings do not count.
func (r *Report) Healthy() bool {
	for _, c := range r.Checks {
		if c.Status == StatusFail {
			return false
		}
	}
	return true
}

type Checker struct {
	cfg    *config.Config
	store  *store.Store
	inbox  *ingress.Log
	logger *zap.Logger
}

func NewChecker(cfg *config.Config, s *store.Store, inbox *ingress.Log, logger *zap.Logger) *Checker {
	return &Checker{cfg: cfg, store: s, inbox: inbox, logger: logger}
}

func (c *Checker) Check() *Report {
	return &Report{Checks: []Check{
		c.checkStore(),
		c.checkInbox(),
		c.checkClassifier(),
		c.checkReview(),
	}}
}

func (c *Checker) checkStore() Check {
	check := Check{Name: "database"}
	if err := c.store.Ping(); err != nil {
		check.Status, check.Detail = StatusFail, err.Error()
		return check
	}
	stats, err := c.store.Stats()
	if err != nil {
		check.Status, check.Detail = StatusFail, err.Error()
		return check
	}
	check.Status, check.Detail = StatusOK, fmt.Sprintf("%d entries", stats.Total)
	return check
}

func (c *Checker) checkInbox() Check {
	check := Check{Name: "inbox"}
	records, err := c.inbox.Records()
	if err != nil {
		check.Status, check.Detail = StatusFail, err.Error()
		return check
	}
	l, err := ledger.Open(c.cfg.LedgerPath(), c.logger)
	if err != nil {
		check.Status, check.Detail = StatusFail, err.Error()
		return check
	}

	pending := len(l.Pending(records))
	if pending == 0 {
		check.Status, check.Detail = StatusOK, "0 pending"
	} else {
		check.Status, check.Detail = StatusWarn, fmt.Sprintf("%d pending", pending)
	}
	return check
}

func (c *Checker) checkClassifier() Check {
	check := Check{Name: "classifier"}
	if c.cfg.LLM.APIKey == "" {
		check.Status, check.Detail = StatusFail, fmt.Sprintf("no API key for %s", c.cfg.LLM.Provider)
		return check
	}
	check.Status, check.Detail = StatusOK, fmt.Sprintf("%s (%s)", c.cfg.LLM.Provider, c.cfg.LLM.Model)
	return check
}

func (c *Checker) checkReview() Check {
	check := Check{Name: "manual review"}
	stats, err := c.store.Stats()
	if err != nil {
		check.Status, check.Detail = StatusFail, err.Error()
		return check
	}
	if stats.PendingReview == 0 {
		check.Status, check.Detail = StatusOK, "empty"
	} else {
		check.Status, check.Detail = StatusWarn, fmt.Sprintf("%d items pending", stats.PendingReview)
	}
	return check
}
