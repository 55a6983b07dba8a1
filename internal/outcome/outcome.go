// Package outcome maps provider failures onto queue and prospect state. The
// mapping is an ordered rule table loaded from rules.yaml; Classify is pure.
package outcome

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/model"
)

//go:embed rules.yaml
var rulesData []byte

type Category string

const (
	CategoryMalformedID       Category = "malformed_id"
	CategoryAlreadyInvited    Category = "already_invited"
	CategoryCannotResendYet   Category = "cannot_resend_yet"
	CategoryAlreadyConnected  Category = "already_connected"
	CategoryDeclined          Category = "declined"
	CategoryWarning           Category = "warning"
	CategoryAccountRestricted Category = "account_restricted"
	CategoryRateLimited       Category = "rate_limited"
	CategoryUnreachable       Category = "unreachable"
	CategoryUnknown           Category = "unknown"
)

// Outcome is what the dispatcher applies after a provider failure.
// An empty ProspectStatus leaves the prospect unchanged.
type Outcome struct {
	Category        Category
	QueueStatus     string
	ProspectStatus  string
	RescheduleAfter time.Duration
	PauseCampaign   bool
	Notify          bool
	// Pattern is the rule text that matched, empty for status or fallback matches.
	Pattern string
}

// Requeue reports whether the item goes back to pending for a later retry.
func (o Outcome) Requeue() bool {
	return o.QueueStatus == model.QueueStatusPending
}

// Rule is one row of the table.
type Rule struct {
	Category        Category      `yaml:"category"`
	Statuses        []int         `yaml:"statuses"`
	Patterns        []string      `yaml:"patterns"`
	QueueStatus     string        `yaml:"queue_status"`
	ProspectStatus  string        `yaml:"prospect_status"`
	RescheduleAfter time.Duration `yaml:"reschedule_after"`
	PauseCampaign   bool          `yaml:"pause_campaign"`
	Notify          bool          `yaml:"notify"`
}

func (r Rule) outcome(pattern string) Outcome {
	return Outcome{
		Category:        r.Category,
		QueueStatus:     r.QueueStatus,
		ProspectStatus:  r.ProspectStatus,
		RescheduleAfter: r.RescheduleAfter,
		PauseCampaign:   r.PauseCampaign,
		Notify:          r.Notify,
		Pattern:         pattern,
	}
}

type rulesFile struct {
	Version  string `yaml:"version"`
	Fallback Rule   `yaml:"fallback"`
	Rules    []Rule `yaml:"rules"`
}

// Classifier evaluates an ordered rule table.
type Classifier struct {
	Version  string
	rules    []Rule
	fallback Rule
}

var validQueueStatus = map[string]bool{
	model.QueueStatusPending: true,
	model.QueueStatusFailed:  true,
	model.QueueStatusSkipped: true,
}

// LoadRules parses and validates a rule table.
func LoadRules(data []byte) (*Classifier, error) {
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse outcome rules: %w", err)
	}
	if f.Fallback.Category == "" || !validQueueStatus[f.Fallback.QueueStatus] {
		return nil, fmt.Errorf("outcome rules %q: fallback rule is incomplete", f.Version)
	}
	for i, r := range f.Rules {
		if r.Category == "" {
			return nil, fmt.Errorf("outcome rules %q: rule %d has no category", f.Version, i)
		}
		if !validQueueStatus[r.QueueStatus] {
			return nil, fmt.Errorf("outcome rules %q: rule %s: invalid queue_status %q", f.Version, r.Category, r.QueueStatus)
		}
		if r.QueueStatus == model.QueueStatusPending && r.RescheduleAfter <= 0 {
			return nil, fmt.Errorf("outcome rules %q: rule %s: pending requires reschedule_after", f.Version, r.Category)
		}
		if len(r.Statuses) == 0 && len(r.Patterns) == 0 {
			return nil, fmt.Errorf("outcome rules %q: rule %s matches nothing", f.Version, r.Category)
		}
		for j, p := range r.Patterns {
			f.Rules[i].Patterns[j] = strings.ToLower(p)
		}
	}
	return &Classifier{Version: f.Version, rules: f.Rules, fallback: f.Fallback}, nil
}

// Classify returns the outcome of the first rule whose status or pattern
// matches. Text matching is case-insensitive.
func (c *Classifier) Classify(status int, text string) Outcome {
	lower := strings.ToLower(text)
	for _, r := range c.rules {
		for _, s := range r.Statuses {
			if s == status {
				return r.outcome("")
			}
		}
		for _, p := range r.Patterns {
			if strings.Contains(lower, p) {
				return r.outcome(p)
			}
		}
	}
	return c.fallback.outcome("")
}

// ClassifyError classifies a provider error. Errors that carry no provider
// status are classified on their text alone.
func (c *Classifier) ClassifyError(err error) Outcome {
	if pe, ok := appErrors.AsProviderError(err); ok {
		return c.Classify(pe.StatusCode, pe.Message)
	}
	return c.Classify(0, err.Error())
}

var (
	defaultClassifier     *Classifier
	defaultClassifierOnce sync.Once
)

// Default returns the classifier built from the embedded rule table.
func Default() *Classifier {
	defaultClassifierOnce.Do(func() {
		c, err := LoadRules(rulesData)
		if err != nil {
			panic(err)
		}
		defaultClassifier = c
	})
	return defaultClassifier
}

func Classify(status int, text string) Outcome {
	return Default().Classify(status, text)
}
