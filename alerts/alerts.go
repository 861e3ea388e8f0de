package alerts

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quii/vue-fast-sub001/models"
)

const (
	RuleLeaderDozenArrows = "leader-dozen-arrows"
	RuleCloseCompetition  = "close-competition"
)

var ErrUnknownRule = errors.New("unknown alert rule")

// Alert is a locally raised message. Tag identifies the (shoot, rule) pair so
// a newer alert replaces an older one instead of stacking.
type Alert struct {
	Tag       string    `json:"tag"`
	RuleID    string    `json:"ruleId"`
	ShootCode string    `json:"shootCode"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	FiredAt   time.Time `json:"firedAt"`
}

type Notifier interface {
	Notify(alert Alert)
}

type Rule struct {
	ID               string
	Cooldown         time.Duration
	EnabledByDefault bool
	Predicate        func(shoot *models.Shoot) bool
	Format           func(shoot *models.Shoot) (title, body string)
}

type ruleKey struct {
	code string
	rule string
}

// Engine evaluates rules against every applied shoot snapshot.
type Engine struct {
	mu        sync.Mutex
	rules     []Rule
	notifier  Notifier
	logger    *slog.Logger
	now       func() time.Time
	lastFired map[ruleKey]time.Time
	enabled   map[ruleKey]bool
}

// NewEngine builds an engine over rules, or DefaultRules when none are given.
func NewEngine(notifier Notifier, logger *slog.Logger, rules ...Rule) *Engine {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		rules:     rules,
		notifier:  notifier,
		logger:    logger,
		now:       time.Now,
		lastFired: make(map[ruleKey]time.Time),
		enabled:   make(map[ruleKey]bool),
	}
}

func (e *Engine) Enable(code, ruleID string) error {
	return e.setEnabled(code, ruleID, true)
}

func (e *Engine) Disable(code, ruleID string) error {
	return e.setEnabled(code, ruleID, false)
}

func (e *Engine) setEnabled(code, ruleID string, on bool) error {
	if _, ok := e.rule(ruleID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRule, ruleID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled[ruleKey{code, ruleID}] = on
	return nil
}

// Enabled reports whether ruleID runs for the shoot with the given code.
func (e *Engine) Enabled(code, ruleID string) bool {
	rule, ok := e.rule(ruleID)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabledLocked(code, rule)
}

func (e *Engine) enabledLocked(code string, rule Rule) bool {
	if on, ok := e.enabled[ruleKey{code, rule.ID}]; ok {
		return on
	}
	return rule.EnabledByDefault
}

func (e *Engine) rule(id string) (Rule, bool) {
	for _, r := range e.rules {
		if r.ID == id {
			return r, true
		}
	}
	return Rule{}, false
}

// Evaluate runs the enabled rules against shoot and returns the alerts that
// fired. Each fired alert is also handed to the notifier.
func (e *Engine) Evaluate(shoot *models.Shoot) []Alert {
	if shoot == nil {
		return nil
	}

	e.mu.Lock()
	now := e.now()
	var fired []Alert
	for _, rule := range e.rules {
		if !e.enabledLocked(shoot.Code, rule) || !rule.Predicate(shoot) {
			continue
		}
		key := ruleKey{shoot.Code, rule.ID}
		if last, ok := e.lastFired[key]; ok && now.Sub(last) < rule.Cooldown {
			continue
		}
		e.lastFired[key] = now
		title, body := rule.Format(shoot)
		fired = append(fired, Alert{
			Tag:       Tag(shoot.Code, rule.ID),
			RuleID:    rule.ID,
			ShootCode: shoot.Code,
			Title:     title,
			Body:      body,
			FiredAt:   now,
		})
	}
	e.mu.Unlock()

	for _, alert := range fired {
		e.logger.Debug("alert fired", slog.String("tag", alert.Tag))
		if e.notifier != nil {
			e.notifier.Notify(alert)
		}
	}
	return fired
}

// Forget drops cooldown and enablement state kept for a shoot.
func (e *Engine) Forget(code string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key := range e.lastFired {
		if key.code == code {
			delete(e.lastFired, key)
		}
	}
	for key := range e.enabled {
		if key.code == code {
			delete(e.enabled, key)
		}
	}
}

func Tag(code, ruleID string) string {
	return "shoot-" + code + "-" + ruleID
}
