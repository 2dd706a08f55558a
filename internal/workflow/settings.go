package workflow

import (
	"time"

	"github.com/mohammad-safakhou/reportflow/config"
)

// Settings is the immutable tuning passed to the orchestrator.
type Settings struct {
	MaxPlanIterations int
	MaxLoopGuard      int
	MaxStepRetries    int
	RetryBackoff      time.Duration
	CallTimeout       time.Duration
	MaxTransitions    int
	AutoAccept        bool
	BackgroundSearch  bool
	MaxSearchResults  int
	BatchThreshold    int
	ReportTitle       string
}

// DefaultSettings returns conservative limits.
func DefaultSettings() Settings {
	return Settings{
		MaxPlanIterations: 3,
		MaxLoopGuard:      3,
		MaxStepRetries:    2,
		RetryBackoff:      time.Second,
		CallTimeout:       90 * time.Second,
		MaxTransitions:    64,
		MaxSearchResults:  5,
		BatchThreshold:    6,
		ReportTitle:       "Research Report",
	}
}

// SettingsFromConfig maps the workflow and report sections.
func SettingsFromConfig(cfg *config.Config) Settings {
	w := cfg.Workflow.Normalize()
	r := cfg.Report.Normalize()
	return Settings{
		MaxPlanIterations: w.MaxPlanIterations,
		MaxLoopGuard:      w.MaxLoopGuard,
		MaxStepRetries:    w.MaxStepRetries,
		RetryBackoff:      w.RetryBackoff,
		CallTimeout:       w.CallTimeout,
		MaxTransitions:    w.MaxTransitions,
		AutoAccept:        w.AutoAccept,
		BackgroundSearch:  w.BackgroundSearch,
		MaxSearchResults:  w.MaxSearchResults,
		BatchThreshold:    r.BatchThreshold,
		ReportTitle:       r.Title,
	}
}

func (s Settings) normalized() Settings {
	d := DefaultSettings()
	if s.MaxPlanIterations <= 0 {
		s.MaxPlanIterations = d.MaxPlanIterations
	}
	if s.MaxLoopGuard <= 0 {
		s.MaxLoopGuard = d.MaxLoopGuard
	}
	if s.MaxStepRetries < 0 {
		s.MaxStepRetries = 0
	}
	if s.CallTimeout <= 0 {
		s.CallTimeout = d.CallTimeout
	}
	if s.MaxTransitions <= 0 {
		s.MaxTransitions = d.MaxTransitions
	}
	if s.MaxSearchResults <= 0 {
		s.MaxSearchResults = d.MaxSearchResults
	}
	if s.BatchThreshold <= 0 {
		s.BatchThreshold = d.BatchThreshold
	}
	if s.ReportTitle == "" {
		s.ReportTitle = d.ReportTitle
	}
	return s
}
