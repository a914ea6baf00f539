// Package gate turns evaluation reports into a release verdict: named
// thresholds loaded from YAML, compared against measured metrics, with a
// single pass/fail answer for CI.
package gate

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Bound is one threshold. Exactly one of Min or Max should be set.
type Bound struct {
	Min *float64 `yaml:"min,omitempty"`
	Max *float64 `yaml:"max,omitempty"`
}

// Config holds the gate thresholds, grouped by evaluation section.
type Config struct {
	Gates map[string]map[string]Bound `yaml:"gates"`
}

func f(v float64) *float64 { return &v }

// DefaultConfig returns the built-in release gates.
func DefaultConfig() *Config {
	return &Config{Gates: map[string]map[string]Bound{
		"retrieval": {
			"precision_at_5": {Min: f(0.65)},
			"recall_at_10":   {Min: f(0.75)},
			"mrr":            {Min: f(0.70)},
		},
		"consistency": {
			"time_overlap_conflicts": {Max: f(0)},
			"world_future_leaks":     {Max: f(0)},
			"crosstalk_violations":   {Max: f(0)},
			"symmetry_violations":    {Max: f(0)},
		},
		"coverage": {
			"overall":         {Min: f(0.75)},
			"per_chapter_min": {Min: f(0.60)},
		},
	}}
}

// Load reads a gate config from a YAML file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read gate config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse gate config %s: %w", path, err)
	}
	if len(cfg.Gates) == 0 {
		return nil, fmt.Errorf("gate config %s: no gates defined", path)
	}
	return &cfg, nil
}

// Metrics are the measured values, keyed by section then metric name.
type Metrics map[string]map[string]float64

// Result is one gate's verdict.
type Result struct {
	Section  string  `json:"section"`
	Name     string  `json:"name"`
	Passed   bool    `json:"passed"`
	Expected string  `json:"expected"`
	Actual   float64 `json:"actual"`
}

// Verdict aggregates all gate results.
type Verdict struct {
	Passed  bool     `json:"passed"`
	Results []Result `json:"results"`
}

var atKSuffix = regexp.MustCompile(`_at_\d+$`)

// lookup resolves a gate name against the section's metrics. Names like
// precision_at_5 fall back to the base metric when no exact key exists; the
// k is carried by the evaluation run, not re-derived here.
func lookup(section map[string]float64, name string) (float64, bool) {
	if v, ok := section[name]; ok {
		return v, true
	}
	base := atKSuffix.ReplaceAllString(name, "")
	if base != name {
		if v, ok := section[base]; ok {
			return v, true
		}
	}
	return 0, false
}

// Evaluate compares metrics against the configured gates. A gate whose
// metric is missing fails on min bounds and passes on max bounds, the same
// as a measured zero. Evaluate is pure: it neither reads files nor exits.
func Evaluate(m Metrics, cfg *Config) *Verdict {
	v := &Verdict{Passed: true}

	sections := make([]string, 0, len(cfg.Gates))
	for s := range cfg.Gates {
		sections = append(sections, s)
	}
	sort.Strings(sections)

	for _, section := range sections {
		names := make([]string, 0, len(cfg.Gates[section]))
		for n := range cfg.Gates[section] {
			names = append(names, n)
		}
		sort.Strings(names)

		for _, name := range names {
			bound := cfg.Gates[section][name]
			actual, _ := lookup(m[section], name)
			res := Result{Section: section, Name: name, Actual: actual, Passed: true}
			switch {
			case bound.Min != nil:
				res.Expected = fmt.Sprintf(">= %g", *bound.Min)
				res.Passed = actual >= *bound.Min
			case bound.Max != nil:
				res.Expected = fmt.Sprintf("<= %g", *bound.Max)
				res.Passed = actual <= *bound.Max
			default:
				res.Expected = "no bound"
			}
			if !res.Passed {
				v.Passed = false
			}
			v.Results = append(v.Results, res)
		}
	}
	return v
}

// Failed lists the failing gates as section.name strings.
func (v *Verdict) Failed() []string {
	var out []string
	for _, r := range v.Results {
		if !r.Passed {
			out = append(out, strings.Join([]string{r.Section, r.Name}, "."))
		}
	}
	return out
}
