// Package policy loads and validates the externally supplied entity
// configuration: reconciliation policies, business-key extraction,
// quality checklists, and milestone schemas. Changing any of these is
// a configuration change, never an engine code change.
package policy

import (
	"fmt"
	"strings"

	"github.com/datalign/datalign/pkg/core"
)

// Kind separates slowly-changing reference entities from long-running
// process entities. The kind decides which sink the pipeline feeds:
// the history store or the milestone accumulator.
type Kind string

// Entity kind constants.
const (
	KindDimension Kind = "dimension"
	KindProcess   Kind = "process"
)

// RangeCheck declares an inclusive numeric range for a field value.
type RangeCheck struct {
	Min *float64 `yaml:"min"`
	Max *float64 `yaml:"max"`
}

// QualityCheck is one entry of the scorer checklist. Exactly one of
// the check conditions applies per entry; Weight is the score
// contribution when the check passes.
type QualityCheck struct {
	Field    string      `yaml:"field"`
	Required bool        `yaml:"required"`
	Range    *RangeCheck `yaml:"range"`
	Allowed  []string    `yaml:"allowed"`
	// Expr is an optional Starlark expression evaluated with `value`
	// bound to the field value. It must yield a bool.
	Expr   string `yaml:"expr"`
	Weight int    `yaml:"weight"`
}

// DurationSpec names a derived duration between two milestone slots.
type DurationSpec struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// MilestoneSchema is the ordered milestone layout for a process
// entity. Status is always derived against this ordering, so it can
// never drift from the underlying slots.
type MilestoneSchema struct {
	// Ordered lists the milestone slots in process order.
	Ordered []string `yaml:"ordered"`
	// Terminal names the milestone that freezes the instance.
	Terminal string `yaml:"terminal"`
	// OnRepeat overrides the repeat policy per milestone; the default
	// is first-write-wins.
	OnRepeat map[string]core.RepeatPolicy `yaml:"on_repeat"`
	// Durations declares named milestone pairs to measure, in addition
	// to the automatic consecutive-pair durations.
	Durations map[string]DurationSpec `yaml:"durations"`
	// IDField is the canonical field holding the process identifier.
	IDField string `yaml:"id_field"`
	// MilestoneField is the canonical field naming the milestone.
	MilestoneField string `yaml:"milestone_field"`
	// TimeField is the canonical field holding the milestone timestamp
	// (RFC 3339). When empty or unparsable the record's captured_at is
	// used instead.
	TimeField string `yaml:"time_field"`
}

// Index returns the position of the milestone in the ordering, or -1.
func (s *MilestoneSchema) Index(name string) int {
	for i, m := range s.Ordered {
		if m == name {
			return i
		}
	}
	return -1
}

// RepeatPolicyFor returns the effective repeat policy for a milestone.
func (s *MilestoneSchema) RepeatPolicyFor(name string) core.RepeatPolicy {
	if p, ok := s.OnRepeat[name]; ok {
		return p
	}
	return core.RepeatIgnore
}

// EntityConfig is the full configuration document for one entity type.
type EntityConfig struct {
	EntityType string `yaml:"entity_type"`
	Kind       Kind   `yaml:"kind"`
	// DependsOn lists entity types whose pipelines must complete first.
	DependsOn []string `yaml:"depends_on"`

	PrimarySource  string                  `yaml:"primary_source"`
	FallbackSource string                  `yaml:"fallback_source"`
	Rule           core.ReconciliationRule `yaml:"rule"`

	// KeyFields maps source id to the payload field(s) forming that
	// source's business key. Multiple fields are joined in order to
	// build a composite key.
	KeyFields map[string][]string `yaml:"key_fields"`

	TrackedFields []string `yaml:"tracked_fields"`

	Quality []QualityCheck `yaml:"quality"`

	Milestones *MilestoneSchema `yaml:"milestones"`
}

// Policy derives the core reconciliation policy from the config.
func (c *EntityConfig) Policy() *core.ReconciliationPolicy {
	return &core.ReconciliationPolicy{
		EntityType:     c.EntityType,
		PrimarySource:  c.PrimarySource,
		FallbackSource: c.FallbackSource,
		Rule:           c.Rule,
		TrackedFields:  c.TrackedFields,
	}
}

// BusinessKey extracts the business key a record carries under this
// config, joining composite key fields with "|". Returns "" when any
// component is null, which the resolver treats as "no usable key".
func (c *EntityConfig) BusinessKey(r *core.SourceRecord) string {
	fields, ok := c.KeyFields[r.SourceID]
	if !ok || len(fields) == 0 {
		return ""
	}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		if r.Payload.IsNull(f) {
			return ""
		}
		parts = append(parts, r.Payload.Get(f))
	}
	return strings.Join(parts, "|")
}

// Validate checks the document for the fatal, entity-scoped
// configuration errors of the policy-error class.
func (c *EntityConfig) Validate() error {
	if c.EntityType == "" {
		return &core.PolicyError{EntityType: "(unnamed)", Err: fmt.Errorf("missing entity_type")}
	}
	fail := func(err error) error {
		return &core.PolicyError{EntityType: c.EntityType, Err: err}
	}

	switch c.Kind {
	case KindDimension, KindProcess:
	case "":
		return fail(fmt.Errorf("missing kind"))
	default:
		return fail(fmt.Errorf("unknown kind %q", c.Kind))
	}

	if err := c.Policy().Validate(); err != nil {
		return fail(err)
	}

	for _, check := range c.Quality {
		if check.Field == "" {
			return fail(fmt.Errorf("quality check has no field"))
		}
		if check.Weight <= 0 {
			return fail(fmt.Errorf("quality check for %s has non-positive weight %d", check.Field, check.Weight))
		}
	}

	if c.Kind == KindProcess {
		ms := c.Milestones
		if ms == nil {
			return fail(fmt.Errorf("process entity has no milestones schema"))
		}
		if len(ms.Ordered) == 0 {
			return fail(fmt.Errorf("milestones schema has no ordered slots"))
		}
		if ms.Terminal != "" && ms.Index(ms.Terminal) < 0 {
			return fail(fmt.Errorf("terminal milestone %q is not in the ordering", ms.Terminal))
		}
		for name, p := range ms.OnRepeat {
			if ms.Index(name) < 0 {
				return fail(fmt.Errorf("on_repeat references unknown milestone %q", name))
			}
			if p != core.RepeatIgnore && p != core.RepeatOverwrite {
				return fail(fmt.Errorf("unknown repeat policy %q for milestone %s", p, name))
			}
		}
		for name, d := range ms.Durations {
			if ms.Index(d.From) < 0 || ms.Index(d.To) < 0 {
				return fail(fmt.Errorf("duration %s references unknown milestones (%s -> %s)", name, d.From, d.To))
			}
		}
		if ms.IDField == "" || ms.MilestoneField == "" {
			return fail(fmt.Errorf("milestones schema needs id_field and milestone_field"))
		}
	}

	return nil
}
