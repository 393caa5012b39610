package core

import (
	"errors"
	"testing"
	"time"
)

func TestHistoryVersion_CoversInstant(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.AddDate(0, 0, 1)

	closed := &HistoryVersion{ValidFrom: t0, ValidTo: &t1}
	open := &HistoryVersion{ValidFrom: t1}

	tests := []struct {
		name    string
		version *HistoryVersion
		at      time.Time
		want    bool
	}{
		{"before interval", closed, t0.Add(-time.Second), false},
		{"at valid_from (inclusive)", closed, t0, true},
		{"inside interval", closed, t0.Add(12 * time.Hour), true},
		{"at valid_to (exclusive)", closed, t1, false},
		{"open version covers its start", open, t1, true},
		{"open version covers the far future", open, t1.AddDate(10, 0, 0), true},
		{"open version not before start", open, t0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.version.CoversInstant(tt.at); got != tt.want {
				t.Errorf("CoversInstant(%v) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestIdentityGroup_MemberFrom(t *testing.T) {
	g := &IdentityGroup{Members: []*SourceRecord{
		{ID: "1", SourceID: "crm"},
		{ID: "2", SourceID: "erp"},
	}}

	if m := g.MemberFrom("crm"); m == nil || m.ID != "1" {
		t.Errorf("unexpected member: %+v", m)
	}
	if m := g.MemberFrom("legacy"); m != nil {
		t.Errorf("expected nil for absent source, got %+v", m)
	}
}

func TestIdentityGroup_NeedsReview(t *testing.T) {
	tests := []struct {
		method MatchMethod
		want   bool
	}{
		{MatchExact, false},
		{MatchOneSidedPrimary, false},
		{MatchOneSidedFallback, false},
		{MatchFuzzy, true},
		{MatchNone, true},
	}
	for _, tt := range tests {
		g := &IdentityGroup{MatchMethod: tt.method}
		if got := g.NeedsReview(); got != tt.want {
			t.Errorf("NeedsReview(%s) = %v, want %v", tt.method, got, tt.want)
		}
	}
}

func TestConsistencyError(t *testing.T) {
	var err error = &ConsistencyError{
		EntityType: "customer",
		MasterID:   "C1",
		Detail:     "two current rows",
	}

	if !errors.Is(err, ErrConsistencyViolation) {
		t.Error("errors.Is must match the sentinel")
	}

	var cerr *ConsistencyError
	if !errors.As(err, &cerr) {
		t.Fatal("errors.As must extract the typed error")
	}
	if cerr.MasterID != "C1" {
		t.Errorf("unexpected master id %q", cerr.MasterID)
	}
}

func TestReconciliationPolicy_Validate(t *testing.T) {
	valid := ReconciliationPolicy{
		EntityType:     "customer",
		PrimarySource:  "crm",
		FallbackSource: "erp",
		Rule:           RuleMergeFields,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid policy rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(p *ReconciliationPolicy)
	}{
		{"no entity type", func(p *ReconciliationPolicy) { p.EntityType = "" }},
		{"unknown rule", func(p *ReconciliationPolicy) { p.Rule = "NEWEST" }},
		{"no primary", func(p *ReconciliationPolicy) { p.PrimarySource = "" }},
		{"no fallback", func(p *ReconciliationPolicy) { p.FallbackSource = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			if err := p.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	// SINGLE_SOURCE is the one rule that works without a fallback.
	single := valid
	single.Rule = RuleSingleSource
	single.FallbackSource = ""
	if err := single.Validate(); err != nil {
		t.Errorf("single-source policy rejected: %v", err)
	}
}

func TestProcessInstance_Reached(t *testing.T) {
	p := &ProcessInstance{Milestones: map[string]MilestoneSlot{
		"placed": {ReachedAt: time.Now()},
	}}

	if !p.Reached("placed") {
		t.Error("placed should be reached")
	}
	if p.Reached("shipped") {
		t.Error("shipped should not be reached")
	}
}
