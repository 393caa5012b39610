// Package identity partitions the landed source records of one entity
// type into identity groups: the sets believed to describe one
// real-world entity.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"github.com/datalign/datalign/internal/policy"
	"github.com/datalign/datalign/pkg/core"
)

// Resolver matches records across sources by business-key equality.
// It is stateless; master ids are derived, not allocated, so reruns of
// the same batch always produce the same assignment.
type Resolver struct {
	cfg    *policy.EntityConfig
	folder cases.Caser
}

// NewResolver builds a resolver for one entity type's configuration.
func NewResolver(cfg *policy.EntityConfig) *Resolver {
	return &Resolver{
		cfg:    cfg,
		folder: cases.Fold(),
	}
}

// normalizeKey canonicalizes a business key for equality matching.
// Keys differing only in surrounding whitespace or letter case refer
// to the same entity.
func (r *Resolver) normalizeKey(key string) string {
	return r.folder.String(strings.TrimSpace(key))
}

// Resolve partitions the records into identity groups. Records whose
// configured key fields are null degrade to singleton NONE groups and
// never abort the pipeline.
func (r *Resolver) Resolve(records []*core.SourceRecord) []*core.IdentityGroup {
	byKey := make(map[string][]*core.SourceRecord)
	var keyless []*core.SourceRecord

	for _, rec := range records {
		key := r.cfg.BusinessKey(rec)
		rec.BusinessKey = key
		if key == "" {
			keyless = append(keyless, rec)
			continue
		}
		norm := r.normalizeKey(key)
		byKey[norm] = append(byKey[norm], rec)
	}

	groups := make([]*core.IdentityGroup, 0, len(byKey)+len(keyless))
	for _, members := range byKey {
		groups = append(groups, r.buildGroup(members))
	}
	for _, rec := range keyless {
		groups = append(groups, &core.IdentityGroup{
			MasterID:        keylessMasterID(rec),
			EntityType:      r.cfg.EntityType,
			Members:         []*core.SourceRecord{rec},
			MatchConfidence: core.ConfidenceNone,
			MatchMethod:     core.MatchNone,
		})
	}

	sort.Slice(groups, func(i, j int) bool {
		return groups[i].MasterID < groups[j].MasterID
	})
	return groups
}

// buildGroup classifies a keyed group and derives its master id.
func (r *Resolver) buildGroup(members []*core.SourceRecord) *core.IdentityGroup {
	sort.Slice(members, func(i, j int) bool {
		if members[i].SourceID != members[j].SourceID {
			return members[i].SourceID < members[j].SourceID
		}
		return members[i].ID < members[j].ID
	})

	var primary, other *core.SourceRecord
	for _, m := range members {
		if m.SourceID == r.cfg.PrimarySource {
			if primary == nil {
				primary = m
			}
		} else if other == nil {
			other = m
		}
	}

	group := &core.IdentityGroup{
		EntityType: r.cfg.EntityType,
		Members:    members,
	}
	switch {
	case primary != nil && other != nil:
		group.MasterID = primary.BusinessKey
		group.MatchConfidence = core.ConfidenceExact
		group.MatchMethod = core.MatchExact
	case primary != nil:
		group.MasterID = primary.BusinessKey
		group.MatchConfidence = core.ConfidenceOneSidedPrimary
		group.MatchMethod = core.MatchOneSidedPrimary
	default:
		group.MasterID = other.BusinessKey
		group.MatchConfidence = core.ConfidenceOneSidedFallback
		group.MatchMethod = core.MatchOneSidedFallback
	}
	return group
}

// keylessMasterID derives a stable master id for a record with no
// usable business key: a digest of the source and the full payload.
// The same keyless record re-delivered hashes to the same id.
func keylessMasterID(rec *core.SourceRecord) string {
	h := sha256.New()
	h.Write([]byte(rec.SourceID))
	h.Write([]byte{0x1f})
	h.Write([]byte(rec.Payload.Digest(nil)))
	return hex.EncodeToString(h.Sum(nil))[:32]
}
