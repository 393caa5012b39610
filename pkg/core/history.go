package core

import "time"

// ApplyEffect is the outcome of applying a canonical record to the
// history store.
type ApplyEffect string

// Apply effect constants.
const (
	// EffectNoChange means the stored hash matched; nothing written.
	EffectNoChange ApplyEffect = "NO_CHANGE"
	// EffectNewEntity means no prior version existed; one was opened.
	EffectNewEntity ApplyEffect = "NEW_ENTITY"
	// EffectNewVersion means the current version was closed and a new
	// one opened in its place.
	EffectNewVersion ApplyEffect = "NEW_VERSION"
)

// HistoryVersion is one temporal dimension row. For a given master id
// the [ValidFrom, ValidTo) intervals partition time with no gaps and
// no overlaps; exactly one row is current, with a nil ValidTo.
type HistoryVersion struct {
	ID          string
	EntityType  string
	MasterID    string
	Fields      FieldMap
	ContentHash string
	ValidFrom   time.Time
	// ValidTo is the exclusive upper bound; nil means the version is
	// still open.
	ValidTo   *time.Time
	IsCurrent bool
	BatchID   string
}

// CoversInstant reports whether t falls inside this version's validity
// interval, treating an open ValidTo as +infinity.
func (v *HistoryVersion) CoversInstant(t time.Time) bool {
	if t.Before(v.ValidFrom) {
		return false
	}
	return v.ValidTo == nil || t.Before(*v.ValidTo)
}
