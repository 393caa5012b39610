package core

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// FieldMap is a flat map of field name to field value.
// An absent key or an empty string both mean "null": upstream
// extracts deliver CSV-shaped rows where the two are indistinguishable.
type FieldMap map[string]string

// IsNull reports whether the named field carries no usable value.
func (f FieldMap) IsNull(name string) bool {
	v, ok := f[name]
	return !ok || v == ""
}

// Get returns the field value, or "" when null.
func (f FieldMap) Get(name string) string {
	return f[name]
}

// Names returns all field names in sorted order.
func (f FieldMap) Names() []string {
	names := make([]string, 0, len(f))
	for name := range f {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a copy that shares no storage with the original.
func (f FieldMap) Clone() FieldMap {
	out := make(FieldMap, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Digest returns a stable hex digest over the given subset of fields.
// Null fields are hashed as absent, so a re-delivered record with the
// same tracked values always produces the same digest. An empty subset
// means "all fields".
func (f FieldMap) Digest(fields []string) string {
	if len(fields) == 0 {
		fields = f.Names()
	} else {
		fields = append([]string(nil), fields...)
		sort.Strings(fields)
	}

	h := sha256.New()
	for _, name := range fields {
		if f.IsNull(name) {
			continue
		}
		h.Write([]byte(name))
		h.Write([]byte{0x1f})
		h.Write([]byte(f[name]))
		h.Write([]byte{0x1e})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SourceRecord is one ingested row from one upstream source for one
// entity type. Immutable once landed.
type SourceRecord struct {
	// ID is the landing-zone surrogate key.
	ID string
	// EntityType names the entity configuration this record belongs to.
	EntityType string
	// SourceID identifies the upstream system.
	SourceID string
	// BusinessKey is the source-system natural identifier. Empty means
	// the source supplied no usable key.
	BusinessKey string
	// Payload is the flat field map as delivered.
	Payload FieldMap
	// CapturedAt is the upstream extraction timestamp.
	CapturedAt time.Time
	// BatchID tags the delivery batch for replay detection and audit.
	BatchID string
}

// HasBusinessKey reports whether the record carries a usable key.
func (r *SourceRecord) HasBusinessKey() bool {
	return strings.TrimSpace(r.BusinessKey) != ""
}
