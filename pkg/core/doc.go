// Package core defines the shared domain types for the datalign
// reconciliation engine: source records, identity groups, canonical
// records, history versions, process instances, and the state store
// interface that persists them.
//
// The package has no dependencies on other datalign packages so that
// every layer (resolver, merge, history, milestone, state, CLI) can
// import it without cycles.
package core
