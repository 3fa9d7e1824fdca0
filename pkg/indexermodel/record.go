// Package indexermodel defines indexer records and the contract of the shared,
// versioned store that holds them.
package indexermodel

import (
	"bytes"
	"slices"
)

// LifecycleState tracks deletion workflows on an indexer.
//
// NOTE: These values are persisted and are part of the stable store contract.
type LifecycleState string

const (
	LifecycleActive          LifecycleState = "ACTIVE"
	LifecycleDeleteRequested LifecycleState = "DELETE_REQUESTED"
	LifecycleDeleting        LifecycleState = "DELETING"
	LifecycleDeleteFailed    LifecycleState = "DELETE_FAILED"
)

// IsDeletePending reports whether a delete workflow owns the record.
func (s LifecycleState) IsDeletePending() bool {
	return s == LifecycleDeleteRequested || s == LifecycleDeleting
}

// BatchIndexingState is the batch build state of an indexer.
type BatchIndexingState string

const (
	BatchInactive       BatchIndexingState = "INACTIVE"
	BatchActive         BatchIndexingState = "ACTIVE"
	BatchBuildRequested BatchIndexingState = "BUILD_REQUESTED"
)

// IncrementalIndexingState is the change-stream subscription state of an indexer.
type IncrementalIndexingState string

const (
	IncrementalDefault               IncrementalIndexingState = "DEFAULT"
	IncrementalSubscribeAndConsume   IncrementalIndexingState = "SUBSCRIBE_AND_CONSUME"
	IncrementalSubscribeDoNotConsume IncrementalIndexingState = "SUBSCRIBE_DO_NOT_CONSUME"
	IncrementalDoNotSubscribe        IncrementalIndexingState = "DO_NOT_SUBSCRIBE"
)

// IndexerRecord is one named indexer as held by the model store.
//
// Records are values. Writers derive a new record with With and hand it to
// Store.Update; they never edit a record another reader may hold.
type IndexerRecord struct {
	Name                     string                   `json:"name" yaml:"name"`
	LifecycleState           LifecycleState           `json:"lifecycle_state" yaml:"lifecycle_state"`
	BatchIndexingState       BatchIndexingState       `json:"batch_indexing_state" yaml:"batch_indexing_state"`
	IncrementalIndexingState IncrementalIndexingState `json:"incremental_indexing_state" yaml:"incremental_indexing_state"`
	SubscriptionID           string                   `json:"subscription_id,omitempty" yaml:"subscription_id,omitempty"`
	Configuration            []byte                   `json:"configuration,omitempty" yaml:"configuration,omitempty"`
	ConnectionType           string                   `json:"connection_type,omitempty" yaml:"connection_type,omitempty"`
	ConnectionParams         map[string]string        `json:"connection_params,omitempty" yaml:"connection_params,omitempty"`
	BatchIndexArgs           []string                 `json:"batch_index_args,omitempty" yaml:"batch_index_args,omitempty"`
	ActiveBatchBuild         *BatchBuildInfo          `json:"active_batch_build,omitempty" yaml:"active_batch_build,omitempty"`
	LastBatchBuild           *BatchBuildInfo          `json:"last_batch_build,omitempty" yaml:"last_batch_build,omitempty"`

	// Version is owned by the store and used for conditional updates.
	Version int64 `json:"version" yaml:"-"`
}

// HasActiveBuild reports whether a batch build is in flight.
func (r IndexerRecord) HasActiveBuild() bool {
	return r.ActiveBatchBuild != nil
}

// Clone returns a deep copy of the record.
func (r IndexerRecord) Clone() IndexerRecord {
	out := r
	out.Configuration = bytes.Clone(r.Configuration)
	out.BatchIndexArgs = slices.Clone(r.BatchIndexArgs)
	if r.ConnectionParams != nil {
		out.ConnectionParams = make(map[string]string, len(r.ConnectionParams))
		for k, v := range r.ConnectionParams {
			out.ConnectionParams[k] = v
		}
	}
	if r.ActiveBatchBuild != nil {
		b := r.ActiveBatchBuild.Clone()
		out.ActiveBatchBuild = &b
	}
	if r.LastBatchBuild != nil {
		b := r.LastBatchBuild.Clone()
		out.LastBatchBuild = &b
	}
	return out
}

// Change modifies a private copy of a record inside With.
type Change func(*IndexerRecord)

// With returns a copy of r with the given changes applied. r is not modified.
func (r IndexerRecord) With(changes ...Change) IndexerRecord {
	out := r.Clone()
	for _, change := range changes {
		change(&out)
	}
	return out
}

// WithBatchIndexingState sets the batch indexing state.
func WithBatchIndexingState(state BatchIndexingState) Change {
	return func(r *IndexerRecord) { r.BatchIndexingState = state }
}

// WithActiveBatchBuild sets the active build to a copy of b.
func WithActiveBatchBuild(b BatchBuildInfo) Change {
	return func(r *IndexerRecord) {
		c := b.Clone()
		r.ActiveBatchBuild = &c
	}
}

// WithoutActiveBatchBuild clears the active build.
func WithoutActiveBatchBuild() Change {
	return func(r *IndexerRecord) { r.ActiveBatchBuild = nil }
}

// WithLastBatchBuild sets the last finished build to a copy of b.
func WithLastBatchBuild(b BatchBuildInfo) Change {
	return func(r *IndexerRecord) {
		c := b.Clone()
		r.LastBatchBuild = &c
	}
}

// WithLifecycleState sets the lifecycle state.
func WithLifecycleState(state LifecycleState) Change {
	return func(r *IndexerRecord) { r.LifecycleState = state }
}
