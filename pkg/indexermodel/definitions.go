package indexermodel

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefinitionsFile is the on-disk form used by `indexwarden indexer import`.
//
// Example:
//
//	indexers:
//	  - name: idx1
//	    connection_type: solr
//	    configuration: |
//	      <indexer table="records"/>
//	    active_batch_build:
//	      submit_time: 2026-01-19T12:00:00Z
//	      jobs:
//	        job_1: http://tracker:19888/jobs/job_1
type DefinitionsFile struct {
	Indexers []Definition `yaml:"indexers"`
}

// Definition is the YAML shape of one indexer.
type Definition struct {
	Name                     string                   `yaml:"name"`
	LifecycleState           LifecycleState           `yaml:"lifecycle_state,omitempty"`
	BatchIndexingState       BatchIndexingState       `yaml:"batch_indexing_state,omitempty"`
	IncrementalIndexingState IncrementalIndexingState `yaml:"incremental_indexing_state,omitempty"`
	SubscriptionID           string                   `yaml:"subscription_id,omitempty"`
	Configuration            string                   `yaml:"configuration,omitempty"`
	ConnectionType           string                   `yaml:"connection_type,omitempty"`
	ConnectionParams         map[string]string        `yaml:"connection_params,omitempty"`
	BatchIndexArgs           []string                 `yaml:"batch_index_args,omitempty"`
	ActiveBatchBuild         *BatchBuildInfo          `yaml:"active_batch_build,omitempty"`
	LastBatchBuild           *BatchBuildInfo          `yaml:"last_batch_build,omitempty"`
}

// Record converts the definition into a normalized record.
func (d Definition) Record() IndexerRecord {
	r := IndexerRecord{
		Name:                     strings.TrimSpace(d.Name),
		LifecycleState:           d.LifecycleState,
		BatchIndexingState:       d.BatchIndexingState,
		IncrementalIndexingState: d.IncrementalIndexingState,
		SubscriptionID:           d.SubscriptionID,
		ConnectionType:           d.ConnectionType,
		ConnectionParams:         d.ConnectionParams,
		BatchIndexArgs:           d.BatchIndexArgs,
		ActiveBatchBuild:         d.ActiveBatchBuild,
		LastBatchBuild:           d.LastBatchBuild,
	}
	if d.Configuration != "" {
		r.Configuration = []byte(d.Configuration)
	}
	// An imported active build implies the batch state unless one was given.
	if r.ActiveBatchBuild != nil && r.BatchIndexingState == "" {
		r.BatchIndexingState = BatchActive
	}
	return Normalize(r).Clone()
}

// ParseDefinitions decodes a definitions document.
func ParseDefinitions(data []byte) ([]IndexerRecord, error) {
	var file DefinitionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse indexer definitions: %w", err)
	}

	seen := make(map[string]bool, len(file.Indexers))
	out := make([]IndexerRecord, 0, len(file.Indexers))
	for i, d := range file.Indexers {
		r := d.Record()
		if r.Name == "" {
			return nil, fmt.Errorf("indexer definition %d: name is required", i)
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("indexer definition %d: duplicate name %q", i, r.Name)
		}
		seen[r.Name] = true
		out = append(out, r)
	}
	return out, nil
}

// LoadDefinitions reads and decodes a definitions file.
func LoadDefinitions(path string) ([]IndexerRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read indexer definitions: %w", err)
	}
	return ParseDefinitions(data)
}
