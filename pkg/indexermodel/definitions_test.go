package indexermodel

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefinitions(t *testing.T) {
	doc := `
indexers:
  - name: idx1
    connection_type: solr
    connection_params:
      solr.zk: zk:2181
    configuration: |
      <indexer table="records"/>
    active_batch_build:
      submit_time: 2026-01-19T12:00:00Z
      jobs:
        job_1: http://tracker/jobs/job_1
  - name: idx2
    lifecycle_state: DELETE_REQUESTED
`
	records, err := ParseDefinitions([]byte(doc))
	require.NoError(t, err)
	require.Len(t, records, 2)

	idx1 := records[0]
	assert.Equal(t, "idx1", idx1.Name)
	assert.Equal(t, "solr", idx1.ConnectionType)
	assert.Equal(t, "zk:2181", idx1.ConnectionParams["solr.zk"])
	assert.Contains(t, string(idx1.Configuration), `table="records"`)
	assert.Equal(t, BatchActive, idx1.BatchIndexingState)
	require.NotNil(t, idx1.ActiveBatchBuild)
	assert.Equal(t, time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC), idx1.ActiveBatchBuild.SubmitTime.UTC())
	assert.Equal(t, "http://tracker/jobs/job_1", idx1.ActiveBatchBuild.Jobs["job_1"])

	idx2 := records[1]
	assert.Equal(t, LifecycleDeleteRequested, idx2.LifecycleState)
	assert.Equal(t, BatchInactive, idx2.BatchIndexingState)
	assert.Equal(t, IncrementalDefault, idx2.IncrementalIndexingState)
}

func TestParseDefinitions_Errors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{"missing name", "indexers:\n  - connection_type: solr\n", "name is required"},
		{"duplicate", "indexers:\n  - name: a\n  - name: a\n", "duplicate name"},
		{"bad yaml", "indexers: [", "parse indexer definitions"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDefinitions([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadDefinitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "indexers.yaml")
	require.NoError(t, os.WriteFile(path, []byte("indexers:\n  - name: a\n"), 0o644))

	records, err := LoadDefinitions(path)
	require.NoError(t, err)
	require.Len(t, records, 1)

	_, err = LoadDefinitions(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
