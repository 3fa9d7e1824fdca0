package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/3leaps/indexwarden/internal/errors"
	"github.com/3leaps/indexwarden/pkg/indexermodel"
)

// IndexerView is the JSON form of an indexer record. Configuration bytes are
// omitted from listings.
type IndexerView struct {
	Name                     string                       `json:"name"`
	Version                  int64                        `json:"version"`
	LifecycleState           string                       `json:"lifecycle_state"`
	BatchIndexingState       string                       `json:"batch_indexing_state"`
	IncrementalIndexingState string                       `json:"incremental_indexing_state"`
	SubscriptionID           string                       `json:"subscription_id,omitempty"`
	ConnectionType           string                       `json:"connection_type,omitempty"`
	ConnectionParams         map[string]string            `json:"connection_params,omitempty"`
	BatchIndexArgs           []string                     `json:"batch_index_args,omitempty"`
	Configuration            string                       `json:"configuration,omitempty"`
	ActiveBatchBuild         *indexermodel.BatchBuildInfo `json:"active_batch_build,omitempty"`
	LastBatchBuild           *indexermodel.BatchBuildInfo `json:"last_batch_build,omitempty"`
}

// NewIndexerView converts a record; withConfig includes the configuration.
func NewIndexerView(r indexermodel.IndexerRecord, withConfig bool) IndexerView {
	v := IndexerView{
		Name:                     r.Name,
		Version:                  r.Version,
		LifecycleState:           string(r.LifecycleState),
		BatchIndexingState:       string(r.BatchIndexingState),
		IncrementalIndexingState: string(r.IncrementalIndexingState),
		SubscriptionID:           r.SubscriptionID,
		ConnectionType:           r.ConnectionType,
		ConnectionParams:         r.ConnectionParams,
		BatchIndexArgs:           r.BatchIndexArgs,
		ActiveBatchBuild:         r.ActiveBatchBuild,
		LastBatchBuild:           r.LastBatchBuild,
	}
	if withConfig {
		v.Configuration = string(r.Configuration)
	}
	return v
}

// IndexerHandlers serves read-only views of the indexer model.
type IndexerHandlers struct {
	reader indexermodel.Reader
}

// NewIndexerHandlers returns handlers backed by reader.
func NewIndexerHandlers(reader indexermodel.Reader) *IndexerHandlers {
	return &IndexerHandlers{reader: reader}
}

// List handles GET /v1/indexers.
func (h *IndexerHandlers) List(w http.ResponseWriter, r *http.Request) {
	records, err := h.reader.List(r.Context())
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	views := make([]IndexerView, 0, len(records))
	for _, rec := range records {
		views = append(views, NewIndexerView(rec, false))
	}
	apperrors.WriteJSON(w, http.StatusOK, map[string]any{"indexers": views})
}

// Get handles GET /v1/indexers/{name}.
func (h *IndexerHandlers) Get(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	rec, err := h.reader.GetFresh(r.Context(), name)
	if err != nil {
		if indexermodel.IsNotFound(err) {
			respondWithError(w, r, apperrors.NotFound("indexer "+name+" not found"))
			return
		}
		respondWithError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, NewIndexerView(rec, true))
}
