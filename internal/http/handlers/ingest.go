package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/wallplay/wallplay/internal/store"
)

// IngestHandler accepts timeline documents from the control channel.
type IngestHandler struct {
	controller Controller
	snapshots  *store.SnapshotRepository
}

// NewIngestHandler creates an ingest handler. snapshots may be nil, in
// which case the revision-listing route is not registered.
func NewIngestHandler(controller Controller, snapshots *store.SnapshotRepository) *IngestHandler {
	return &IngestHandler{controller: controller, snapshots: snapshots}
}

// TimelineInput carries a raw timeline document. The body is passed to
// the decoder untouched so producers keep their loose scalar encodings.
type TimelineInput struct {
	RawBody []byte `contentType:"application/json"`
}

// IngestOutput reports the accepted document's identity.
type IngestOutput struct {
	Body struct {
		ID   int64  `json:"id"`
		Name string `json:"name,omitempty"`
	}
}

// RevisionsInput selects which playlist's revisions to list.
type RevisionsInput struct {
	PlaylistID int64 `path:"playlistID"`
	Limit      int   `query:"limit" default:"20" minimum:"1" maximum:"100"`
}

// RevisionSummary describes one stored playlist revision.
type RevisionSummary struct {
	Revision  string    `json:"revision"`
	Name      string    `json:"name,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// RevisionsOutput lists stored revisions, newest first.
type RevisionsOutput struct {
	Body struct {
		Revisions []RevisionSummary `json:"revisions"`
	}
}

// Register registers the ingest routes with the API.
func (h *IngestHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "putPlaylist",
		Method:      "PUT",
		Path:        "/api/v1/playlist",
		Summary:     "Install a playlist",
		Description: "Decodes, persists, and activates the playlist. Playback switches only if the playlist identity differs from the active one.",
		Tags:        []string{"Timeline"},
	}, h.PutPlaylist)

	huma.Register(api, huma.Operation{
		OperationID: "putMontage",
		Method:      "PUT",
		Path:        "/api/v1/montages",
		Summary:     "Install a standalone montage",
		Description: "Adds the montage to the cache and the ambient play order used when no playlist is active.",
		Tags:        []string{"Timeline"},
	}, h.PutMontage)

	if h.snapshots != nil {
		huma.Register(api, huma.Operation{
			OperationID: "listPlaylistRevisions",
			Method:      "GET",
			Path:        "/api/v1/playlist/{playlistID}/revisions",
			Summary:     "List stored playlist revisions",
			Tags:        []string{"Timeline"},
		}, h.ListRevisions)
	}
}

// PutPlaylist installs a playlist document.
func (h *IngestHandler) PutPlaylist(ctx context.Context, input *TimelineInput) (*IngestOutput, error) {
	playlist, err := h.controller.IngestPlaylist(ctx, input.RawBody)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity("invalid playlist document", err)
	}

	out := &IngestOutput{}
	out.Body.ID = playlist.ID
	out.Body.Name = playlist.Name
	return out, nil
}

// PutMontage installs a standalone montage document.
func (h *IngestHandler) PutMontage(ctx context.Context, input *TimelineInput) (*IngestOutput, error) {
	montage, err := h.controller.IngestMontage(ctx, input.RawBody)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity("invalid montage document", err)
	}

	out := &IngestOutput{}
	out.Body.ID = montage.ID
	out.Body.Name = montage.Name
	return out, nil
}

// ListRevisions lists stored revisions of a playlist, newest first.
func (h *IngestHandler) ListRevisions(ctx context.Context, input *RevisionsInput) (*RevisionsOutput, error) {
	snaps, err := h.snapshots.PlaylistRevisions(ctx, input.PlaylistID, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("listing revisions", err)
	}

	out := &RevisionsOutput{}
	out.Body.Revisions = make([]RevisionSummary, 0, len(snaps))
	for _, s := range snaps {
		out.Body.Revisions = append(out.Body.Revisions, RevisionSummary{
			Revision:  s.Revision.String(),
			Name:      s.Name,
			Active:    s.Active,
			CreatedAt: s.CreatedAt,
		})
	}
	return out, nil
}
