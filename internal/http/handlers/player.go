// Package handlers provides the control API handlers for wallplay.
package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/wallplay/wallplay/internal/engine"
	"github.com/wallplay/wallplay/internal/timeline"
)

// Controller is the engine surface the handlers drive. Playback commands
// are fire-and-forget: the engine applies them on its own clock and the
// handler reports the resulting status.
type Controller interface {
	Status() engine.Status
	Play(ctx context.Context, offset *time.Duration)
	Pause(ctx context.Context)
	Stop(ctx context.Context)
	Seek(ctx context.Context, offset time.Duration)
	Next(ctx context.Context)
	Previous(ctx context.Context)
	GoMontage(ctx context.Context, montageIndex int, track *int)
	SetVolume(ctx context.Context, volume float64)
	IngestPlaylist(ctx context.Context, raw []byte) (*timeline.Playlist, error)
	IngestMontage(ctx context.Context, raw []byte) (*timeline.Montage, error)
}

// PlayerHandler exposes playback transport controls.
type PlayerHandler struct {
	controller Controller
}

// NewPlayerHandler creates a player handler around the given controller.
func NewPlayerHandler(controller Controller) *PlayerHandler {
	return &PlayerHandler{controller: controller}
}

// PlayerStatus is the API shape of the engine's playback status.
type PlayerStatus struct {
	State               string  `json:"state" enum:"stopped,playing,paused" doc:"Playback state"`
	PlaylistID          int64   `json:"playlist_id,omitempty" doc:"Active playlist identity"`
	PlaylistName        string  `json:"playlist_name,omitempty"`
	MontageIndex        int     `json:"montage_index"`
	TrackIndex          int     `json:"track_index"`
	ItemIndex           int     `json:"item_index"`
	LoopIndex           int     `json:"loop_index"`
	GlobalOffsetSeconds float64 `json:"global_offset_seconds" doc:"Elapsed playback time across the timeline"`
	PendingChunks       int     `json:"pending_chunks"`
	InflightChunks      int     `json:"inflight_chunks"`
	UptimeSeconds       float64 `json:"uptime_seconds"`
}

func statusBody(st engine.Status) PlayerStatus {
	return PlayerStatus{
		State:               st.State,
		PlaylistID:          st.PlaylistID,
		PlaylistName:        st.PlaylistName,
		MontageIndex:        st.MontageIndex,
		TrackIndex:          st.TrackIndex,
		ItemIndex:           st.ItemIndex,
		LoopIndex:           st.LoopIndex,
		GlobalOffsetSeconds: st.GlobalOffset.Seconds(),
		PendingChunks:       st.Pending,
		InflightChunks:      st.Inflight,
		UptimeSeconds:       st.Uptime.Seconds(),
	}
}

// StatusOutput wraps the player status response.
type StatusOutput struct {
	Body PlayerStatus
}

// PlayInput optionally restarts the clock at an offset within the
// current item.
type PlayInput struct {
	Body struct {
		OffsetSeconds *float64 `json:"offset_seconds,omitempty" minimum:"0" doc:"Restart position within the current item"`
	}
}

// SeekInput moves the playback position within the current item.
type SeekInput struct {
	Body struct {
		OffsetSeconds float64 `json:"offset_seconds" minimum:"0"`
	}
}

// MontageInput jumps to a montage by playlist index.
type MontageInput struct {
	Body struct {
		Index int  `json:"index" minimum:"0" doc:"Montage index within the playlist"`
		Track *int `json:"track,omitempty" doc:"Track to pin for this montage"`
	}
}

// VolumeInput adjusts the playback volume.
type VolumeInput struct {
	Body struct {
		Volume float64 `json:"volume" minimum:"0" maximum:"1"`
	}
}

type emptyInput struct{}

// Register registers the player routes with the API.
func (h *PlayerHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getPlayerStatus",
		Method:      "GET",
		Path:        "/api/v1/player",
		Summary:     "Get playback status",
		Tags:        []string{"Player"},
	}, h.GetStatus)

	huma.Register(api, huma.Operation{
		OperationID: "playerPlay",
		Method:      "POST",
		Path:        "/api/v1/player/play",
		Summary:     "Start or resume playback",
		Description: "Resumes paused playback exactly where it stopped. With offset_seconds, restarts the clock at that position within the current item.",
		Tags:        []string{"Player"},
	}, h.Play)

	huma.Register(api, huma.Operation{
		OperationID: "playerPause",
		Method:      "POST",
		Path:        "/api/v1/player/pause",
		Summary:     "Pause playback",
		Tags:        []string{"Player"},
	}, h.Pause)

	huma.Register(api, huma.Operation{
		OperationID: "playerStop",
		Method:      "POST",
		Path:        "/api/v1/player/stop",
		Summary:     "Stop playback",
		Tags:        []string{"Player"},
	}, h.Stop)

	huma.Register(api, huma.Operation{
		OperationID: "playerSeek",
		Method:      "POST",
		Path:        "/api/v1/player/seek",
		Summary:     "Seek within the current item",
		Tags:        []string{"Player"},
	}, h.Seek)

	huma.Register(api, huma.Operation{
		OperationID: "playerNext",
		Method:      "POST",
		Path:        "/api/v1/player/next",
		Summary:     "Skip to the next position",
		Tags:        []string{"Player"},
	}, h.Next)

	huma.Register(api, huma.Operation{
		OperationID: "playerPrevious",
		Method:      "POST",
		Path:        "/api/v1/player/previous",
		Summary:     "Go back to the previous position",
		Tags:        []string{"Player"},
	}, h.Previous)

	huma.Register(api, huma.Operation{
		OperationID: "playerGoMontage",
		Method:      "POST",
		Path:        "/api/v1/player/montage",
		Summary:     "Jump to a montage",
		Tags:        []string{"Player"},
	}, h.GoMontage)

	huma.Register(api, huma.Operation{
		OperationID: "playerSetVolume",
		Method:      "POST",
		Path:        "/api/v1/player/volume",
		Summary:     "Set playback volume",
		Tags:        []string{"Player"},
	}, h.SetVolume)
}

// GetStatus returns the current playback status.
func (h *PlayerHandler) GetStatus(ctx context.Context, _ *emptyInput) (*StatusOutput, error) {
	return &StatusOutput{Body: statusBody(h.controller.Status())}, nil
}

// Play starts or resumes playback.
func (h *PlayerHandler) Play(ctx context.Context, input *PlayInput) (*StatusOutput, error) {
	var offset *time.Duration
	if input.Body.OffsetSeconds != nil {
		d := time.Duration(*input.Body.OffsetSeconds * float64(time.Second))
		offset = &d
	}
	h.controller.Play(ctx, offset)
	return &StatusOutput{Body: statusBody(h.controller.Status())}, nil
}

// Pause pauses playback.
func (h *PlayerHandler) Pause(ctx context.Context, _ *emptyInput) (*StatusOutput, error) {
	h.controller.Pause(ctx)
	return &StatusOutput{Body: statusBody(h.controller.Status())}, nil
}

// Stop stops playback.
func (h *PlayerHandler) Stop(ctx context.Context, _ *emptyInput) (*StatusOutput, error) {
	h.controller.Stop(ctx)
	return &StatusOutput{Body: statusBody(h.controller.Status())}, nil
}

// Seek moves the playback position within the current item.
func (h *PlayerHandler) Seek(ctx context.Context, input *SeekInput) (*StatusOutput, error) {
	h.controller.Seek(ctx, time.Duration(input.Body.OffsetSeconds*float64(time.Second)))
	return &StatusOutput{Body: statusBody(h.controller.Status())}, nil
}

// Next advances to the next timeline position.
func (h *PlayerHandler) Next(ctx context.Context, _ *emptyInput) (*StatusOutput, error) {
	h.controller.Next(ctx)
	return &StatusOutput{Body: statusBody(h.controller.Status())}, nil
}

// Previous moves back per the previous-window rule.
func (h *PlayerHandler) Previous(ctx context.Context, _ *emptyInput) (*StatusOutput, error) {
	h.controller.Previous(ctx)
	return &StatusOutput{Body: statusBody(h.controller.Status())}, nil
}

// GoMontage jumps to a montage by index.
func (h *PlayerHandler) GoMontage(ctx context.Context, input *MontageInput) (*StatusOutput, error) {
	h.controller.GoMontage(ctx, input.Body.Index, input.Body.Track)
	return &StatusOutput{Body: statusBody(h.controller.Status())}, nil
}

// SetVolume adjusts the playback volume.
func (h *PlayerHandler) SetVolume(ctx context.Context, input *VolumeInput) (*StatusOutput, error) {
	h.controller.SetVolume(ctx, input.Body.Volume)
	return &StatusOutput{Body: statusBody(h.controller.Status())}, nil
}
