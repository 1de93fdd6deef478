package plugin

import (
	"context"

	"github.com/janus-scope/backend/internal/gateway"
)

// Streaming drives the streaming plugin through an attached handle.
type Streaming struct {
	client *gateway.Client
	handle gateway.Handle
}

func NewStreaming(client *gateway.Client, handle gateway.Handle) *Streaming {
	return &Streaming{client: client, handle: handle}
}

// MountpointOptions configures an RTP mountpoint.
type MountpointOptions struct {
	ID          int64
	Name        string
	Description string
	Secret      string
	Audio       bool
	AudioPort   int
	AudioPT     int
	AudioCodec  string
	Video       bool
	VideoPort   int
	VideoPT     int
	VideoCodec  string
	Permanent   bool
}

// Mountpoint is one entry of the plugin's mountpoint listing.
type Mountpoint struct {
	ID          int64  `json:"id"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`
	AudioAgeMS  int64  `json:"audio_age_ms"`
	VideoAgeMS  int64  `json:"video_age_ms"`
}

func (s *Streaming) send(ctx context.Context, body map[string]any, out any) error {
	raw, err := s.client.SendCommand(ctx, s.handle, body)
	if err != nil {
		return err
	}
	return decodeReply(raw, out)
}

// CreateMountpoint creates an RTP mountpoint and returns its id, which
// the plugin assigns when opts.ID is zero.
func (s *Streaming) CreateMountpoint(ctx context.Context, opts MountpointOptions) (int64, error) {
	body := map[string]any{
		"request": "create",
		"type":    "rtp",
	}
	if opts.ID != 0 {
		body["id"] = opts.ID
	}
	if opts.Name != "" {
		body["name"] = opts.Name
	}
	if opts.Description != "" {
		body["description"] = opts.Description
	}
	if opts.Secret != "" {
		body["secret"] = opts.Secret
	}
	if opts.Audio {
		body["audio"] = true
		body["audioport"] = opts.AudioPort
		body["audiopt"] = opts.AudioPT
		body["audiortpmap"] = opts.AudioCodec
	}
	if opts.Video {
		body["video"] = true
		body["videoport"] = opts.VideoPort
		body["videopt"] = opts.VideoPT
		body["videortpmap"] = opts.VideoCodec
	}
	if opts.Permanent {
		body["permanent"] = true
	}

	var data struct {
		Stream struct {
			ID int64 `json:"id"`
		} `json:"stream"`
	}
	if err := s.send(ctx, body, &data); err != nil {
		return 0, err
	}
	return data.Stream.ID, nil
}

// EditMountpoint updates mutable mountpoint fields.
func (s *Streaming) EditMountpoint(ctx context.Context, id int64, secret, description string, permanent bool) error {
	body := map[string]any{
		"request": "edit",
		"id":      id,
	}
	if secret != "" {
		body["secret"] = secret
	}
	if description != "" {
		body["new_description"] = description
	}
	if permanent {
		body["permanent"] = true
	}
	return s.send(ctx, body, nil)
}

// DestroyMountpoint removes the mountpoint. ErrMountpointNotFound when
// it does not exist.
func (s *Streaming) DestroyMountpoint(ctx context.Context, id int64, secret string, permanent bool) error {
	body := map[string]any{
		"request": "destroy",
		"id":      id,
	}
	if secret != "" {
		body["secret"] = secret
	}
	if permanent {
		body["permanent"] = true
	}
	return s.send(ctx, body, nil)
}

// SetEnabled enables or disables the mountpoint. Disabling kicks all
// viewers when kickAll is set.
func (s *Streaming) SetEnabled(ctx context.Context, id int64, secret string, enabled, kickAll bool) error {
	request := "disable"
	body := map[string]any{"id": id}
	if enabled {
		request = "enable"
	} else if kickAll {
		body["stop_viewers"] = true
	}
	body["request"] = request
	if secret != "" {
		body["secret"] = secret
	}
	return s.send(ctx, body, nil)
}

// ListMountpoints returns the mountpoints visible to this handle.
func (s *Streaming) ListMountpoints(ctx context.Context) ([]Mountpoint, error) {
	var data struct {
		List []Mountpoint `json:"list"`
	}
	if err := s.send(ctx, map[string]any{"request": "list"}, &data); err != nil {
		return nil, err
	}
	return data.List, nil
}
