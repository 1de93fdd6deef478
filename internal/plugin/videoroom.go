package plugin

import (
	"context"
	"log"

	"github.com/janus-scope/backend/internal/event"
	"github.com/janus-scope/backend/internal/gateway"
)

// VideoRoom drives the videoroom plugin through an attached handle.
type VideoRoom struct {
	client *gateway.Client
	handle gateway.Handle
}

func NewVideoRoom(client *gateway.Client, handle gateway.Handle) *VideoRoom {
	return &VideoRoom{client: client, handle: handle}
}

// RoomOptions configures a videoroom on creation. Zero values fall back
// to the gateway's plugin defaults.
type RoomOptions struct {
	Description string
	Secret      string
	Pin         string
	Publishers  int
	Bitrate     int64
	Record      bool
	RecordDir   string
	IsPrivate   bool
	Permanent   bool
}

// RoomInfo is one entry of the plugin's room listing.
type RoomInfo struct {
	Room            event.RoomID `json:"room"`
	Description     string       `json:"description"`
	PinRequired     bool         `json:"pin_required"`
	MaxPublishers   int          `json:"max_publishers"`
	Bitrate         int64        `json:"bitrate"`
	Record          bool         `json:"record"`
	NumParticipants int          `json:"num_participants"`
}

// roomField returns the room id in the wire form the gateway expects:
// numeric when the id parses as an integer, string otherwise.
func roomField(room event.RoomID, asString bool) any {
	if asString {
		return room.String()
	}
	if n, ok := room.Int(); ok {
		return n
	}
	return room.String()
}

// sendWithRoom issues the request once with the numeric room id and
// retries with the string form when the gateway rejects the type.
func (v *VideoRoom) sendWithRoom(ctx context.Context, room event.RoomID, build func(roomValue any) map[string]any, out any) error {
	raw, err := v.client.SendCommand(ctx, v.handle, build(roomField(room, false)))
	if err == nil {
		err = decodeReply(raw, out)
	}
	if err == nil || !invalidElement(err) {
		return err
	}

	log.Printf("videoroom rejected numeric room id %s, retrying as string", room)
	raw, err = v.client.SendCommand(ctx, v.handle, build(roomField(room, true)))
	if err != nil {
		return err
	}
	return decodeReply(raw, out)
}

// Create creates the room. ErrRoomExists when the id is taken.
func (v *VideoRoom) Create(ctx context.Context, room event.RoomID, opts RoomOptions) error {
	return v.sendWithRoom(ctx, room, func(roomValue any) map[string]any {
		body := map[string]any{
			"request": "create",
			"room":    roomValue,
		}
		if opts.Description != "" {
			body["description"] = opts.Description
		}
		if opts.Secret != "" {
			body["secret"] = opts.Secret
		}
		if opts.Pin != "" {
			body["pin"] = opts.Pin
		}
		if opts.Publishers > 0 {
			body["publishers"] = opts.Publishers
		}
		if opts.Bitrate > 0 {
			body["bitrate"] = opts.Bitrate
		}
		if opts.Record {
			body["record"] = true
			if opts.RecordDir != "" {
				body["rec_dir"] = opts.RecordDir
			}
		}
		if opts.IsPrivate {
			body["is_private"] = true
		}
		if opts.Permanent {
			body["permanent"] = true
		}
		return body
	}, nil)
}

// Destroy tears the room down. ErrRoomNotFound when it does not exist.
func (v *VideoRoom) Destroy(ctx context.Context, room event.RoomID, secret string, permanent bool) error {
	return v.sendWithRoom(ctx, room, func(roomValue any) map[string]any {
		body := map[string]any{
			"request": "destroy",
			"room":    roomValue,
		}
		if secret != "" {
			body["secret"] = secret
		}
		if permanent {
			body["permanent"] = true
		}
		return body
	}, nil)
}

// Edit updates mutable room fields.
func (v *VideoRoom) Edit(ctx context.Context, room event.RoomID, secret string, opts RoomOptions) error {
	return v.sendWithRoom(ctx, room, func(roomValue any) map[string]any {
		body := map[string]any{
			"request": "edit",
			"room":    roomValue,
		}
		if secret != "" {
			body["secret"] = secret
		}
		if opts.Description != "" {
			body["new_description"] = opts.Description
		}
		if opts.Pin != "" {
			body["new_pin"] = opts.Pin
		}
		if opts.Publishers > 0 {
			body["new_publishers"] = opts.Publishers
		}
		if opts.Bitrate > 0 {
			body["new_bitrate"] = opts.Bitrate
		}
		if opts.Permanent {
			body["permanent"] = true
		}
		return body
	}, nil)
}

// SetRecording toggles recording for the room's publishers.
func (v *VideoRoom) SetRecording(ctx context.Context, room event.RoomID, secret string, record bool) error {
	return v.sendWithRoom(ctx, room, func(roomValue any) map[string]any {
		body := map[string]any{
			"request": "enable_recording",
			"room":    roomValue,
			"record":  record,
		}
		if secret != "" {
			body["secret"] = secret
		}
		return body
	}, nil)
}

// Kick removes a participant from the room.
func (v *VideoRoom) Kick(ctx context.Context, room event.RoomID, secret string, participantID int64) error {
	return v.sendWithRoom(ctx, room, func(roomValue any) map[string]any {
		body := map[string]any{
			"request": "kick",
			"room":    roomValue,
			"id":      participantID,
		}
		if secret != "" {
			body["secret"] = secret
		}
		return body
	}, nil)
}

// Exists reports whether the room is known to the plugin.
func (v *VideoRoom) Exists(ctx context.Context, room event.RoomID) (bool, error) {
	var data struct {
		Exists bool `json:"exists"`
	}
	err := v.sendWithRoom(ctx, room, func(roomValue any) map[string]any {
		return map[string]any{"request": "exists", "room": roomValue}
	}, &data)
	if err != nil {
		return false, err
	}
	return data.Exists, nil
}

// List returns the rooms visible to this handle.
func (v *VideoRoom) List(ctx context.Context) ([]RoomInfo, error) {
	raw, err := v.client.SendCommand(ctx, v.handle, map[string]any{"request": "list"})
	if err != nil {
		return nil, err
	}
	var data struct {
		List []RoomInfo `json:"list"`
	}
	if err := decodeReply(raw, &data); err != nil {
		return nil, err
	}
	return data.List, nil
}

// ListParticipants returns the publishers currently in the room.
func (v *VideoRoom) ListParticipants(ctx context.Context, room event.RoomID) ([]event.Participant, error) {
	var data struct {
		Participants []event.Participant `json:"participants"`
	}
	err := v.sendWithRoom(ctx, room, func(roomValue any) map[string]any {
		return map[string]any{"request": "listparticipants", "room": roomValue}
	}, &data)
	if err != nil {
		return nil, err
	}
	return data.Participants, nil
}
