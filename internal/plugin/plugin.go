// Package plugin wraps the gateway's plugin message transactions in
// typed control APIs for the videoroom and streaming plugins.
package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Well-known plugin error codes surfaced as sentinels.
const (
	codeInvalidElement   = 425
	codeNoSuchRoom       = 426
	codeRoomExists       = 427
	codeNoSuchMountpoint = 455
)

var (
	ErrRoomNotFound       = errors.New("no such room")
	ErrRoomExists         = errors.New("room already exists")
	ErrMountpointNotFound = errors.New("no such mountpoint")
)

// Error is a plugin-level failure reported inside plugindata.
type Error struct {
	Code   int
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("plugin error %d: %s", e.Code, e.Reason)
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrRoomNotFound:
		return e.Code == codeNoSuchRoom
	case ErrRoomExists:
		return e.Code == codeRoomExists
	case ErrMountpointNotFound:
		return e.Code == codeNoSuchMountpoint
	}
	return false
}

type wireReply struct {
	PluginData struct {
		Plugin string          `json:"plugin"`
		Data   json.RawMessage `json:"data"`
	} `json:"plugindata"`
}

// decodeReply extracts plugindata.data from a raw message response,
// converting embedded error_code/error fields into *Error. out may be
// nil when the caller only cares about success.
func decodeReply(raw json.RawMessage, out any) error {
	var reply wireReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return fmt.Errorf("decode plugin reply: %w", err)
	}
	if len(reply.PluginData.Data) == 0 {
		return fmt.Errorf("plugin reply carries no data")
	}

	var failure struct {
		ErrorCode int    `json:"error_code"`
		Error     string `json:"error"`
	}
	if err := json.Unmarshal(reply.PluginData.Data, &failure); err == nil && failure.ErrorCode != 0 {
		return &Error{Code: failure.ErrorCode, Reason: failure.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(reply.PluginData.Data, out); err != nil {
		return fmt.Errorf("decode plugin data: %w", err)
	}
	return nil
}

// invalidElement reports whether the error is the plugin's complaint
// about a wrongly typed request field. Gateways configured with string
// room ids reject numeric ones this way, and vice versa.
func invalidElement(err error) bool {
	var perr *Error
	return errors.As(err, &perr) && perr.Code == codeInvalidElement
}
