// Package command decodes controller messages and applies them to the
// shared network state.
package command

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/signalsfoundry/tanknet-simulator/internal/sim/state"
)

// Kind names a command shape.
type Kind string

const (
	KindValve         Kind = "valve"
	KindLeak          Kind = "leak"
	KindLeakIntensity Kind = "leak_intensity"
	KindPause         Kind = "pause"
	KindReset         Kind = "reset"
	KindUnknown       Kind = "unknown"
)

var (
	// ErrMalformed indicates a payload that could not be decoded or that
	// lacks a required field.
	ErrMalformed = errors.New("malformed command")
	// ErrUnsupported indicates an unrecognised type/command, or a command
	// the running topology cannot honour.
	ErrUnsupported = errors.New("unsupported command")
	// ErrRateLimited indicates the command arrived above the configured rate.
	ErrRateLimited = errors.New("command rate limited")
	// ErrUnknownValve indicates a reference to a valve the topology lacks.
	ErrUnknownValve = state.ErrUnknownValve
	// ErrUnknownLeak indicates a reference to a leak tap the topology lacks.
	ErrUnknownLeak = state.ErrUnknownLeak
)

var validate = validator.New()

// envelope is the union of every accepted wire shape:
//
//	{"type":"valve","id":1,"state":true}
//	{"type":"leak","id":1,"state":false}
//	{"type":"leak_intensity","value":2.5}
//	{"command":"pause","value":true}
//	{"command":"reset"}
type envelope struct {
	Type      string          `json:"type"`
	Command   string          `json:"command"`
	ID        *int            `json:"id"`
	State     *bool           `json:"state"`
	Value     json.RawMessage `json:"value"`
	CommandID string          `json:"command_id"`
}

type toggleFields struct {
	ID    *int  `validate:"required,gt=0"`
	State *bool `validate:"required"`
}

type intensityFields struct {
	Value *float64 `validate:"required"`
}

type pauseFields struct {
	Value *bool `validate:"required"`
}

// Request is a decoded, validated command.
type Request struct {
	Kind      Kind
	CommandID string

	// ID and Open are set for valve and leak commands.
	ID   int
	Open bool

	// Value is set for leak_intensity.
	Value float64

	// Pause is set for pause.
	Pause bool
}

// Decode parses one command payload. Errors wrap ErrMalformed or
// ErrUnsupported; a best-effort Kind is returned alongside them so the
// rejection can still be reported by kind.
func Decode(payload []byte) (Request, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return Request{Kind: KindUnknown}, fmt.Errorf("%w: empty payload", ErrMalformed)
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Request{Kind: KindUnknown}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	req := Request{CommandID: strings.TrimSpace(env.CommandID)}
	switch {
	case env.Command != "":
		req.Kind = Kind(strings.ToLower(env.Command))
		if req.Kind != KindPause && req.Kind != KindReset {
			return Request{Kind: KindUnknown, CommandID: req.CommandID},
				fmt.Errorf("%w: command %q", ErrUnsupported, env.Command)
		}
	case env.Type != "":
		req.Kind = Kind(strings.ToLower(env.Type))
	default:
		return Request{Kind: KindUnknown, CommandID: req.CommandID},
			fmt.Errorf("%w: neither type nor command set", ErrMalformed)
	}

	switch req.Kind {
	case KindValve, KindLeak:
		f := toggleFields{ID: env.ID, State: env.State}
		if err := validate.Struct(f); err != nil {
			return req, fmt.Errorf("%w: %s needs a positive id and a boolean state: %v", ErrMalformed, req.Kind, err)
		}
		req.ID, req.Open = *f.ID, *f.State

	case KindLeakIntensity:
		var f intensityFields
		if err := decodeValue(env.Value, &f.Value); err != nil {
			return req, err
		}
		if err := validate.Struct(f); err != nil {
			return req, fmt.Errorf("%w: leak_intensity needs a numeric value: %v", ErrMalformed, err)
		}
		req.Value = *f.Value

	case KindPause:
		var f pauseFields
		if err := decodeValue(env.Value, &f.Value); err != nil {
			return req, err
		}
		if err := validate.Struct(f); err != nil {
			return req, fmt.Errorf("%w: pause needs a boolean value: %v", ErrMalformed, err)
		}
		req.Pause = *f.Value

	case KindReset:

	default:
		return Request{Kind: KindUnknown, CommandID: req.CommandID},
			fmt.Errorf("%w: type %q", ErrUnsupported, env.Type)
	}
	return req, nil
}

func decodeValue[T any](raw json.RawMessage, dst **T) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("%w: value: %v", ErrMalformed, err)
	}
	*dst = &v
	return nil
}

// Reason maps an apply error to the short code used in reports and
// metric labels.
func Reason(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrUnsupported):
		return "unsupported"
	case errors.Is(err, ErrUnknownValve):
		return "unknown_valve"
	case errors.Is(err, ErrUnknownLeak):
		return "unknown_leak"
	default:
		return "error"
	}
}
