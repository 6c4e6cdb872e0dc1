package wire

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Codec turns messages into frames and back. Unmarshal returns a message
// whose Payload has the concrete type registered for its event.
type Codec interface {
	Name() string
	Marshal(msg Message) ([]byte, error)
	Unmarshal(data []byte) (Message, error)
}

// JSON is the default text codec.
var JSON Codec = jsonCodec{}

// CBOR is the compact binary codec.
var CBOR Codec = newCBORCodec()

// CodecByName resolves "json" or "cbor". The empty name selects JSON.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON, nil
	case "cbor":
		return CBOR, nil
	default:
		return nil, fmt.Errorf("wire: unknown codec %q", name)
	}
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

func (jsonCodec) Unmarshal(data []byte) (Message, error) {
	var env struct {
		Event   Event           `json:"event"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("wire: json: %w", err)
	}
	var raw []byte
	if len(env.Payload) > 0 && string(env.Payload) != "null" {
		raw = env.Payload
	}
	payload, err := decodePayload(env.Event, raw, json.Unmarshal)
	if err != nil {
		return Message{}, err
	}
	return Message{Event: env.Event, Payload: payload}, nil
}

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func newCBORCodec() cborCodec {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	enc, err := opts.EncMode()
	if err != nil {
		panic("wire: CBOR encoder initialization failed: " + err.Error())
	}
	dec, err := cbor.DecOptions{
		// any-typed targets must come back as map[string]any, like JSON.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("wire: CBOR decoder initialization failed: " + err.Error())
	}
	return cborCodec{enc: enc, dec: dec}
}

func (cborCodec) Name() string { return "cbor" }

func (c cborCodec) Marshal(msg Message) ([]byte, error) {
	return c.enc.Marshal(msg)
}

func (c cborCodec) Unmarshal(data []byte) (Message, error) {
	var env struct {
		Event   Event           `cbor:"event"`
		Payload cbor.RawMessage `cbor:"payload"`
	}
	if err := c.dec.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("wire: cbor: %w", err)
	}
	var raw []byte
	// 0xf6 is CBOR null.
	if len(env.Payload) > 0 && !(len(env.Payload) == 1 && env.Payload[0] == 0xf6) {
		raw = env.Payload
	}
	payload, err := decodePayload(env.Event, raw, c.dec.Unmarshal)
	if err != nil {
		return Message{}, err
	}
	return Message{Event: env.Event, Payload: payload}, nil
}

// decodePayload maps an event to its payload type. raw is nil when the
// frame carried no payload.
func decodePayload(ev Event, raw []byte, unmarshal func([]byte, any) error) (any, error) {
	into := func(v any) error {
		if raw == nil {
			return nil
		}
		if err := unmarshal(raw, v); err != nil {
			return fmt.Errorf("wire: %s payload: %w", ev, err)
		}
		return nil
	}

	switch ev {
	case EventEndOfTree, EventDevtoolsInitialized, EventRequestTree, EventRemoveAllBreakpoints:
		return nil, nil
	case EventOperation:
		if raw == nil {
			return nil, &ErrMalformedOperation{Reason: "missing payload"}
		}
		var op Operation
		err := into(&op)
		return op, err
	case EventEndSynchronization:
		var token string
		err := into(&token)
		return token, err
	case EventInspectElement:
		var req InspectRequest
		err := into(&req)
		return req, err
	case EventInspectedElement:
		var el InspectedElement
		err := into(&el)
		return el, err
	case EventGetProfile:
		var req ProfileRequest
		err := into(&req)
		return req, err
	case EventProfile:
		var p Profile
		err := into(&p)
		return p, err
	case EventSetBreakpoint, EventRemoveBreakpoint:
		var req BreakpointRequest
		err := into(&req)
		return req, err
	case EventBreakpoints:
		var list BreakpointList
		err := into(&list)
		return list, err
	default:
		return nil, &ErrUnknownEvent{Event: ev}
	}
}
