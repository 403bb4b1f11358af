package connection

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Codec frames typed messages for the wire.
type Codec interface {
	// Encode builds a frame carrying msgType and payload.
	Encode(msgType string, payload any) ([]byte, error)

	// Decode extracts the type and payload from a frame. Errors wrap ErrDecode.
	Decode(data []byte) (Message, error)

	// FrameType is the WebSocket message type used for encoded frames.
	FrameType() int
}

// NewCodec returns the codec registered under name ("json" or "proto").
func NewCodec(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "proto", "protobuf":
		return ProtoCodec{}, nil
	}
	return nil, fmt.Errorf("unknown codec %q", name)
}

// wireEnvelope is the JSON wire format: {"type": "...", "payload": ...}.
type wireEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// JSONCodec encodes envelopes as JSON text frames.
type JSONCodec struct{}

func (JSONCodec) Encode(msgType string, payload any) ([]byte, error) {
	env := wireEnvelope{Type: msgType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", msgType, err)
		}
		env.Payload = data
	}
	return json.Marshal(env)
}

func (JSONCodec) Decode(data []byte) (Message, error) {
	var env wireEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if env.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrDecode)
	}
	return Message{Type: env.Type, Payload: env.Payload, Raw: data}, nil
}

func (JSONCodec) FrameType() int {
	return websocket.TextMessage
}

// ProtoCodec encodes envelopes as a google.protobuf.Struct in binary frames.
// Payloads must be representable as JSON.
type ProtoCodec struct{}

func (ProtoCodec) Encode(msgType string, payload any) ([]byte, error) {
	fields := map[string]*structpb.Value{
		"type": structpb.NewStringValue(msgType),
	}
	if payload != nil {
		// Round-trip through JSON so structs and json.RawMessage become plain values.
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", msgType, err)
		}
		var generic any
		if err := json.Unmarshal(data, &generic); err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", msgType, err)
		}
		v, err := structpb.NewValue(generic)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", msgType, err)
		}
		fields["payload"] = v
	}
	return proto.Marshal(&structpb.Struct{Fields: fields})
}

func (ProtoCodec) Decode(data []byte) (Message, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	msgType := st.GetFields()["type"].GetStringValue()
	if msgType == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrDecode)
	}

	msg := Message{Type: msgType, Raw: data}
	if v, ok := st.GetFields()["payload"]; ok {
		payload, err := protojson.Marshal(v)
		if err != nil {
			return Message{}, fmt.Errorf("%w: payload: %v", ErrDecode, err)
		}
		msg.Payload = payload
	}
	return msg, nil
}

func (ProtoCodec) FrameType() int {
	return websocket.BinaryMessage
}
