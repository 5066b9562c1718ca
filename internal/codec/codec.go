// Package codec renders telemetry records for the wire.
package codec

import (
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// TelemetryEncoder turns a flat telemetry record into a payload.
type TelemetryEncoder interface {
	Name() string
	Encode(record map[string]any) ([]byte, error)
}

// JSON encodes the record as one flat JSON object with sorted keys.
type JSON struct{}

func (JSON) Name() string { return "json" }

func (JSON) Encode(record map[string]any) ([]byte, error) {
	return json.Marshal(record)
}

// Proto encodes the record as a google.protobuf.Struct. Numbers become
// doubles, so tick counters lose precision past 2^53.
type Proto struct{}

func (Proto) Name() string { return "proto" }

func (Proto) Encode(record map[string]any) ([]byte, error) {
	st, err := structpb.NewStruct(record)
	if err != nil {
		return nil, fmt.Errorf("proto encode: %w", err)
	}
	return proto.Marshal(st)
}

// DecodeProto reverses Proto.Encode.
func DecodeProto(data []byte) (map[string]any, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("proto decode: %w", err)
	}
	return st.AsMap(), nil
}

// ByName returns the encoder registered under name ("json" or "proto").
func ByName(name string) (TelemetryEncoder, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return JSON{}, nil
	case "proto", "protobuf":
		return Proto{}, nil
	}
	return nil, fmt.Errorf("unknown telemetry encoding %q", name)
}
