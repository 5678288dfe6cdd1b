package wire

import (
	"encoding/json"
	"fmt"
)

// PtyRequest is the sum type the daemon sends to a pty helper on its /pty
// connection.
type PtyRequest interface {
	ptyRequestKind() string
}

type PtyInitRequest struct{ Meta TabMetadata }
type PtyInputRequest struct{ Chunk InputChunk }
type PtyResizeRequest struct{ Dimensions Dimensions }
type PtyTerminateRequest struct{}

func (PtyInitRequest) ptyRequestKind() string      { return "init" }
func (PtyInputRequest) ptyRequestKind() string     { return "input" }
func (PtyResizeRequest) ptyRequestKind() string    { return "resize" }
func (PtyTerminateRequest) ptyRequestKind() string { return "terminate" }

type ptyRequestEnvelope struct {
	Type       string      `json:"type"`
	Meta       *TabMetadata `json:"meta,omitempty"`
	Chunk      *InputChunk  `json:"chunk,omitempty"`
	Dimensions *Dimensions  `json:"dimensions,omitempty"`
}

func EncodePtyRequest(r PtyRequest) ([]byte, error) {
	env := ptyRequestEnvelope{Type: r.ptyRequestKind()}
	switch v := r.(type) {
	case PtyInitRequest:
		env.Meta = &v.Meta
	case PtyInputRequest:
		env.Chunk = &v.Chunk
	case PtyResizeRequest:
		env.Dimensions = &v.Dimensions
	case PtyTerminateRequest:
		// no payload
	default:
		return nil, fmt.Errorf("wire: unknown pty request type %T", r)
	}
	return json.Marshal(env)
}

func DecodePtyRequest(data []byte) (PtyRequest, error) {
	var env ptyRequestEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("wire: decode pty request: %w", err)
	}
	switch env.Type {
	case "init":
		if env.Meta == nil {
			return nil, fmt.Errorf("wire: pty init missing meta")
		}
		return PtyInitRequest{Meta: *env.Meta}, nil
	case "input":
		if env.Chunk == nil {
			return nil, fmt.Errorf("wire: pty input missing chunk")
		}
		return PtyInputRequest{Chunk: *env.Chunk}, nil
	case "resize":
		if env.Dimensions == nil {
			return nil, fmt.Errorf("wire: pty resize missing dimensions")
		}
		return PtyResizeRequest{Dimensions: *env.Dimensions}, nil
	case "terminate":
		return PtyTerminateRequest{}, nil
	default:
		return nil, fmt.Errorf("wire: unknown pty request type %q", env.Type)
	}
}

// PtyResponse is the sum type a pty helper sends back to the daemon.
type PtyResponse interface {
	ptyResponseKind() string
}

type PtyStartedResponse struct{ Meta TabMetadata }
type PtyOutputResponse struct{ Chunk OutputChunk }
type PtyStoppedResponse struct{}

func (PtyStartedResponse) ptyResponseKind() string { return "started" }
func (PtyOutputResponse) ptyResponseKind() string  { return "output" }
func (PtyStoppedResponse) ptyResponseKind() string { return "stopped" }

type ptyResponseEnvelope struct {
	Type  string       `json:"type"`
	Meta  *TabMetadata `json:"meta,omitempty"`
	Chunk *OutputChunk `json:"chunk,omitempty"`
}

func EncodePtyResponse(r PtyResponse) ([]byte, error) {
	env := ptyResponseEnvelope{Type: r.ptyResponseKind()}
	switch v := r.(type) {
	case PtyStartedResponse:
		env.Meta = &v.Meta
	case PtyOutputResponse:
		env.Chunk = &v.Chunk
	case PtyStoppedResponse:
		// no payload
	default:
		return nil, fmt.Errorf("wire: unknown pty response type %T", r)
	}
	return json.Marshal(env)
}

func DecodePtyResponse(data []byte) (PtyResponse, error) {
	var env ptyResponseEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("wire: decode pty response: %w", err)
	}
	switch env.Type {
	case "started":
		if env.Meta == nil {
			return nil, fmt.Errorf("wire: pty started missing meta")
		}
		return PtyStartedResponse{Meta: *env.Meta}, nil
	case "output":
		if env.Chunk == nil {
			return nil, fmt.Errorf("wire: pty output missing chunk")
		}
		return PtyOutputResponse{Chunk: *env.Chunk}, nil
	case "stopped":
		return PtyStoppedResponse{}, nil
	default:
		return nil, fmt.Errorf("wire: unknown pty response type %q", env.Type)
	}
}
