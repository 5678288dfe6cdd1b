package wire

import (
	"encoding/json"
	"fmt"

	"github.com/tabmux/tab/internal/tabid"
)

// Response is the sum type the daemon sends to a command on its /cli
// connection.
type Response interface {
	responseKind() string
}

type InitResponse struct{ Tabs map[tabid.ID]TabMetadata }
type OutputResponse struct {
	TabID tabid.ID
	Chunk OutputChunk
}
type ScrollbackResponse struct {
	TabID  tabid.ID
	Chunks []OutputChunk
}
type TabUpdateResponse struct{ Meta TabMetadata }

// RetaskResponse is sent to every command connection subscribed to TabID
// when that tab is retasked: each such command must switch its
// subscription to Target (or disconnect, if Target.IsDisconnect()).
// Commands not subscribed to TabID are not sent it.
type RetaskResponse struct {
	TabID  tabid.ID
	Target RetaskTarget
}
type TabListResponse struct{ Tabs []TabMetadata }
type TabTerminatedResponse struct{ TabID tabid.ID }
type DisconnectResponse struct{}

func (InitResponse) responseKind() string        { return "init" }
func (OutputResponse) responseKind() string      { return "output" }
func (ScrollbackResponse) responseKind() string  { return "scrollback" }
func (TabUpdateResponse) responseKind() string   { return "tab_update" }
func (RetaskResponse) responseKind() string      { return "retask" }
func (TabListResponse) responseKind() string     { return "tab_list" }
func (TabTerminatedResponse) responseKind() string { return "tab_terminated" }
func (DisconnectResponse) responseKind() string  { return "disconnect" }

type responseEnvelope struct {
	Type    string                   `json:"type"`
	Tabs    map[tabid.ID]TabMetadata `json:"tabs,omitempty"`
	TabID   *tabid.ID                `json:"tab_id,omitempty"`
	Chunk   *OutputChunk             `json:"chunk,omitempty"`
	Chunks  []OutputChunk            `json:"chunks,omitempty"`
	Meta    *TabMetadata             `json:"meta,omitempty"`
	TabList []TabMetadata            `json:"tab_list,omitempty"`
	Retask  *RetaskTarget            `json:"retask,omitempty"`
}

// EncodeResponse serializes a Response into its wire envelope.
func EncodeResponse(r Response) ([]byte, error) {
	env := responseEnvelope{Type: r.responseKind()}
	switch v := r.(type) {
	case InitResponse:
		env.Tabs = v.Tabs
	case OutputResponse:
		env.TabID = &v.TabID
		env.Chunk = &v.Chunk
	case ScrollbackResponse:
		env.TabID = &v.TabID
		env.Chunks = v.Chunks
	case TabUpdateResponse:
		env.Meta = &v.Meta
	case RetaskResponse:
		env.TabID = &v.TabID
		env.Retask = &v.Target
	case TabListResponse:
		env.TabList = v.Tabs
	case TabTerminatedResponse:
		env.TabID = &v.TabID
	case DisconnectResponse:
		// no payload
	default:
		return nil, fmt.Errorf("wire: unknown response type %T", r)
	}
	return json.Marshal(env)
}

// DecodeResponse parses a wire envelope back into a concrete Response.
func DecodeResponse(data []byte) (Response, error) {
	var env responseEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("wire: decode response: %w", err)
	}
	switch env.Type {
	case "init":
		tabs := env.Tabs
		if tabs == nil {
			tabs = map[tabid.ID]TabMetadata{}
		}
		return InitResponse{Tabs: tabs}, nil
	case "output":
		if env.TabID == nil || env.Chunk == nil {
			return nil, fmt.Errorf("wire: output missing tab_id/chunk")
		}
		return OutputResponse{TabID: *env.TabID, Chunk: *env.Chunk}, nil
	case "scrollback":
		if env.TabID == nil {
			return nil, fmt.Errorf("wire: scrollback missing tab_id")
		}
		return ScrollbackResponse{TabID: *env.TabID, Chunks: env.Chunks}, nil
	case "tab_update":
		if env.Meta == nil {
			return nil, fmt.Errorf("wire: tab_update missing meta")
		}
		return TabUpdateResponse{Meta: *env.Meta}, nil
	case "retask":
		if env.TabID == nil {
			return nil, fmt.Errorf("wire: retask missing tab_id")
		}
		target := RetaskTarget{}
		if env.Retask != nil {
			target = *env.Retask
		}
		return RetaskResponse{TabID: *env.TabID, Target: target}, nil
	case "tab_list":
		return TabListResponse{Tabs: env.TabList}, nil
	case "tab_terminated":
		if env.TabID == nil {
			return nil, fmt.Errorf("wire: tab_terminated missing tab_id")
		}
		return TabTerminatedResponse{TabID: *env.TabID}, nil
	case "disconnect":
		return DisconnectResponse{}, nil
	default:
		return nil, fmt.Errorf("wire: unknown response type %q", env.Type)
	}
}
