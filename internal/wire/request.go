package wire

import (
	"encoding/json"
	"fmt"

	"github.com/tabmux/tab/internal/tabid"
)

// Request is the sum type a command sends to the daemon on its /cli
// connection. Concrete types below implement it; Encode/Decode round-trip
// any of them through a single self-describing JSON envelope.
type Request interface {
	requestKind() string
}

type SubscribeRequest struct{ TabID tabid.ID }
type UnsubscribeRequest struct{ TabID tabid.ID }
type InputRequest struct {
	TabID tabid.ID
	Chunk InputChunk
}
type CreateTabRequest struct{ Meta CreateTabMetadata }
type ResizeTabRequest struct {
	TabID      tabid.ID
	Dimensions Dimensions
}
type RetaskRequest struct {
	TabID  tabid.ID
	Target RetaskTarget
}
type CloseTabRequest struct{ TabID tabid.ID }
type CloseNamedTabRequest struct{ Name string }
type DisconnectTabRequest struct{ TabID tabid.ID }
type GlobalShutdownRequest struct{}
type ListTabsRequest struct{}

func (SubscribeRequest) requestKind() string      { return "subscribe" }
func (UnsubscribeRequest) requestKind() string    { return "unsubscribe" }
func (InputRequest) requestKind() string          { return "input" }
func (CreateTabRequest) requestKind() string      { return "create_tab" }
func (ResizeTabRequest) requestKind() string      { return "resize_tab" }
func (RetaskRequest) requestKind() string         { return "retask" }
func (CloseTabRequest) requestKind() string       { return "close_tab" }
func (CloseNamedTabRequest) requestKind() string  { return "close_named_tab" }
func (DisconnectTabRequest) requestKind() string  { return "disconnect_tab" }
func (GlobalShutdownRequest) requestKind() string { return "global_shutdown" }
func (ListTabsRequest) requestKind() string       { return "list_tabs" }

type requestEnvelope struct {
	Type       string             `json:"type"`
	TabID      *tabid.ID          `json:"tab_id,omitempty"`
	Name       string             `json:"name,omitempty"`
	Chunk      *InputChunk        `json:"chunk,omitempty"`
	CreateTab  *CreateTabMetadata `json:"create_tab,omitempty"`
	Dimensions *Dimensions        `json:"dimensions,omitempty"`
	Retask     *RetaskTarget      `json:"retask,omitempty"`
}

// EncodeRequest serializes a Request into its wire envelope.
func EncodeRequest(r Request) ([]byte, error) {
	env := requestEnvelope{Type: r.requestKind()}
	switch v := r.(type) {
	case SubscribeRequest:
		env.TabID = &v.TabID
	case UnsubscribeRequest:
		env.TabID = &v.TabID
	case InputRequest:
		env.TabID = &v.TabID
		env.Chunk = &v.Chunk
	case CreateTabRequest:
		env.CreateTab = &v.Meta
	case ResizeTabRequest:
		env.TabID = &v.TabID
		env.Dimensions = &v.Dimensions
	case RetaskRequest:
		env.TabID = &v.TabID
		env.Retask = &v.Target
	case CloseTabRequest:
		env.TabID = &v.TabID
	case CloseNamedTabRequest:
		env.Name = v.Name
	case DisconnectTabRequest:
		env.TabID = &v.TabID
	case GlobalShutdownRequest:
		// no payload
	case ListTabsRequest:
		// no payload
	default:
		return nil, fmt.Errorf("wire: unknown request type %T", r)
	}
	return json.Marshal(env)
}

// DecodeRequest parses a wire envelope back into a concrete Request.
func DecodeRequest(data []byte) (Request, error) {
	var env requestEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("wire: decode request: %w", err)
	}
	switch env.Type {
	case "subscribe":
		if env.TabID == nil {
			return nil, fmt.Errorf("wire: subscribe missing tab_id")
		}
		return SubscribeRequest{TabID: *env.TabID}, nil
	case "unsubscribe":
		if env.TabID == nil {
			return nil, fmt.Errorf("wire: unsubscribe missing tab_id")
		}
		return UnsubscribeRequest{TabID: *env.TabID}, nil
	case "input":
		if env.TabID == nil || env.Chunk == nil {
			return nil, fmt.Errorf("wire: input missing tab_id/chunk")
		}
		return InputRequest{TabID: *env.TabID, Chunk: *env.Chunk}, nil
	case "create_tab":
		if env.CreateTab == nil {
			return nil, fmt.Errorf("wire: create_tab missing payload")
		}
		return CreateTabRequest{Meta: *env.CreateTab}, nil
	case "resize_tab":
		if env.TabID == nil || env.Dimensions == nil {
			return nil, fmt.Errorf("wire: resize_tab missing tab_id/dimensions")
		}
		return ResizeTabRequest{TabID: *env.TabID, Dimensions: *env.Dimensions}, nil
	case "retask":
		if env.TabID == nil {
			return nil, fmt.Errorf("wire: retask missing tab_id")
		}
		target := RetaskTarget{}
		if env.Retask != nil {
			target = *env.Retask
		}
		return RetaskRequest{TabID: *env.TabID, Target: target}, nil
	case "close_tab":
		if env.TabID == nil {
			return nil, fmt.Errorf("wire: close_tab missing tab_id")
		}
		return CloseTabRequest{TabID: *env.TabID}, nil
	case "close_named_tab":
		return CloseNamedTabRequest{Name: env.Name}, nil
	case "disconnect_tab":
		if env.TabID == nil {
			return nil, fmt.Errorf("wire: disconnect_tab missing tab_id")
		}
		return DisconnectTabRequest{TabID: *env.TabID}, nil
	case "global_shutdown":
		return GlobalShutdownRequest{}, nil
	case "list_tabs":
		return ListTabsRequest{}, nil
	default:
		return nil, fmt.Errorf("wire: unknown request type %q", env.Type)
	}
}
