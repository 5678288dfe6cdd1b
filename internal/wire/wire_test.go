package wire

import (
	"testing"

	"github.com/tabmux/tab/internal/tabid"
)

func TestRequestRoundTrip(t *testing.T) {
	cases := []Request{
		SubscribeRequest{TabID: 3},
		UnsubscribeRequest{TabID: 3},
		InputRequest{TabID: 3, Chunk: InputChunk{Data: []byte("echo x\n")}},
		CreateTabRequest{Meta: CreateTabMetadata{Name: "a", Dimensions: Dimensions{Cols: 80, Rows: 24}}},
		ResizeTabRequest{TabID: 1, Dimensions: Dimensions{Cols: 100, Rows: 40}},
		RetaskRequest{TabID: 1, Target: ToTab(2)},
		RetaskRequest{TabID: 1, Target: Disconnect()},
		CloseTabRequest{TabID: 1},
		CloseNamedTabRequest{Name: "a"},
		DisconnectTabRequest{TabID: 1},
		GlobalShutdownRequest{},
	}

	for _, want := range cases {
		data, err := EncodeRequest(want)
		if err != nil {
			t.Fatalf("encode %#v: %v", want, err)
		}
		got, err := DecodeRequest(data)
		if err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
		gotData, err := EncodeRequest(got)
		if err != nil {
			t.Fatalf("re-encode %#v: %v", got, err)
		}
		if string(gotData) != string(data) {
			t.Errorf("round trip mismatch: got %s, want %s", gotData, data)
		}
	}
}

func TestResponseRoundTrip(t *testing.T) {
	meta := TabMetadata{ID: 5, Name: "a", Dimensions: Dimensions{Cols: 80, Rows: 24}}

	respCases := []Response{
		InitResponse{Tabs: map[tabid.ID]TabMetadata{5: meta}},
		OutputResponse{TabID: 5, Chunk: OutputChunk{Index: 10, Data: []byte("hi")}},
		ScrollbackResponse{TabID: 5, Chunks: []OutputChunk{{Index: 0, Data: []byte("hi")}}},
		TabUpdateResponse{Meta: meta},
		RetaskResponse{TabID: 5, Target: ToTab(6)},
		RetaskResponse{TabID: 5, Target: Disconnect()},
		TabListResponse{Tabs: []TabMetadata{meta}},
		TabTerminatedResponse{TabID: 5},
		DisconnectResponse{},
	}

	for _, want := range respCases {
		data, err := EncodeResponse(want)
		if err != nil {
			t.Fatalf("encode %#v: %v", want, err)
		}
		got, err := DecodeResponse(data)
		if err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
		gotData, _ := EncodeResponse(got)
		if string(gotData) != string(data) {
			t.Errorf("round trip mismatch: got %s, want %s", gotData, data)
		}
	}
}

func TestNormalizeName(t *testing.T) {
	if NormalizeName("a/") != "a" {
		t.Fatalf("expected trailing slash trimmed")
	}
	if NormalizeName("a") != "a" {
		t.Fatalf("expected unchanged")
	}
}

func TestPtyRoundTrip(t *testing.T) {
	meta := TabMetadata{ID: 1, Name: "a"}
	reqCases := []PtyRequest{
		PtyInitRequest{Meta: meta},
		PtyInputRequest{Chunk: InputChunk{Data: []byte("ls\n")}},
		PtyResizeRequest{Dimensions: Dimensions{Cols: 80, Rows: 24}},
		PtyTerminateRequest{},
	}
	for _, want := range reqCases {
		data, err := EncodePtyRequest(want)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		got, err := DecodePtyRequest(data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		gotData, _ := EncodePtyRequest(got)
		if string(gotData) != string(data) {
			t.Errorf("mismatch: got %s want %s", gotData, data)
		}
	}

	respCases := []PtyResponse{
		PtyStartedResponse{Meta: meta},
		PtyOutputResponse{Chunk: OutputChunk{Index: 0, Data: []byte("hi")}},
		PtyStoppedResponse{},
	}
	for _, want := range respCases {
		data, err := EncodePtyResponse(want)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		got, err := DecodePtyResponse(data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		gotData, _ := EncodePtyResponse(got)
		if string(gotData) != string(data) {
			t.Errorf("mismatch: got %s want %s", gotData, data)
		}
	}
}
