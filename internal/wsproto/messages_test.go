package wsproto

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		msg  any
		kind Kind
	}{
		{"hello", Hello{Filename: "a.bin", Size: 10}, KindHello},
		{"registered", Registered{ID: "abc123"}, KindRegistered},
		{"metadata", Metadata{Filename: "a.bin", Size: 10}, KindMetadata},
		{"start", Start{}, KindStart},
		{"eof", Eof{}, KindEof},
		{"complete", Complete{Bytes: 1024}, KindComplete},
		{"error", ErrorMsg{Kind: "NotFound", Message: "unknown transfer"}, KindError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := Encode(tc.msg)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			kind, decoded, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if kind != tc.kind {
				t.Fatalf("expected kind %s, got %s", tc.kind, kind)
			}
			if decoded != tc.msg {
				t.Fatalf("round trip mismatch: got %#v, want %#v", decoded, tc.msg)
			}
		})
	}
}

func TestEncodeRejectsUnknownType(t *testing.T) {
	if _, err := Encode(42); err == nil {
		t.Fatalf("expected error encoding unsupported type")
	}
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	if _, _, err := Decode([]byte(`{"kind":"Bogus"}`)); err == nil {
		t.Fatalf("expected error decoding unrecognized kind")
	}
}

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	if _, _, err := Decode([]byte(`not json`)); err == nil {
		t.Fatalf("expected error decoding malformed JSON")
	}
}
