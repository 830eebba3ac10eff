package coap

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := &Message{
		Type:      TypeNonConfirmable,
		Code:      CodePOST,
		MessageID: 0xbeef,
		Token:     []byte{0xaa, 0xbb},
		Payload:   []byte{1, 2, 3, 4},
	}
	m.SetPath(PathAddressQuery)
	m.Options = append(m.Options, Option{Number: OptionContentFormat, Value: []byte{ContentFormatOctetStream}})

	raw, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if got.Type != m.Type || got.Code != m.Code || got.MessageID != m.MessageID {
		t.Fatalf("header mismatch: %+v", got)
	}
	if !bytes.Equal(got.Token, m.Token) {
		t.Fatalf("token mismatch: %x vs %x", got.Token, m.Token)
	}
	if got.Path() != PathAddressQuery {
		t.Fatalf("path = %q, want %q", got.Path(), PathAddressQuery)
	}
	if !bytes.Equal(got.Payload, m.Payload) {
		t.Fatalf("payload mismatch: %v vs %v", got.Payload, m.Payload)
	}
}

func TestEncodeLargeOptionExtendedLength(t *testing.T) {
	longPath := make([]byte, 300)
	for i := range longPath {
		longPath[i] = 'a'
	}
	m := &Message{Type: TypeConfirmable, Code: CodeGET, MessageID: 1}
	m.Options = append(m.Options, Option{Number: OptionURIPath, Value: longPath})

	raw, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(got.Options[0].Value, longPath) {
		t.Fatalf("extended-length option round trip failed")
	}
}

func TestDecodeRejectsTruncated(t *testing.T) {
	if _, err := Decode([]byte{0x40, 0x01}); err != ErrTooShort {
		t.Fatalf("expected ErrTooShort, got %v", err)
	}
}

func TestDecodeRejectsBadVersion(t *testing.T) {
	raw := []byte{0x00, 0x01, 0, 0}
	if _, err := Decode(raw); err != ErrBadVersion {
		t.Fatalf("expected ErrBadVersion, got %v", err)
	}
}

func TestSetPathReplacesExisting(t *testing.T) {
	m := &Message{}
	m.SetPath(PathAddressSolicit)
	m.SetPath(PathServerData)
	if m.Path() != PathServerData {
		t.Fatalf("path = %q, want %q", m.Path(), PathServerData)
	}
}
