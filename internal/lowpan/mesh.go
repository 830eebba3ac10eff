package lowpan

import "encoding/binary"

// Mesh header dispatch/field layout (RFC 4944 §5.3, spec §4.3: "Mesh header
// (RFC 4944): single byte dispatch 10xxxxxx with source-short and
// dest-short bits plus a 4-bit hops-left counter, followed by 16-bit source
// and 16-bit destination").
const (
	meshDispatch         = 2 << 6
	meshDispatchMask     = 3 << 6
	meshHopsLeftMask     = 0x0f
	meshSourceShort      = 1 << 5
	meshDestinationShort = 1 << 4

	// DefaultHopsLeft is the hop count a newly originated mesh-forwarded
	// frame starts with (spec §4.4: "hops = 15").
	DefaultHopsLeft = 15
)

// MeshHeaderLen is the fixed on-wire size of a mesh header: 1 dispatch byte
// plus two 16-bit short addresses.
const MeshHeaderLen = 5

// MeshHeader is a parsed RFC 4944 mesh header. Only the short/short address
// form is implemented; Thread always forwards by RLOC16, so the
// extended-address bit combinations never occur on this stack.
type MeshHeader struct {
	HopsLeft    uint8
	Source      uint16
	Destination uint16
}

// EncodeMeshHeader serializes h to its 5-byte wire form.
func EncodeMeshHeader(h MeshHeader) []byte {
	out := make([]byte, MeshHeaderLen)
	out[0] = meshDispatch | meshSourceShort | meshDestinationShort | (h.HopsLeft & meshHopsLeftMask)
	binary.BigEndian.PutUint16(out[1:3], h.Source)
	binary.BigEndian.PutUint16(out[3:5], h.Destination)
	return out
}

// DecodeMeshHeader parses a mesh header from the front of buf, returning the
// header and the number of bytes it consumed.
func DecodeMeshHeader(buf []byte) (MeshHeader, int, error) {
	if len(buf) < MeshHeaderLen {
		return MeshHeader{}, 0, ErrTooShort
	}
	if buf[0]&meshDispatchMask != meshDispatch {
		return MeshHeader{}, 0, ErrUnsupportedDispatch
	}
	if buf[0]&meshSourceShort == 0 || buf[0]&meshDestinationShort == 0 {
		return MeshHeader{}, 0, ErrUnsupportedDispatch
	}
	h := MeshHeader{
		HopsLeft:    buf[0] & meshHopsLeftMask,
		Source:      binary.BigEndian.Uint16(buf[1:3]),
		Destination: binary.BigEndian.Uint16(buf[3:5]),
	}
	return h, MeshHeaderLen, nil
}

// IsMeshDispatch reports whether the leading byte of a MAC payload is a mesh
// header dispatch byte, used by the MeshForwarder's inbound dispatch (spec
// §4.4: "dispatch by first payload byte").
func IsMeshDispatch(b byte) bool { return b&meshDispatchMask == meshDispatch }
