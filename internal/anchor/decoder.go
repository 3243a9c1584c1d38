// File: internal/anchor/decoder.go
package anchor

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/mr-tron/base58"

	"github.com/handcraft-labs/handcraft-event-listener/pkg/utils"
)

// ErrUnknownEvent marks payloads whose discriminator is not registered.
// The program emits events this listener does not track; those are skipped,
// not failed.
var ErrUnknownEvent = errors.New("unknown event discriminator")

// maxStringLen caps Borsh string lengths so a garbled length prefix cannot
// allocate unbounded memory
const maxStringLen = 4096

// Decoder decodes Anchor event payloads against a registry
type Decoder struct {
	registry *Registry
}

// NewDecoder creates a decoder for the given registry
func NewDecoder(registry *Registry) *Decoder {
	return &Decoder{registry: registry}
}

// DecodeBase64 decodes a base64 "Program data" payload into an event name
// and its field map
func (d *Decoder) DecodeBase64(encoded string) (string, map[string]interface{}, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", nil, utils.NewAppError(utils.ErrCodeDecode, "invalid base64 in program data", err.Error())
	}
	return d.Decode(raw)
}

// Decode decodes a raw event payload: 8-byte discriminator, then Borsh fields
// in layout order. Trailing bytes are tolerated so programs can append fields
// without breaking older listeners.
func (d *Decoder) Decode(raw []byte) (string, map[string]interface{}, error) {
	if len(raw) < DiscriminatorLength {
		return "", nil, utils.NewAppError(utils.ErrCodeDecode, "event payload shorter than discriminator",
			fmt.Sprintf("%d bytes", len(raw)))
	}

	var disc [DiscriminatorLength]byte
	copy(disc[:], raw[:DiscriminatorLength])

	spec, ok := d.registry.Lookup(disc)
	if !ok {
		return "", nil, ErrUnknownEvent
	}

	r := &borshReader{buf: raw[DiscriminatorLength:]}
	data := make(map[string]interface{}, len(spec.Fields))
	for _, field := range spec.Fields {
		value, err := r.read(field.Type)
		if err != nil {
			return spec.Name, nil, utils.NewAppError(utils.ErrCodeDecode,
				fmt.Sprintf("decoding %s.%s", spec.Name, field.Name), err.Error())
		}
		data[field.Name] = value
	}

	return spec.Name, data, nil
}

// borshReader consumes little-endian Borsh values from a buffer
type borshReader struct {
	buf []byte
	off int
}

func (r *borshReader) remaining() int {
	return len(r.buf) - r.off
}

func (r *borshReader) take(n int) ([]byte, error) {
	if r.remaining() < n {
		return nil, fmt.Errorf("need %d bytes, have %d", n, r.remaining())
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *borshReader) read(t FieldType) (interface{}, error) {
	switch t {
	case TypeU8:
		b, err := r.take(1)
		if err != nil {
			return nil, err
		}
		return uint64(b[0]), nil
	case TypeU16:
		b, err := r.take(2)
		if err != nil {
			return nil, err
		}
		return uint64(binary.LittleEndian.Uint16(b)), nil
	case TypeU32:
		b, err := r.take(4)
		if err != nil {
			return nil, err
		}
		return uint64(binary.LittleEndian.Uint32(b)), nil
	case TypeU64:
		b, err := r.take(8)
		if err != nil {
			return nil, err
		}
		return binary.LittleEndian.Uint64(b), nil
	case TypeI64:
		b, err := r.take(8)
		if err != nil {
			return nil, err
		}
		return int64(binary.LittleEndian.Uint64(b)), nil
	case TypeBool:
		b, err := r.take(1)
		if err != nil {
			return nil, err
		}
		if b[0] > 1 {
			return nil, fmt.Errorf("invalid bool byte 0x%02x", b[0])
		}
		return b[0] == 1, nil
	case TypeString:
		lenBytes, err := r.take(4)
		if err != nil {
			return nil, err
		}
		strLen := binary.LittleEndian.Uint32(lenBytes)
		if strLen > maxStringLen {
			return nil, fmt.Errorf("string length %d exceeds limit", strLen)
		}
		b, err := r.take(int(strLen))
		if err != nil {
			return nil, err
		}
		if !utf8.Valid(b) {
			return nil, fmt.Errorf("string is not valid UTF-8")
		}
		return string(b), nil
	case TypePubkey:
		b, err := r.take(32)
		if err != nil {
			return nil, err
		}
		return base58.Encode(b), nil
	case TypeOptionPubkey:
		tag, err := r.take(1)
		if err != nil {
			return nil, err
		}
		switch tag[0] {
		case 0:
			return nil, nil
		case 1:
			b, err := r.take(32)
			if err != nil {
				return nil, err
			}
			return base58.Encode(b), nil
		default:
			return nil, fmt.Errorf("invalid option tag 0x%02x", tag[0])
		}
	default:
		return nil, fmt.Errorf("unsupported field type %d", t)
	}
}
