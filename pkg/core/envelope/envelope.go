package envelope

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/bsv-blockchain/go-sdk/script"
)

// ErrNotEnvelope is returned when a locking script is not an OP_FALSE OP_IF ... OP_ENDIF OP_TRUE envelope.
var ErrNotEnvelope = errors.New("script is not a data envelope")

// Build wraps the fields into OP_FALSE OP_IF <field>... OP_ENDIF OP_TRUE.
// Fields must not be empty.
func Build(fields ...[]byte) (*script.Script, error) {
	s := &script.Script{}
	if err := s.AppendOpcodes(script.OpFALSE, script.OpIF); err != nil {
		return nil, err
	}
	for i, field := range fields {
		if len(field) == 0 {
			return nil, fmt.Errorf("field %d is empty", i)
		}
		if err := s.AppendPushData(field); err != nil {
			return nil, fmt.Errorf("pushing field %d: %w", i, err)
		}
	}
	if err := s.AppendOpcodes(script.OpENDIF, script.OpTRUE); err != nil {
		return nil, err
	}
	return s, nil
}

// Parse returns the fields of an envelope whose first field equals tag. The tag itself is not returned.
func Parse(s *script.Script, tag string) ([][]byte, error) {
	if s == nil {
		return nil, ErrNotEnvelope
	}
	chunks, err := s.Chunks()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotEnvelope, err)
	}
	n := len(chunks)
	if n < 5 ||
		chunks[0].Op != script.OpFALSE || chunks[1].Op != script.OpIF ||
		chunks[n-2].Op != script.OpENDIF || chunks[n-1].Op != script.OpTRUE {
		return nil, ErrNotEnvelope
	}
	fields := make([][]byte, 0, n-4)
	for _, chunk := range chunks[2 : n-2] {
		if chunk.Op > script.OpPUSHDATA4 || len(chunk.Data) == 0 {
			return nil, ErrNotEnvelope
		}
		fields = append(fields, chunk.Data)
	}
	if string(fields[0]) != tag {
		return nil, ErrNotEnvelope
	}
	return fields[1:], nil
}

// Uint32 encodes v as a 4 byte little endian field.
func Uint32(v uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, v)
}

// ReadUint32 decodes a field written by Uint32.
func ReadUint32(field []byte) (uint32, error) {
	if len(field) != 4 {
		return 0, fmt.Errorf("expected 4 bytes, got %d", len(field))
	}
	return binary.LittleEndian.Uint32(field), nil
}
