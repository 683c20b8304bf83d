package pack

import (
	"github.com/pkg/errors"
)

// parseDeltaSizes parses the base-size and result-size varints that open a
// delta payload, returning both sizes and the number of bytes consumed.
func parseDeltaSizes(delta []byte) (int64, int64, int, error) {
	baseSize, n1, err := parseSizeVarint(delta)
	if err != nil {
		return 0, 0, 0, errors.Wrap(err, "unable to parse delta base size")
	}
	resultSize, n2, err := parseSizeVarint(delta[n1:])
	if err != nil {
		return 0, 0, 0, errors.Wrap(err, "unable to parse delta result size")
	}
	return baseSize, resultSize, n1 + n2, nil
}

// parseSizeVarint parses a little-endian base-128 size varint.
func parseSizeVarint(data []byte) (int64, int, error) {
	var value int64
	var shift uint
	for i := 0; i < len(data); i++ {
		value |= int64(data[i]&0x7f) << shift
		if data[i]&0x80 == 0 {
			return value, i + 1, nil
		}
		shift += 7
		if shift > 63 {
			break
		}
	}
	return 0, 0, errors.New("truncated or oversized varint")
}

// applyDelta reconstructs an object from its base and a delta payload. The
// delta opens with base-size and result-size varints, followed by copy
// (high-bit set: offset/length fields selected by the low bits) and insert
// (high-bit clear: literal byte count) instructions.
func applyDelta(base, delta []byte) ([]byte, error) {
	// Parse and validate the size preamble.
	baseSize, resultSize, consumed, err := parseDeltaSizes(delta)
	if err != nil {
		return nil, err
	}
	if baseSize != int64(len(base)) {
		return nil, errors.Errorf(
			"delta base size mismatch (declared %d, actual %d)", baseSize, len(base),
		)
	}
	delta = delta[consumed:]

	// Apply instructions.
	result := make([]byte, 0, resultSize)
	for len(delta) > 0 {
		instruction := delta[0]
		delta = delta[1:]
		if instruction&0x80 != 0 {
			// Copy instruction: assemble the sparse offset and length fields.
			var offset, length int64
			for bit := 0; bit < 4; bit++ {
				if instruction&(1<<bit) != 0 {
					if len(delta) == 0 {
						return nil, errors.New("truncated copy instruction")
					}
					offset |= int64(delta[0]) << (8 * bit)
					delta = delta[1:]
				}
			}
			for bit := 0; bit < 3; bit++ {
				if instruction&(0x10<<bit) != 0 {
					if len(delta) == 0 {
						return nil, errors.New("truncated copy instruction")
					}
					length |= int64(delta[0]) << (8 * bit)
					delta = delta[1:]
				}
			}
			if length == 0 {
				length = 0x10000
			}
			if offset < 0 || length < 0 || offset+length > int64(len(base)) {
				return nil, errors.New("copy instruction out of base bounds")
			}
			result = append(result, base[offset:offset+length]...)
		} else if instruction != 0 {
			// Insert instruction: literal bytes follow.
			length := int(instruction)
			if length > len(delta) {
				return nil, errors.New("truncated insert instruction")
			}
			result = append(result, delta[:length]...)
			delta = delta[length:]
		} else {
			// The zero instruction is reserved.
			return nil, errors.New("reserved zero delta instruction")
		}
	}

	// Validate the result size.
	if int64(len(result)) != resultSize {
		return nil, errors.Errorf(
			"delta result size mismatch (declared %d, actual %d)", resultSize, len(result),
		)
	}

	// Success.
	return result, nil
}
