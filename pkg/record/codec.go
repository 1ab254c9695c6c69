// Package record decodes and encodes fixed-layout codeplug records using
// externally supplied field catalogs. Field values inside a record are
// little-endian even though the session framing is big-endian; that
// asymmetry is a wire fact, not a bug.
package record

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/text/encoding/unicode"
)

// ErrLayout reports a catalog or buffer layout problem.
var ErrLayout = errors.New("record layout error")

// FieldType identifies how a field's bytes are interpreted.
type FieldType int

const (
	FieldUint8 FieldType = iota
	FieldUint16
	FieldUint32
	FieldString // UTF-16LE, fixed width, NUL-padded
	FieldBytes  // opaque
)

func (ft FieldType) String() string {
	switch ft {
	case FieldUint8:
		return "uint8"
	case FieldUint16:
		return "uint16"
	case FieldUint32:
		return "uint32"
	case FieldString:
		return "string"
	case FieldBytes:
		return "bytes"
	default:
		return fmt.Sprintf("fieldtype(%d)", int(ft))
	}
}

// Field describes one field of a fixed-layout record.
type Field struct {
	Name   string
	Offset int
	Width  int
	Type   FieldType
}

// Catalog is the layout of one record type: its total size and its
// fields. Catalogs are data, normally supplied from outside the engine.
type Catalog struct {
	Name       string
	RecordSize int
	Fields     []Field
}

// utf16le has no BOM on the wire; the byte order is fixed.
var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

func (c *Catalog) checkField(f Field) error {
	if f.Offset < 0 || f.Width <= 0 || f.Offset+f.Width > c.RecordSize {
		return fmt.Errorf("%w: field %q [%d:%d) outside record of %d bytes",
			ErrLayout, f.Name, f.Offset, f.Offset+f.Width, c.RecordSize)
	}
	switch f.Type {
	case FieldUint8:
		if f.Width != 1 {
			return fmt.Errorf("%w: field %q type uint8 with width %d", ErrLayout, f.Name, f.Width)
		}
	case FieldUint16:
		if f.Width != 2 {
			return fmt.Errorf("%w: field %q type uint16 with width %d", ErrLayout, f.Name, f.Width)
		}
	case FieldUint32:
		if f.Width != 4 {
			return fmt.Errorf("%w: field %q type uint32 with width %d", ErrLayout, f.Name, f.Width)
		}
	case FieldString, FieldBytes:
		// any width
	default:
		return fmt.Errorf("%w: field %q has unknown type %d", ErrLayout, f.Name, int(f.Type))
	}
	return nil
}

// Decode interprets buf according to the catalog and returns the field
// values keyed by field name. buf must be exactly RecordSize bytes.
func (c *Catalog) Decode(buf []byte) (map[string]interface{}, error) {
	if len(buf) != c.RecordSize {
		return nil, fmt.Errorf("%w: record is %d bytes, catalog %q expects %d",
			ErrLayout, len(buf), c.Name, c.RecordSize)
	}

	values := make(map[string]interface{}, len(c.Fields))
	for _, f := range c.Fields {
		if err := c.checkField(f); err != nil {
			return nil, err
		}
		raw := buf[f.Offset : f.Offset+f.Width]

		switch f.Type {
		case FieldUint8:
			values[f.Name] = raw[0]
		case FieldUint16:
			values[f.Name] = binary.LittleEndian.Uint16(raw)
		case FieldUint32:
			values[f.Name] = binary.LittleEndian.Uint32(raw)
		case FieldString:
			s, err := decodeUTF16LE(raw)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", f.Name, err)
			}
			values[f.Name] = s
		case FieldBytes:
			data := make([]byte, f.Width)
			copy(data, raw)
			values[f.Name] = data
		}
	}
	return values, nil
}

// Encode builds a record from field values. Fields missing from values
// are left zero; values of the wrong Go type are an error.
func (c *Catalog) Encode(values map[string]interface{}) ([]byte, error) {
	buf := make([]byte, c.RecordSize)
	for _, f := range c.Fields {
		if err := c.checkField(f); err != nil {
			return nil, err
		}
		v, ok := values[f.Name]
		if !ok {
			continue
		}
		dst := buf[f.Offset : f.Offset+f.Width]

		switch f.Type {
		case FieldUint8:
			b, ok := v.(byte)
			if !ok {
				return nil, typeMismatch(f, v)
			}
			dst[0] = b
		case FieldUint16:
			u, ok := v.(uint16)
			if !ok {
				return nil, typeMismatch(f, v)
			}
			binary.LittleEndian.PutUint16(dst, u)
		case FieldUint32:
			u, ok := v.(uint32)
			if !ok {
				return nil, typeMismatch(f, v)
			}
			binary.LittleEndian.PutUint32(dst, u)
		case FieldString:
			s, ok := v.(string)
			if !ok {
				return nil, typeMismatch(f, v)
			}
			encoded, err := encodeUTF16LE(s, f.Width)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", f.Name, err)
			}
			copy(dst, encoded)
		case FieldBytes:
			data, ok := v.([]byte)
			if !ok {
				return nil, typeMismatch(f, v)
			}
			if len(data) > f.Width {
				return nil, fmt.Errorf("%w: field %q value is %d bytes, width is %d",
					ErrLayout, f.Name, len(data), f.Width)
			}
			copy(dst, data)
		}
	}
	return buf, nil
}

func typeMismatch(f Field, v interface{}) error {
	return fmt.Errorf("%w: field %q (%s) cannot hold %T", ErrLayout, f.Name, f.Type, v)
}

// decodeUTF16LE converts a fixed-width NUL-padded UTF-16LE field to a
// Go string, trimming the padding.
func decodeUTF16LE(raw []byte) (string, error) {
	if len(raw)%2 != 0 {
		return "", fmt.Errorf("%w: utf-16 field has odd width %d", ErrLayout, len(raw))
	}
	// Trim trailing NUL code units before decoding.
	end := len(raw)
	for end >= 2 && raw[end-2] == 0 && raw[end-1] == 0 {
		end -= 2
	}
	decoded, err := utf16le.NewDecoder().Bytes(raw[:end])
	if err != nil {
		return "", fmt.Errorf("decoding utf-16 field: %w", err)
	}
	return string(decoded), nil
}

// encodeUTF16LE converts s to UTF-16LE NUL-padded to width bytes.
func encodeUTF16LE(s string, width int) ([]byte, error) {
	encoded, err := utf16le.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("encoding utf-16 field: %w", err)
	}
	if len(encoded) > width {
		return nil, fmt.Errorf("%w: string needs %d bytes, field width is %d",
			ErrLayout, len(encoded), width)
	}
	padded := make([]byte, width)
	copy(padded, encoded)
	return padded, nil
}

// Equal reports whether two decoded value maps match. Helper for
// callers comparing a record before and after a round trip.
func Equal(a, b map[string]interface{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k, va := range a {
		vb, ok := b[k]
		if !ok {
			return false
		}
		ba, aOK := va.([]byte)
		bb, bOK := vb.([]byte)
		if aOK || bOK {
			if !aOK || !bOK || !bytes.Equal(ba, bb) {
				return false
			}
			continue
		}
		if va != vb {
			return false
		}
	}
	return true
}
