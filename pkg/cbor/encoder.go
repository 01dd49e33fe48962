// SPDX-FileCopyrightText: 2023 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cbor

import (
	"bytes"
	"fmt"
	"io"

	"github.com/dtn7/cboring"
)

// Encoder is a lazy sequence of byte chunks. It calls yield for each chunk;
// yield must not retain the chunk after returning. An error returned by
// yield stops the sequence and is passed through.
type Encoder func(yield func([]byte) error) error

func written(write func(w io.Writer) error) Encoder {
	return func(yield func([]byte) error) error {
		var buf bytes.Buffer
		if err := write(&buf); err != nil {
			return err
		}
		return yield(buf.Bytes())
	}
}

// head of a major type without its own cboring writer.
func head(major Major, arg uint64) Encoder {
	return written(func(w io.Writer) error { return cboring.WriteMajors(byte(major)<<5, arg, w) })
}

// Raw yields the given bytes as they are.
func Raw(data []byte) Encoder {
	return func(yield func([]byte) error) error {
		if len(data) == 0 {
			return nil
		}
		return yield(data)
	}
}

// UInt encodes an unsigned integer.
func UInt(v uint64) Encoder {
	return written(func(w io.Writer) error { return cboring.WriteUInt(v, w) })
}

// Int encodes a signed integer.
func Int(v int64) Encoder {
	if v >= 0 {
		return UInt(uint64(v))
	}
	return head(MajorNegInt, uint64(-1-v))
}

// Bool encodes a boolean.
func Bool(b bool) Encoder {
	return written(func(w io.Writer) error { return cboring.WriteBoolean(b, w) })
}

// Null encodes the simple value null.
func Null() Encoder {
	return Raw([]byte{byte(MajorSimple)<<5 | simpleNull})
}

// Float encodes a double-precision float.
func Float(f float64) Encoder {
	return written(func(w io.Writer) error { return cboring.WriteFloat64(f, w) })
}

// Bytes encodes a definite byte string. The data is yielded without copying.
func Bytes(data []byte) Encoder {
	return func(yield func([]byte) error) error {
		var buf bytes.Buffer
		if err := cboring.WriteByteStringLen(uint64(len(data)), &buf); err != nil {
			return err
		}
		if err := yield(buf.Bytes()); err != nil {
			return err
		}
		return Raw(data)(yield)
	}
}

// Text encodes a definite text string.
func Text(s string) Encoder {
	return written(func(w io.Writer) error { return cboring.WriteTextString(s, w) })
}

// Array encodes the head of a definite array with n elements.
func Array(n uint64) Encoder {
	return written(func(w io.Writer) error { return cboring.WriteArrayLength(n, w) })
}

// Map encodes the head of a definite map with n pairs.
func Map(n uint64) Encoder {
	return written(func(w io.Writer) error { return cboring.WriteMapPairLength(n, w) })
}

// Tag encodes a tag number; the tagged item must follow.
func Tag(number uint64) Encoder {
	return head(MajorTag, number)
}

// IndefiniteArray encodes the head of an indefinite array.
func IndefiniteArray() Encoder {
	return Raw([]byte{cboring.IndefiniteArray})
}

// Break encodes the stop code of an indefinite item.
func Break() Encoder {
	return Raw([]byte{cboring.BreakCode})
}

// Merge concatenates encoders.
func Merge(encs ...Encoder) Encoder {
	return func(yield func([]byte) error) error {
		for _, enc := range encs {
			if enc == nil {
				continue
			}
			if err := enc(yield); err != nil {
				return err
			}
		}
		return nil
	}
}

// Wrapped encodes the output of inner as a definite byte string. The inner
// encoding is materialized when the Encoder runs, as its length prefixes it.
func Wrapped(inner Encoder) Encoder {
	return func(yield func([]byte) error) error {
		data, err := Collect(inner)
		if err != nil {
			return err
		}
		return Bytes(data)(yield)
	}
}

// Value encodes a generic value, as returned by DecodeValue.
func Value(v any) Encoder {
	switch v := v.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(v)
	case uint64:
		return UInt(v)
	case uint:
		return UInt(uint64(v))
	case int64:
		return Int(v)
	case int:
		return Int(int64(v))
	case float64:
		return Float(v)
	case []byte:
		return Bytes(v)
	case string:
		return Text(v)
	case Undefined:
		return Raw([]byte{byte(MajorSimple)<<5 | simpleUndefined})
	case Simple:
		if v < 24 {
			return Raw([]byte{byte(MajorSimple)<<5 | byte(v)})
		}
		return Raw([]byte{byte(MajorSimple)<<5 | simpleExtended, byte(v)})
	case Tagged:
		return Merge(Tag(v.Number), Value(v.Content))
	case []any:
		encs := []Encoder{Array(uint64(len(v)))}
		for _, e := range v {
			encs = append(encs, Value(e))
		}
		return Merge(encs...)
	case []MapEntry:
		encs := []Encoder{Map(uint64(len(v)))}
		for _, e := range v {
			encs = append(encs, Value(e.Key), Value(e.Value))
		}
		return Merge(encs...)
	default:
		return func(func([]byte) error) error {
			return fmt.Errorf("cannot encode value of type %T", v)
		}
	}
}

// Collect drains an Encoder into one slice.
func Collect(enc Encoder) ([]byte, error) {
	var buf bytes.Buffer
	err := enc(func(chunk []byte) error {
		_, err := buf.Write(chunk)
		return err
	})
	return buf.Bytes(), err
}

// WriteTo drains an Encoder into w.
func WriteTo(enc Encoder, w io.Writer) (n int64, err error) {
	err = enc(func(chunk []byte) error {
		m, err := w.Write(chunk)
		n += int64(m)
		return err
	})
	return
}

// Chunks drains an Encoder and regroups its output into chunks of exactly
// size bytes; only the last chunk may be shorter.
func Chunks(enc Encoder, size int, yield func([]byte) error) error {
	if size <= 0 {
		return fmt.Errorf("invalid chunk size %d", size)
	}

	buf := make([]byte, 0, size)
	err := enc(func(data []byte) error {
		for len(data) > 0 {
			n := size - len(buf)
			if n > len(data) {
				n = len(data)
			}
			buf = append(buf, data[:n]...)
			data = data[n:]

			if len(buf) == size {
				if err := yield(buf); err != nil {
					return err
				}
				buf = buf[:0]
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if len(buf) > 0 {
		return yield(buf)
	}
	return nil
}
