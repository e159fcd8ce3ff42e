// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package compression is the codec registry (C1): stream-wrapping
// encoders/decoders selected by name on write and by magic-byte
// detection on read. The teacher only ever reaches for gzip; the zstd
// kind here follows the pack's columnar-store sibling (SnellerInc-sneller
// and the retrieved mcap writer both build their block codecs on
// klauspost/compress), which is the natural zstd donor for this corpus.
package compression

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Codec wraps a stream with a particular compression framing. Every
// implementation must preserve stream semantics: no length-prefixing
// layer is added above what the codec itself needs.
type Codec interface {
	Name() string
	FileExtension() string
	// MagicBytesPrefix returns the bytes a blob written by this codec
	// always starts with, or nil if the codec has no magic (identity).
	MagicBytesPrefix() []byte
	WrapOutput(sink io.Writer) (io.WriteCloser, error)
	WrapInput(source io.Reader) (io.ReadCloser, error)
}

var registry = map[string]Codec{}
var byMagic []Codec

func register(c Codec) {
	registry[c.Name()] = c
	if len(c.MagicBytesPrefix()) > 0 {
		byMagic = append(byMagic, c)
	}
}

func init() {
	register(identityCodec{})
	register(zstdCodec{})
}

// ByName returns the registered codec for name, or an error if unknown.
func ByName(name string) (Codec, error) {
	c, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("compression: unknown codec %q", name)
	}
	return c, nil
}

// Detect inspects the first bytes of a blob and returns the codec whose
// magic prefix matches. Detection only examines bytes guaranteed
// present in a non-empty blob; if no registered codec matches, the
// identity codec is returned as the fallback.
func Detect(blob []byte) Codec {
	for _, c := range byMagic {
		prefix := c.MagicBytesPrefix()
		if len(blob) >= len(prefix) && bytes.Equal(blob[:len(prefix)], prefix) {
			return c
		}
	}
	return identityCodec{}
}

// nopWriteCloser lets the identity codec's WrapOutput satisfy
// io.WriteCloser without adding any framing of its own.
type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

type nopReadCloser struct{ io.Reader }

func (nopReadCloser) Close() error { return nil }

type identityCodec struct{}

func (identityCodec) Name() string                 { return "identity" }
func (identityCodec) FileExtension() string         { return "pb" }
func (identityCodec) MagicBytesPrefix() []byte      { return nil }
func (identityCodec) WrapOutput(sink io.Writer) (io.WriteCloser, error) {
	return nopWriteCloser{sink}, nil
}
func (identityCodec) WrapInput(source io.Reader) (io.ReadCloser, error) {
	return nopReadCloser{source}, nil
}

// zstdMagic is the four-byte frame magic number from RFC 8878.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

type zstdCodec struct{}

func (zstdCodec) Name() string            { return "zstd" }
func (zstdCodec) FileExtension() string    { return "pb.zst" }
func (zstdCodec) MagicBytesPrefix() []byte { return zstdMagic }

type zstdWriteCloser struct {
	*zstd.Encoder
}

func (zstdCodec) WrapOutput(sink io.Writer) (io.WriteCloser, error) {
	enc, err := zstd.NewWriter(sink)
	if err != nil {
		return nil, fmt.Errorf("compression: zstd encoder: %w", err)
	}
	return zstdWriteCloser{enc}, nil
}

type zstdReadCloser struct {
	*zstd.Decoder
}

func (z zstdReadCloser) Close() error {
	z.Decoder.Close()
	return nil
}

func (zstdCodec) WrapInput(source io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(source)
	if err != nil {
		return nil, fmt.Errorf("compression: zstd decoder: %w", err)
	}
	return zstdReadCloser{dec}, nil
}

// CompressBytes compresses b wholesale under the named codec, closing
// and flushing the framing so the result is decodable on its own.
func CompressBytes(codecName string, b []byte) ([]byte, error) {
	codec, err := ByName(codecName)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	wc, err := codec.WrapOutput(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := wc.Write(b); err != nil {
		wc.Close()
		return nil, err
	}
	if err := wc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecompressBytes auto-detects the codec from blob's magic bytes and
// decompresses the whole blob.
func DecompressBytes(blob []byte) ([]byte, error) {
	codec := Detect(blob)
	rc, err := codec.WrapInput(bytes.NewReader(blob))
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
