package storage

import (
	"bytes"
	"compress/gzip"
	"io"

	sdkerrors "github.com/a-cube-io/ereceipts-sdk-go/errors"
)

// compress gzips payload. No corpus example wires a third-party compression
// library for a plain byte-blob codec (see DESIGN.md); compress/gzip is the
// standard-library choice for this one concern.
func compress(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(payload); err != nil {
		return nil, sdkerrors.Internal("compress entry", err)
	}
	if err := w.Close(); err != nil {
		return nil, sdkerrors.Internal("close compressor", err)
	}
	return buf.Bytes(), nil
}

func decompress(payload []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, sdkerrors.Internal("open decompressor", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, sdkerrors.Internal("decompress entry", err)
	}
	return out, nil
}
