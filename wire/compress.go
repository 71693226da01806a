// Copyright 2024 The ndnsync Authors
// This file is part of the ndnsync library.
//
// The ndnsync library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The ndnsync library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the ndnsync library. If not, see <http://www.gnu.org/licenses/>.

package wire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/dsnet/compress/bzip2"
)

// Compress bzip2-compresses b, matching the state-bytes encoding of
// §6.4 (the original source pipes the encoded IBFTable/ListTable
// through boost::iostreams::bzip2_compressor before appending it as a
// name component).
func Compress(b []byte) ([]byte, error) {
	var out bytes.Buffer
	w, err := bzip2.NewWriter(&out, &bzip2.WriterConfig{Level: bzip2.DefaultCompression})
	if err != nil {
		return nil, fmt.Errorf("wire: bzip2 writer: %w", err)
	}
	if _, err := w.Write(b); err != nil {
		w.Close()
		return nil, fmt.Errorf("wire: bzip2 compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("wire: bzip2 compress: %w", err)
	}
	return out.Bytes(), nil
}

// Decompress reverses Compress. A malformed input is a DecodeFailed
// error per spec §7, never a panic.
func Decompress(b []byte) ([]byte, error) {
	r, err := bzip2.NewReader(bytes.NewReader(b), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: bzip2 reader: %v", ErrDecodeFailed, err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: bzip2 decompress: %v", ErrDecodeFailed, err)
	}
	return out, nil
}
