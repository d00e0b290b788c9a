// Package codec turns an arbitrary byte payload into vault-safe text and back.
//
// Encoding compresses the payload with gzip and encodes the compressed stream
// with standard padded base64. The text is then cut into fixed-width windows
// that each fit a single vault record. Decoding reverses both steps exactly and
// fails instead of returning truncated or substituted data: base64 is decoded
// strictly and the gzip trailer (CRC-32 and length) is verified.
package codec

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

const (
	// DefaultChunkSize is the window width in characters of encoded text.
	// 1200 UTF-16 characters stay under the 2560 byte WinCred blob limit.
	DefaultChunkSize = 1200

	// MaxDecodedSize bounds decompressed output.
	MaxDecodedSize = 64 << 20
)

// Errors
var (
	// ErrCodec is matched by every decode failure.
	ErrCodec = errors.New("codec: invalid encoded payload")

	// ErrMalformed indicates the text is not valid base64.
	ErrMalformed = fmt.Errorf("%w: malformed base64", ErrCodec)

	// ErrCorrupt indicates the compressed stream is damaged or oversized.
	ErrCorrupt = fmt.Errorf("%w: corrupt compressed stream", ErrCodec)
)

var encoding = base64.StdEncoding.Strict()

// Encode compresses plaintext and returns its base64 text.
func Encode(plaintext []byte) (string, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return "", fmt.Errorf("codec: failed to create compressor: %w", err)
	}
	if _, err := zw.Write(plaintext); err != nil {
		return "", fmt.Errorf("codec: failed to compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("codec: failed to compress: %w", err)
	}
	return encoding.EncodeToString(buf.Bytes()), nil
}

// Decode reverses Encode.
func Decode(text string) ([]byte, error) {
	compressed, err := encoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	br := bytes.NewReader(compressed)
	zr, err := gzip.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer zr.Close()
	// Reject concatenated members so trailing garbage is not silently accepted.
	zr.Multistream(false)

	// Read one byte past the limit to tell "exactly at limit" from "over".
	plaintext, err := io.ReadAll(io.LimitReader(zr, MaxDecodedSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if len(plaintext) > MaxDecodedSize {
		return nil, fmt.Errorf("%w: decoded payload exceeds %d bytes", ErrCorrupt, MaxDecodedSize)
	}

	// With multistream disabled the reader stops after the first member; any
	// bytes left over are not part of a valid encoding.
	if br.Len() > 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after stream", ErrCorrupt, br.Len())
	}

	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

// Split cuts text into ordered windows of at most size characters. The final
// window may be shorter. Empty text yields no windows. A non-positive size
// falls back to DefaultChunkSize.
func Split(text string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	windows := make([]string, 0, ChunkCount(len(text), size))
	for start := 0; start < len(text); start += size {
		end := min(start+size, len(text))
		windows = append(windows, text[start:end])
	}
	return windows
}

// ChunkCount returns ceil(length/size), or 0 when length is 0.
func ChunkCount(length, size int) int {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if length <= 0 {
		return 0
	}
	return (length + size - 1) / size
}
