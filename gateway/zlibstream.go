package gateway

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zlib"
)

// zlibStreamSuffix marks the end of one logical message within Discord's
// zlib-stream transport compression: the whole connection is one
// continuous deflate stream, Z_SYNC_FLUSH'd after each message, so a
// decoder that can be fed incrementally and asked "is there output yet"
// is required rather than a one-shot zlib.NewReader per frame.
var zlibStreamSuffix = []byte{0x00, 0x00, 0xff, 0xff}

// chunkReader holds the compressed bytes not yet consumed by the
// persistent zlib.Reader. Because it implements io.ByteReader, the flate
// decompressor reads it directly rather than through a bufio.Reader, and
// so consumes exactly the bytes of each message. Read returns (0, nil) on
// an empty buffer; ReadByte returns io.EOF.
type chunkReader struct {
	buf bytes.Buffer
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if r.buf.Len() == 0 {
		return 0, nil
	}
	return r.buf.Read(p)
}

func (r *chunkReader) ReadByte() (byte, error) {
	return r.buf.ReadByte()
}

// zlibStreamDecoder decompresses one connection's zlib-stream binary
// frames into the JSON payloads they carry.
type zlibStreamDecoder struct {
	input chunkReader
	zr    io.ReadCloser
}

// Decode appends compressed to the persistent input buffer and returns
// the decompressed output, reading until the input buffer is drained so
// the decompressor is never asked for bytes it does not have. The caller
// passes one complete message per call, ending in zlibStreamSuffix; the
// suffix detection lives in the caller's frame-accumulation loop.
func (d *zlibStreamDecoder) Decode(compressed []byte) ([]byte, error) {
	d.input.buf.Write(compressed)

	if d.zr == nil {
		zr, err := zlib.NewReader(&d.input)
		if err != nil {
			return nil, err
		}
		d.zr = zr
	}

	var out bytes.Buffer
	// larger than the 32 KiB inflate window, so each Read hands back all
	// output decoded so far.
	tmp := make([]byte, 64*1024)
	for {
		n, err := d.zr.Read(tmp)
		if n > 0 {
			out.Write(tmp[:n])
		}
		if err != nil && err != io.EOF {
			return nil, err
		}
		if n == 0 || err == io.EOF || d.input.buf.Len() == 0 {
			break
		}
	}
	return out.Bytes(), nil
}
