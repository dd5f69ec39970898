package mysqlrepl

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// decodeMariaCompressed unwraps a MariaDB ANNOTATE_ROWS-adjacent
// compressed event body. The first byte is a header: its low 3 bits give
// how many bytes of uncompressed length follow it (so the compressed
// payload starts at 1+(b&0x7)), and bits 4-6 give the compression
// algorithm; algorithm 0 is zlib, the only one handled here.
func decodeMariaCompressed(body []byte) ([]byte, error) {
	if len(body) < 1 {
		return nil, fmt.Errorf("mysqlrepl: empty compressed event body")
	}
	header := body[0]
	algorithm := (header >> 4) & 0x07
	headerLen := int(header&0x07) + 1
	if algorithm != 0 {
		return nil, fmt.Errorf("mysqlrepl: unsupported mariadb compression algorithm %d", algorithm)
	}
	if len(body) < headerLen {
		return nil, fmt.Errorf("mysqlrepl: compressed event shorter than its header")
	}
	payload := body[headerLen:]

	r, err := zlib.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("mysqlrepl: zlib init: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("mysqlrepl: zlib inflate: %w", err)
	}
	return out, nil
}
