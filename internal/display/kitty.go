package display

import (
	"encoding/base64"
	"fmt"
	"io"
)

const (
	escapeStart = "\x1b_G"
	escapeEnd   = "\x1b\\"
	chunkSize   = 4096
)

// KittyEncoder writes PNG data using the kitty graphics protocol.
type KittyEncoder struct {
	out     io.Writer
	columns int
}

func NewKittyEncoder(out io.Writer) *KittyEncoder {
	return &KittyEncoder{out: out}
}

// WithColumns scales the image to n terminal cells wide. Zero keeps the
// native size.
func (e *KittyEncoder) WithColumns(n int) *KittyEncoder {
	if n > 0 {
		e.columns = n
	}
	return e
}

func (e *KittyEncoder) Encode(png []byte) error {
	if len(png) == 0 {
		return nil
	}

	encoded := base64.StdEncoding.EncodeToString(png)
	chunks := splitIntoChunks(encoded, chunkSize)

	for i, chunk := range chunks {
		params := "m=1"
		if i == len(chunks)-1 {
			params = "m=0"
		}
		if i == 0 {
			params = e.header() + "," + params
		}
		if _, err := fmt.Fprintf(e.out, "%s%s;%s%s", escapeStart, params, chunk, escapeEnd); err != nil {
			return err
		}
	}
	return nil
}

func (e *KittyEncoder) header() string {
	h := "a=T,f=100,q=2"
	if e.columns > 0 {
		h += fmt.Sprintf(",c=%d", e.columns)
	}
	return h
}

func splitIntoChunks(s string, size int) []string {
	var chunks []string
	for len(s) > 0 {
		n := size
		if len(s) < n {
			n = len(s)
		}
		chunks = append(chunks, s[:n])
		s = s[n:]
	}
	return chunks
}
