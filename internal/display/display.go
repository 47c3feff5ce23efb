// Package display previews saved cards inline in terminals that speak the
// kitty graphics protocol.
package display

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultColumns keeps a portrait card readable without filling the screen.
const DefaultColumns = 40

var ErrUnsupportedFormat = errors.New("image format cannot be previewed")

type Displayer struct {
	out     io.Writer
	columns int
}

func New(out io.Writer, columns int) *Displayer {
	return &Displayer{out: out, columns: columns}
}

// ShowFile previews the image stored at path.
func (d *Displayer) ShowFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read card: %w", err)
	}
	return d.Show(data)
}

// Show previews data. Non-PNG images are re-encoded because the protocol
// only carries PNG.
func (d *Displayer) Show(data []byte) error {
	pngData, err := toPNG(data)
	if err != nil {
		return err
	}

	if err := NewKittyEncoder(d.out).WithColumns(d.columns).Encode(pngData); err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}
	fmt.Fprintln(d.out)
	return nil
}

func toPNG(data []byte) ([]byte, error) {
	mt := mimetype.Detect(data)
	switch mt.String() {
	case "image/png":
		return data, nil
	case "image/jpeg", "image/gif":
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, mt.String())
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", mt.String(), err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to re-encode as png: %w", err)
	}
	return buf.Bytes(), nil
}

// IsTerminalSupported guesses from the environment whether the terminal
// renders kitty graphics.
func IsTerminalSupported() bool {
	return isSupported(os.Getenv)
}

func isSupported(getenv func(string) string) bool {
	termProgram := strings.ToLower(getenv("TERM_PROGRAM"))
	for _, prog := range []string{"kitty", "ghostty", "wezterm"} {
		if termProgram == prog {
			return true
		}
	}

	if getenv("KITTY_WINDOW_ID") != "" {
		return true
	}

	term := strings.ToLower(getenv("TERM"))
	return strings.Contains(term, "kitty") || strings.Contains(term, "ghostty")
}
