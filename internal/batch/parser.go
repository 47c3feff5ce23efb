package batch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Item is one photo to turn into a card. An empty Style means the
// processor default.
type Item struct {
	Index  int
	Photo  string
	Style  string
	Output string
}

type jsonItem struct {
	Photo  string `json:"photo"`
	Style  string `json:"style,omitempty"`
	Output string `json:"output,omitempty"`
}

// ParseFile reads items from a .txt or .json file. Relative photo paths are
// resolved against the file's directory.
func ParseFile(path string) ([]Item, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	var items []Item
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		items, err = ParseJSON(file)
	case ".txt", "":
		items, err = ParseText(file)
	default:
		return nil, fmt.Errorf("unsupported file format %q: use .txt or .json", ext)
	}
	if err != nil {
		return nil, err
	}

	base := filepath.Dir(path)
	for i := range items {
		if !filepath.IsAbs(items[i].Photo) {
			items[i].Photo = filepath.Join(base, items[i].Photo)
		}
	}
	return items, nil
}

// ParseText reads one "photo [style]" pair per line. Blank lines and lines
// starting with # are skipped.
func ParseText(r io.Reader) ([]Item, error) {
	var items []Item
	scanner := bufio.NewScanner(r)
	index := 0
	line := 0

	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		fields := strings.Fields(text)
		if len(fields) > 2 {
			return nil, fmt.Errorf("line %d: expected \"photo [style]\", got %d fields", line, len(fields))
		}

		index++
		item := Item{Index: index, Photo: fields[0]}
		if len(fields) == 2 {
			item.Style = fields[1]
		}
		items = append(items, item)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	if len(items) == 0 {
		return nil, fmt.Errorf("no photos found in file")
	}

	return items, nil
}

func ParseJSON(r io.Reader) ([]Item, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var jsonItems []jsonItem
	if err := json.Unmarshal(data, &jsonItems); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	if len(jsonItems) == 0 {
		return nil, fmt.Errorf("no photos found in file")
	}

	items := make([]Item, len(jsonItems))
	for i, ji := range jsonItems {
		if strings.TrimSpace(ji.Photo) == "" {
			return nil, fmt.Errorf("item %d has empty photo", i+1)
		}
		items[i] = Item{
			Index:  i + 1,
			Photo:  ji.Photo,
			Style:  ji.Style,
			Output: ji.Output,
		}
	}

	return items, nil
}
