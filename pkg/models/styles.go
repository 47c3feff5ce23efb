package models

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrStyleNotFound  = errors.New("style not found")
	ErrDuplicateStyle = errors.New("style already registered")
	ErrInvalidStyle   = errors.New("invalid style preset")
)

type StylePreset struct {
	ID                string `json:"id" yaml:"id"`
	Name              string `json:"name" yaml:"name"`
	Emoji             string `json:"emoji,omitempty" yaml:"emoji,omitempty"`
	Prompt            string `json:"prompt" yaml:"prompt"`
	ReferenceImageRef string `json:"reference_image,omitempty" yaml:"reference_image,omitempty"`
	Category          string `json:"category,omitempty" yaml:"category,omitempty"`
}

func (s *StylePreset) HasReference() bool {
	return s.ReferenceImageRef != ""
}

func (s *StylePreset) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidStyle)
	}
	if strings.TrimSpace(s.Prompt) == "" {
		return fmt.Errorf("%w: %s: %w", ErrInvalidStyle, s.ID, ErrEmptyPrompt)
	}
	return nil
}

// StyleCatalog holds immutable presets keyed by ID. List returns them in
// registration order.
type StyleCatalog struct {
	styles map[string]*StylePreset
	order  []string
}

func NewStyleCatalog() *StyleCatalog {
	return &StyleCatalog{
		styles: make(map[string]*StylePreset),
	}
}

func (c *StyleCatalog) Register(s StylePreset) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if _, ok := c.styles[s.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateStyle, s.ID)
	}
	c.styles[s.ID] = &s
	c.order = append(c.order, s.ID)
	return nil
}

// Get returns a copy so callers cannot mutate the catalog entry.
func (c *StyleCatalog) Get(id string) (StylePreset, error) {
	s, ok := c.styles[id]
	if !ok {
		return StylePreset{}, fmt.Errorf("%w: %q", ErrStyleNotFound, id)
	}
	return *s, nil
}

func (c *StyleCatalog) List() []StylePreset {
	out := make([]StylePreset, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.styles[id])
	}
	return out
}

func (c *StyleCatalog) IDs() []string {
	return append([]string(nil), c.order...)
}

func (c *StyleCatalog) Len() int {
	return len(c.order)
}

type catalogFile struct {
	Styles []StylePreset `yaml:"styles"`
}

// LoadCatalog reads presets from a YAML document of the form
// "styles: [{id, name, prompt, reference_image, ...}]".
func LoadCatalog(r io.Reader) (*StyleCatalog, error) {
	var f catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse style catalog: %w", err)
	}
	if len(f.Styles) == 0 {
		return nil, fmt.Errorf("%w: catalog has no styles", ErrInvalidStyle)
	}

	c := NewStyleCatalog()
	for _, s := range f.Styles {
		if err := c.Register(s); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func DefaultCatalog() *StyleCatalog {
	c := NewStyleCatalog()
	for _, s := range defaultStyles {
		_ = c.Register(s)
	}
	return c
}

var defaultStyles = []StylePreset{
	{
		ID:                "newyear",
		Name:              "New Year",
		Emoji:             "🎄",
		Prompt:            "Festive winter background with snowflakes, Christmas decorations, warm lighting. New Year greeting card style. Photorealistic, high quality.",
		ReferenceImageRef: "newyear.jpeg",
		Category:          "holiday",
	},
	{
		ID:                "travel",
		Name:              "Travel",
		Emoji:             "✈️",
		Prompt:            "Exotic travel background with locations, suitcases, maps, famous landmarks. Travel adventure greeting card style. Photorealistic, high quality.",
		ReferenceImageRef: "travel.jpeg",
		Category:          "lifestyle",
	},
	{
		ID:                "romantic",
		Name:              "Romantic",
		Emoji:             "💕",
		Prompt:            "Romantic background with hearts, flowers, soft lighting, warm colors. Romantic greeting card style. Photorealistic, high quality.",
		ReferenceImageRef: "romantic.jpeg",
		Category:          "holiday",
	},
	{
		ID:                "birthday",
		Name:              "Birthday",
		Emoji:             "🎂",
		Prompt:            "Festive background with balloons, confetti, cake, party decorations. Birthday greeting card style. Photorealistic, high quality.",
		ReferenceImageRef: "birthday.jpeg",
		Category:          "holiday",
	},
	{
		ID:                "nature",
		Name:              "Nature",
		Emoji:             "🌲",
		Prompt:            "Natural background with landscapes, trees, flowers, mountains, peaceful natural scenes. Nature greeting card style. Photorealistic, high quality.",
		ReferenceImageRef: "nature.jpeg",
		Category:          "lifestyle",
	},
}
