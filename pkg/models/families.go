package models

import (
	"errors"
	"fmt"
	"maps"
	"strings"
)

var (
	ErrDuplicateFamily = errors.New("model family already registered")
	ErrNoFallback      = errors.New("family registry has no fallback")
)

type FamilyTag string

const (
	FamilyImageInput    FamilyTag = "image-input"
	FamilyNanoBanana    FamilyTag = "nano-banana"
	FamilyFluxReference FamilyTag = "flux-reference"
	FamilyControl       FamilyTag = "control"
	FamilyFlux          FamilyTag = "flux"
	FamilyGeneric       FamilyTag = "generic"
)

func (t FamilyTag) String() string {
	return string(t)
}

// ImageLayout describes how a family expects the user and reference images.
type ImageLayout int

const (
	// LayoutSingle sends only the user image; any reference is dropped.
	LayoutSingle ImageLayout = iota
	// LayoutSeparate sends the reference under its own field when present.
	LayoutSeparate
	// LayoutArray sends [user, reference?] under one array field.
	LayoutArray
)

func (l ImageLayout) String() string {
	switch l {
	case LayoutSeparate:
		return "separate"
	case LayoutArray:
		return "array"
	default:
		return "single"
	}
}

// ModelFamily is one row of the model classification table: which ids it
// matches, which input fields carry images and the parameter defaults.
type ModelFamily struct {
	Tag            FamilyTag
	Patterns       []string
	ImageField     string
	ReferenceField string
	Layout         ImageLayout
	Defaults       map[string]any
}

func (f *ModelFamily) Matches(modelID string) bool {
	id := strings.ToLower(modelID)
	for _, p := range f.Patterns {
		if strings.Contains(id, p) {
			return true
		}
	}
	return false
}

// AcceptsReference reports whether requests for this family can carry a
// reference image at all.
func (f *ModelFamily) AcceptsReference() bool {
	return f.Layout != LayoutSingle
}

// DefaultParams returns a fresh copy of the family defaults.
func (f *ModelFamily) DefaultParams() map[string]any {
	out := make(map[string]any, len(f.Defaults)+3)
	maps.Copy(out, f.Defaults)
	return out
}

// FamilyRegistry classifies model ids. Families are tried in registration
// order, so more specific patterns must be registered first.
type FamilyRegistry struct {
	ordered  []*ModelFamily
	byTag    map[FamilyTag]*ModelFamily
	fallback *ModelFamily
}

func NewFamilyRegistry() *FamilyRegistry {
	return &FamilyRegistry{
		byTag: make(map[FamilyTag]*ModelFamily),
	}
}

func (r *FamilyRegistry) Register(f *ModelFamily) error {
	if _, ok := r.byTag[f.Tag]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateFamily, f.Tag)
	}
	r.byTag[f.Tag] = f
	r.ordered = append(r.ordered, f)
	return nil
}

// SetFallback registers f as the family used when no pattern matches.
func (r *FamilyRegistry) SetFallback(f *ModelFamily) error {
	if err := r.Register(f); err != nil {
		return err
	}
	r.fallback = f
	return nil
}

func (r *FamilyRegistry) Classify(modelID string) (*ModelFamily, error) {
	for _, f := range r.ordered {
		if f == r.fallback {
			continue
		}
		if f.Matches(modelID) {
			return f, nil
		}
	}
	if r.fallback == nil {
		return nil, fmt.Errorf("%w: no family matches %q", ErrNoFallback, modelID)
	}
	return r.fallback, nil
}

func (r *FamilyRegistry) Get(tag FamilyTag) (*ModelFamily, bool) {
	f, ok := r.byTag[tag]
	return f, ok
}

func (r *FamilyRegistry) Tags() []FamilyTag {
	tags := make([]FamilyTag, 0, len(r.ordered))
	for _, f := range r.ordered {
		tags = append(tags, f.Tag)
	}
	return tags
}

func DefaultFamilies() *FamilyRegistry {
	r := NewFamilyRegistry()

	families := []*ModelFamily{
		{
			Tag:        FamilyImageInput,
			Patterns:   []string{"nano-banana-pro", "gemini-3-pro-image"},
			ImageField: "image_input",
			Layout:     LayoutArray,
			Defaults: map[string]any{
				"aspect_ratio":  "1:1",
				"resolution":    "2K",
				"output_format": "png",
			},
		},
		{
			Tag:        FamilyNanoBanana,
			Patterns:   []string{"nano-banana"},
			ImageField: "image",
			Layout:     LayoutSingle,
			Defaults: map[string]any{
				"num_outputs":  1,
				"aspect_ratio": "1:1",
				"strength":     0.95,
			},
		},
		{
			Tag:            FamilyFluxReference,
			Patterns:       []string{"flux-1.1-pro"},
			ImageField:     "image",
			ReferenceField: "reference_image",
			Layout:         LayoutSeparate,
			Defaults: map[string]any{
				"num_outputs":    1,
				"aspect_ratio":   "1:1",
				"strength":       0.72,
				"guidance_scale": 8.0,
				"output_format":  "png",
				"output_quality": 90,
			},
		},
		{
			Tag:            FamilyControl,
			Patterns:       []string{"controlnet"},
			ImageField:     "image",
			ReferenceField: "control_image",
			Layout:         LayoutSeparate,
			Defaults: map[string]any{
				"num_outputs":    1,
				"strength":       0.8,
				"guidance_scale": 7.5,
			},
		},
		{
			Tag:        FamilyFlux,
			Patterns:   []string{"flux"},
			ImageField: "image",
			Layout:     LayoutSingle,
			Defaults: map[string]any{
				"num_outputs":    1,
				"aspect_ratio":   "1:1",
				"output_format":  "png",
				"output_quality": 90,
				"strength":       0.9,
			},
		},
	}

	for _, f := range families {
		// static table, tags are unique
		_ = r.Register(f)
	}

	_ = r.SetFallback(&ModelFamily{
		Tag:            FamilyGeneric,
		ImageField:     "image",
		ReferenceField: "reference_image",
		Layout:         LayoutSeparate,
		Defaults: map[string]any{
			"num_outputs": 1,
			"strength":    0.95,
		},
	})

	return r
}
