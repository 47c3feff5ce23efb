// Package variant builds provider-ready generation requests. Each model
// family has its own input schema; the builder dispatches on the family tag
// returned by the registry and never inspects the model id itself.
package variant

import (
	"errors"
	"fmt"
	"strings"

	"github.com/manash/cardgen/pkg/models"
)

var ErrMissingRule = errors.New("no build rule for model family")

// buildFunc fills the image fields of input for one family layout.
type buildFunc func(f *models.ModelFamily, input map[string]any, user models.ImageRef, ref *models.ImageRef) (usedRef bool)

type Builder struct {
	families *models.FamilyRegistry
	rules    map[models.FamilyTag]buildFunc
}

// NewBuilder binds every family in the registry to a rule for its layout.
func NewBuilder(families *models.FamilyRegistry) (*Builder, error) {
	b := &Builder{
		families: families,
		rules:    make(map[models.FamilyTag]buildFunc),
	}
	for _, tag := range families.Tags() {
		f, _ := families.Get(tag)
		rule, ok := layoutRules[f.Layout]
		if !ok {
			return nil, fmt.Errorf("%w: %s (layout %v)", ErrMissingRule, tag, f.Layout)
		}
		if f.ImageField == "" {
			return nil, fmt.Errorf("%w: %s has no image field", ErrMissingRule, tag)
		}
		if f.Layout == models.LayoutSeparate && f.ReferenceField == "" {
			return nil, fmt.Errorf("%w: %s has no reference field", ErrMissingRule, tag)
		}
		b.rules[tag] = rule
	}
	return b, nil
}

func DefaultBuilder() *Builder {
	b, err := NewBuilder(models.DefaultFamilies())
	if err != nil {
		panic(err)
	}
	return b
}

func (b *Builder) Families() *models.FamilyRegistry {
	return b.families
}

// Build returns a fresh request for modelID. A nil or zero ref is allowed;
// families that cannot carry a reference drop it.
func (b *Builder) Build(modelID string, user models.ImageRef, ref *models.ImageRef, prompt string) (*models.GenerationRequest, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, models.ErrEmptyPrompt
	}
	if user.IsZero() {
		return nil, models.ErrNoUserImage
	}
	if ref != nil && ref.IsZero() {
		ref = nil
	}

	f, err := b.families.Classify(modelID)
	if err != nil {
		return nil, err
	}
	rule, ok := b.rules[f.Tag]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRule, f.Tag)
	}

	input := f.DefaultParams()
	input["prompt"] = prompt
	usedRef := rule(f, input, user, ref)

	req := &models.GenerationRequest{
		ModelID:   modelID,
		Family:    f.Tag,
		UserImage: user,
		Prompt:    prompt,
		Input:     input,
	}
	if usedRef {
		r := *ref
		req.ReferenceImage = &r
	}
	return req, nil
}

var layoutRules = map[models.ImageLayout]buildFunc{
	models.LayoutSingle:   buildSingle,
	models.LayoutSeparate: buildSeparate,
	models.LayoutArray:    buildArray,
}

func buildSingle(f *models.ModelFamily, input map[string]any, user models.ImageRef, _ *models.ImageRef) bool {
	input[f.ImageField] = user.String()
	return false
}

func buildSeparate(f *models.ModelFamily, input map[string]any, user models.ImageRef, ref *models.ImageRef) bool {
	input[f.ImageField] = user.String()
	if ref == nil {
		return false
	}
	input[f.ReferenceField] = ref.String()
	return true
}

func buildArray(f *models.ModelFamily, input map[string]any, user models.ImageRef, ref *models.ImageRef) bool {
	images := []string{user.String()}
	if ref != nil {
		images = append(images, ref.String())
	}
	input[f.ImageField] = images
	return ref != nil
}
