package generator

import (
	"context"
	"fmt"
	"io/fs"
	"mime"
	"path"
	"strings"

	"github.com/manash/cardgen/internal/security"
	"github.com/manash/cardgen/pkg/models"
)

// Image is a resolved input image. ProviderHosted images are only fetchable
// with provider credentials and skip the reachability check.
type Image struct {
	Ref            models.ImageRef
	ProviderHosted bool
}

// ReferenceResolver turns a style's reference into something the provider
// can fetch. A nil Image means the style has no reference.
type ReferenceResolver interface {
	Resolve(ctx context.Context, style models.StylePreset) (*Image, error)
}

// StaticResolver serves references that are already hosted: an explicit URL
// per style, else baseURL joined with the style's reference file name.
type StaticResolver struct {
	urls    map[string]string
	baseURL string
}

func NewStaticResolver(baseURL string, urls map[string]string) *StaticResolver {
	return &StaticResolver{
		urls:    urls,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (r *StaticResolver) Resolve(_ context.Context, style models.StylePreset) (*Image, error) {
	if u, ok := r.urls[style.ID]; ok && u != "" {
		ref, err := models.ParseImageRef(u)
		if err != nil {
			return nil, fmt.Errorf("reference for style %s: %w", style.ID, err)
		}
		return &Image{Ref: ref}, nil
	}
	if !style.HasReference() {
		return nil, nil
	}
	if ref, err := models.ParseImageRef(style.ReferenceImageRef); err == nil {
		return &Image{Ref: ref}, nil
	}
	if err := security.ValidateObjectKey(style.ReferenceImageRef); err != nil {
		return nil, fmt.Errorf("%w: reference %q: %v", models.ErrInvalidStyle, style.ReferenceImageRef, err)
	}
	return &Image{Ref: models.URLRef(r.baseURL + "/" + style.ReferenceImageRef)}, nil
}

// UploadResolver reads the bundled reference asset and stores it fresh for
// every call, so the provider always gets a URL from the configured store.
type UploadResolver struct {
	assets fs.FS
	store  ImageStore
}

func NewUploadResolver(assets fs.FS, store ImageStore) *UploadResolver {
	return &UploadResolver{assets: assets, store: store}
}

func (r *UploadResolver) Resolve(ctx context.Context, style models.StylePreset) (*Image, error) {
	if !style.HasReference() {
		return nil, nil
	}
	if ref, err := models.ParseImageRef(style.ReferenceImageRef); err == nil {
		return &Image{Ref: ref}, nil
	}

	name := style.ReferenceImageRef
	if err := security.ValidateObjectKey(name); err != nil {
		return nil, fmt.Errorf("%w: reference %q: %v", models.ErrInvalidStyle, name, err)
	}
	data, err := fs.ReadFile(r.assets, name)
	if err != nil {
		return nil, fmt.Errorf("read reference asset %s: %w", name, err)
	}

	obj, err := r.store.Store(ctx, data, path.Base(name), mime.TypeByExtension(path.Ext(name)))
	if err != nil {
		return nil, err
	}
	return &Image{Ref: models.URLRef(obj.URL), ProviderHosted: obj.ProviderHosted}, nil
}
