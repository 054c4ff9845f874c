package guide

import (
	"bytes"
	"context"
	"mime"
	"net/url"
	"path"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ProgressFunc is called each time an image download completes.
type ProgressFunc func(done, total int)

const defaultImageExt = ".png"

var imageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
	".svg":  true,
}

// imageMaterializer downloads remote images into the asset store.
type imageMaterializer struct {
	api      ContentAPI
	assets   AssetStore
	idgen    IDGenerator
	limit    int
	logger   Logger
	progress ProgressFunc
}

// materialize downloads every URL once and returns remote URL to local
// reference for the ones that succeeded. A failed download is logged and left
// out of the map so the caller keeps the remote URL.
func (m *imageMaterializer) materialize(ctx context.Context, urls []string) (map[string]string, int, error) {
	refs := make(map[string]string, len(urls))
	if len(urls) == 0 {
		return refs, 0, nil
	}

	var (
		mu     sync.Mutex
		done   int
		failed int
	)

	g := new(errgroup.Group)
	g.SetLimit(m.limit)
	for _, u := range urls {
		g.Go(func() error {
			ref, err := m.download(ctx, u)

			mu.Lock()
			defer mu.Unlock()
			done++
			if err != nil {
				failed++
				m.logger.Warn("image download failed, keeping remote url", "url", u, "error", err)
			} else {
				refs[u] = ref
			}
			if m.progress != nil {
				m.progress(done, len(urls))
			}
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, failed, err
	}
	return refs, failed, nil
}

func (m *imageMaterializer) download(ctx context.Context, src string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	asset, err := m.api.FetchAsset(ctx, src)
	if err != nil {
		return "", err
	}
	name := "image_" + m.idgen.New() + imageExt(src, asset.ContentType)
	ref, err := m.assets.Put(ctx, name, bytes.NewReader(asset.Data), int64(len(asset.Data)))
	if err != nil {
		return "", StorageError("storing image", err)
	}
	return ref, nil
}

// isRemoteRef reports whether src still points at the network.
func isRemoteRef(src string) bool {
	return strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://")
}

// imageExt picks the file extension from the URL path, then the content type.
func imageExt(src, contentType string) string {
	if u, err := url.Parse(src); err == nil {
		if ext := strings.ToLower(path.Ext(u.Path)); imageExts[ext] {
			return ext
		}
	}
	if contentType != "" {
		if mt, _, err := mime.ParseMediaType(contentType); err == nil {
			if exts, _ := mime.ExtensionsByType(mt); len(exts) > 0 {
				for _, ext := range exts {
					if imageExts[ext] {
						return ext
					}
				}
			}
		}
	}
	return defaultImageExt
}
