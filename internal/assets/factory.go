package assets

import (
	"context"
	"fmt"

	"boneguide-go/internal/config"
	"boneguide-go/internal/guide"
)

// NewAssetStoreFromConfig creates an AssetStore implementation based on the assets config type.
func NewAssetStoreFromConfig(ctx context.Context, cfg config.AssetsConfig) (guide.AssetStore, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "s3":
		store, err := NewS3Store(ctx, S3Options{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	case "filesystem":
		if cfg.ImagesDir == "" {
			return nil, fmt.Errorf("filesystem asset store requires images_dir to be set")
		}
		store, err := NewFileSystemStore(cfg.ImagesDir)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown asset store type: %s", cfg.Type)
	}
}
