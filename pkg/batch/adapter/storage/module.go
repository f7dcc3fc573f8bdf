package storage

import (
	"context"

	"go.uber.org/fx"

	coreConfig "github.com/tigerroll/importd/pkg/batch/core/config"
)

// NewBlobStoreProvider resolves infrastructure.blob_storage_ref and wraps it as the application BlobStore.
func NewBlobStoreProvider(lc fx.Lifecycle, cfg *coreConfig.Config, resolver *ConnectionResolver) (BlobStore, error) {
	conn, err := resolver.ResolveStorageConnection(context.Background(), cfg.Importd.Infrastructure.BlobStorageRef)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error { return resolver.CloseAll() },
	})
	return NewBlobStore(conn, cfg.Importd.Infrastructure.BlobBucket), nil
}

// Module provides the storage resolver and the BlobStore. Concrete providers come from
// the local and gcs subpackage modules.
var Module = fx.Options(
	fx.Provide(
		NewConnectionResolver,
		NewBlobStoreProvider,
	),
)
