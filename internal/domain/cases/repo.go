package cases

import "context"

// Store persists a workspace collection at a path.
type Store interface {
	Load(ctx context.Context, path string) (*Collection, error)
	Save(ctx context.Context, path string, col *Collection) error
	Read(ctx context.Context, path string) ([]byte, error)
	Exists(ctx context.Context, path string) (bool, error)
}
