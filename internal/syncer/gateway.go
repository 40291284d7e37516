package syncer

//go:generate mockgen -source=gateway.go -destination=mock_gateway_test.go -package=syncer

import (
	"context"

	"github.com/shelfsync/shelfsync/internal/models"
)

// Gateway is the remote document boundary. LoadDocument returns (nil, nil)
// when the document does not exist yet; absence is not an error.
// *gateway.Client satisfies this interface.
type Gateway interface {
	Authenticated() bool
	LoadDocument(ctx context.Context, name string) (*models.Document, error)
	SaveDocument(ctx context.Context, name string, doc models.Document) error
	LastModified(ctx context.Context, name string) (string, error)
	SaveBackups(ctx context.Context, name string, backups []models.Backup) error
}

// ShareLoader fetches read-only documents published by other users.
type ShareLoader interface {
	LoadShared(ctx context.Context, shareID string) (*models.Document, error)
}
