package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/memodb-io/deploy-platform/internal/infra/blob"
	"github.com/memodb-io/deploy-platform/internal/infra/httpclient"
	"github.com/memodb-io/deploy-platform/internal/pkg/apperr"
	"gorm.io/gorm"
)

// ObjectStore is the subset of blob.S3Deps the services write through.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, body []byte, contentType string, meta map[string]string) (*blob.UploadedMeta, error)
	UploadJSON(ctx context.Context, key string, data interface{}) (*blob.UploadedMeta, error)
	ListObjects(ctx context.Context, prefix string) ([]blob.ObjectInfo, error)
}

// TursoAPI is the database hosting control plane.
type TursoAPI interface {
	CreateDatabase(ctx context.Context, name string) (*httpclient.TursoDatabase, error)
	CreateToken(ctx context.Context, dbName, authorization, expiration string) (string, error)
	DeleteDatabase(ctx context.Context, name string) error
}

// PipelineExecutor runs one statement against a tenant database.
type PipelineExecutor interface {
	Execute(ctx context.Context, hostname, token string, stmt httpclient.Statement) (any, error)
}

type SecretCodec interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// EventPublisher emits deploy lifecycle events. It may be nil.
type EventPublisher interface {
	PublishJSON(ctx context.Context, routingKey string, data any) error
}

// notFoundOr maps gorm.ErrRecordNotFound to a NotFound error and wraps
// anything else with op.
func notFoundOr(err error, op string, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(format, args...)
	}
	return fmt.Errorf("%s: %w", op, err)
}
