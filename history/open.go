package history

import (
	"go.uber.org/zap"

	"github.com/teranos/scribe/errors"
)

// Backend names accepted by Open.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Open returns the repository for backend at path.
func Open(backend, path string, log *zap.SugaredLogger) (Repository, error) {
	switch backend {
	case "", BackendJSON:
		return NewJSONRepository(path, log)
	case BackendSQLite:
		return OpenSQLRepository(path, log)
	default:
		return nil, errors.NewInvalidRequestError("unknown history backend %q", backend)
	}
}
