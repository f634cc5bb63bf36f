// Package tracking opens the TrackingStore named by a tracking URI.
package tracking

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"model-registrar/internal/adapters/secondary/filestore"
	"model-registrar/internal/adapters/secondary/mlflow"
	"model-registrar/internal/adapters/secondary/postgres"
	"model-registrar/internal/config"
	"model-registrar/internal/core/domain"
	"model-registrar/internal/core/ports/output"
	"model-registrar/internal/fsutil"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type closerFunc func()

func (f closerFunc) Close() error {
	f()
	return nil
}

// Open picks the backend by the scheme of cfg.ResolveURI(). The returned
// closer releases backend resources and is never nil on success.
func Open(ctx context.Context, cfg config.TrackingConfig) (ports.TrackingStore, io.Closer, error) {
	uri := cfg.ResolveURI()
	u, err := url.Parse(uri)
	if err != nil {
		return nil, nil, fmt.Errorf("parse tracking uri: %w", err)
	}

	logger := log.WithFields(log.Fields{"scheme": u.Scheme, "host": u.Host})
	if cfg.URI == "" && cfg.Token != "" && cfg.URL == "" {
		logger.Warn("access token set but MLFLOW_URL is empty, falling back to the local tracking store")
	}

	switch u.Scheme {
	case "", "file":
		root, err := fsutil.LocalPath(uri)
		if err != nil {
			return nil, nil, err
		}
		root, err = filepath.Abs(root)
		if err != nil {
			return nil, nil, fmt.Errorf("resolve tracking dir: %w", err)
		}
		store, err := filestore.New(root)
		if err != nil {
			return nil, nil, err
		}
		logger.WithField("root", root).Info("using local tracking store")
		return store, nopCloser{}, nil

	case "http", "https":
		username, password := cfg.Credentials()
		client, err := mlflow.NewClient(mlflow.Config{
			BaseURL:  uri,
			Username: username,
			Password: password,
			Timeout:  cfg.Timeout,
		})
		if err != nil {
			return nil, nil, err
		}
		logger.WithField("authenticated", password != "").Info("using remote tracking server")
		return client, nopCloser{}, nil

	case "postgres", "postgresql":
		if err := postgres.RunMigrations(uri); err != nil {
			return nil, nil, err
		}
		pool, err := postgres.NewPool(ctx, uri)
		if err != nil {
			return nil, nil, err
		}
		store, err := postgres.NewTrackingStore(pool, cfg.ArtifactRoot)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.WithField("artifact_root", cfg.ArtifactRoot).Info("using postgres tracking store")
		return store, closerFunc(pool.Close), nil

	default:
		return nil, nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedScheme, u.Scheme)
	}
}
