package artifacts

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"model-registrar/internal/core/domain"
	"model-registrar/internal/core/ports/output"
)

type fileLoader struct{}

// NewFileLoader reads LightGBM model dumps and vectorizer vocabularies from
// JSON files on local disk.
func NewFileLoader() ports.ArtifactLoader {
	return fileLoader{}
}

func (fileLoader) LoadModel(path string) (ports.Predictor, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read model %s: %w", domain.ErrArtifactLoad, path, err)
	}
	m, err := parseLightGBM(b)
	if err != nil {
		return nil, fmt.Errorf("%w: model %s: %w", domain.ErrArtifactLoad, path, err)
	}

	log.WithFields(log.Fields{
		"path":     path,
		"trees":    len(m.trees),
		"features": m.NumFeatures(),
	}).Debug("loaded model")
	return m, nil
}

func (fileLoader) LoadVectorizer(path string) (ports.Vectorizer, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read vectorizer %s: %w", domain.ErrArtifactLoad, path, err)
	}
	v, err := parseVectorizer(b)
	if err != nil {
		return nil, fmt.Errorf("%w: vectorizer %s: %w", domain.ErrArtifactLoad, path, err)
	}

	log.WithFields(log.Fields{
		"path":     path,
		"features": len(v.names),
	}).Debug("loaded vectorizer")
	return v, nil
}
