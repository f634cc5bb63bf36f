package ports

import "model-registrar/internal/core/domain"

// Predictor is a trained model that can score a frame.
type Predictor interface {
	Predict(input domain.Frame) (domain.Prediction, error)
	// Flavor names the framework the model was trained with.
	Flavor() string
}

// Vectorizer is a fitted feature extractor.
type Vectorizer interface {
	FeatureNames() []string
}

type ArtifactLoader interface {
	LoadModel(path string) (Predictor, error)
	LoadVectorizer(path string) (Vectorizer, error)
}
