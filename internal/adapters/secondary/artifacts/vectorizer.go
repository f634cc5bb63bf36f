package artifacts

import (
	"encoding/json"
	"fmt"
)

// vectorizerFile holds either the fitted vocabulary (term to column index)
// or the feature names already in column order.
type vectorizerFile struct {
	Vocabulary   map[string]int `json:"vocabulary"`
	FeatureNames []string       `json:"feature_names"`
}

// Vectorizer exposes the output columns of a fitted text vectorizer.
type Vectorizer struct {
	names []string
}

func (v *Vectorizer) FeatureNames() []string {
	out := make([]string, len(v.names))
	copy(out, v.names)
	return out
}

func parseVectorizer(b []byte) (*Vectorizer, error) {
	var f vectorizerFile
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("decode vectorizer: %w", err)
	}

	if f.FeatureNames != nil {
		return &Vectorizer{names: f.FeatureNames}, nil
	}
	if f.Vocabulary == nil {
		return nil, fmt.Errorf("vectorizer has neither vocabulary nor feature_names")
	}

	names := make([]string, len(f.Vocabulary))
	seen := make([]bool, len(f.Vocabulary))
	for term, idx := range f.Vocabulary {
		if idx < 0 || idx >= len(names) {
			return nil, fmt.Errorf("vocabulary index %d for %q outside [0, %d)", idx, term, len(names))
		}
		if seen[idx] {
			return nil, fmt.Errorf("vocabulary index %d assigned twice", idx)
		}
		seen[idx] = true
		names[idx] = term
	}
	return &Vectorizer{names: names}, nil
}
