package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

// SentimentModelJSON is a three-class LightGBM dump over the features
// bad, good and great. An all-zero row scores class index 1 (label 0).
const SentimentModelJSON = `{
  "classes": [-1, 0, 1],
  "booster": {
    "name": "tree",
    "version": "v4",
    "num_class": 3,
    "num_tree_per_iteration": 3,
    "max_feature_idx": 2,
    "objective": "multiclass num_class:3",
    "feature_names": ["bad", "good", "great"],
    "tree_info": [
      {"tree_index": 0, "tree_structure": {
        "split_index": 0, "split_feature": 0, "threshold": 0.5,
        "decision_type": "<=", "default_left": true, "missing_type": "None",
        "left_child": {"leaf_index": 0, "leaf_value": -1.0},
        "right_child": {"leaf_index": 1, "leaf_value": 2.0}}},
      {"tree_index": 1, "tree_structure": {"leaf_value": 0.5}},
      {"tree_index": 2, "tree_structure": {
        "split_index": 0, "split_feature": 1, "threshold": 0.5,
        "decision_type": "<=", "default_left": true, "missing_type": "None",
        "left_child": {"leaf_index": 0, "leaf_value": -1.0},
        "right_child": {"leaf_index": 1, "leaf_value": 2.0}}}
    ]
  }
}`

// SentimentFeatures are the vectorizer columns SentimentModelJSON was trained on.
var SentimentFeatures = []string{"bad", "good", "great"}

// WriteModel writes SentimentModelJSON into dir and returns its path.
func WriteModel(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "lgbm_model.json")
	if err := os.WriteFile(path, []byte(SentimentModelJSON), 0o644); err != nil {
		t.Fatalf("write model fixture: %v", err)
	}
	return path
}

// WriteVectorizer writes a vocabulary-style vectorizer whose columns are names.
func WriteVectorizer(t *testing.T, dir string, names []string) string {
	t.Helper()
	vocab := make(map[string]int, len(names))
	for i, n := range names {
		vocab[n] = i
	}
	b, err := json.Marshal(map[string]any{"vocabulary": vocab})
	if err != nil {
		t.Fatalf("encode vectorizer fixture: %v", err)
	}
	path := filepath.Join(dir, "tfidf_vectorizer.json")
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("write vectorizer fixture: %v", err)
	}
	return path
}
