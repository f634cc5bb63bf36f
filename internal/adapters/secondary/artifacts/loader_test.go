package artifacts

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"model-registrar/internal/core/domain"
	"model-registrar/internal/testutil"
)

func frame(cols []string, rows ...[]float64) domain.Frame {
	return domain.Frame{Columns: cols, Rows: rows}
}

func TestLoadModel_PredictsClassLabels(t *testing.T) {
	path := testutil.WriteModel(t, t.TempDir())

	m, err := NewFileLoader().LoadModel(path)
	require.NoError(t, err)
	assert.Equal(t, "lightgbm", m.Flavor())

	out, err := m.Predict(frame(testutil.SentimentFeatures,
		[]float64{0, 0, 0},
		[]float64{1, 0, 0},
		[]float64{0, 1, 0},
	))
	require.NoError(t, err)
	assert.Equal(t, []float64{0, -1, 1}, out.Values)
	assert.Equal(t, "int64", out.DType)
	assert.Zero(t, out.Width)
}

func TestLoadModel_MissingFile(t *testing.T) {
	_, err := NewFileLoader().LoadModel(filepath.Join(t.TempDir(), "nope.json"))
	assert.ErrorIs(t, err, domain.ErrArtifactLoad)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadModel_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"tree_info": []}`), 0o644))

	_, err := NewFileLoader().LoadModel(path)
	assert.ErrorIs(t, err, domain.ErrArtifactLoad)
}

func TestPredict_RejectsNarrowInput(t *testing.T) {
	m, err := parseLightGBM([]byte(testutil.SentimentModelJSON))
	require.NoError(t, err)

	_, err = m.Predict(frame(nil, []float64{}))
	assert.ErrorIs(t, err, domain.ErrFeatureMismatch)
}

func TestPredict_RejectsWideInput(t *testing.T) {
	m, err := parseLightGBM([]byte(testutil.SentimentModelJSON))
	require.NoError(t, err)

	_, err = m.Predict(frame([]string{"a", "b", "c", "d", "e"}, []float64{0, 0, 0, 0, 0}))
	assert.ErrorIs(t, err, domain.ErrFeatureMismatch)
}

func TestParseLightGBM_SplitFeatureOutOfRange(t *testing.T) {
	doc := `{"num_class":1,"max_feature_idx":0,"objective":"regression","tree_info":[
	  {"tree_structure":{"split_feature":3,"threshold":1,"decision_type":"<=",
	   "left_child":{"leaf_value":1},"right_child":{"leaf_value":2}}}]}`
	_, err := parseLightGBM([]byte(doc))
	assert.Error(t, err)
}

func TestPredict_BinaryWithSigmoid(t *testing.T) {
	doc := `{"num_class":1,"max_feature_idx":0,"objective":"binary sigmoid:1","tree_info":[
	  {"tree_structure":{"split_feature":0,"threshold":0.5,"decision_type":"<=","missing_type":"None",
	   "left_child":{"leaf_value":-2},"right_child":{"leaf_value":3}}}]}`
	m, err := parseLightGBM([]byte(doc))
	require.NoError(t, err)

	out, err := m.Predict(frame([]string{"x"}, []float64{0}, []float64{1}))
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1}, out.Values)
}

func TestPredict_RegressionSumsTrees(t *testing.T) {
	doc := `{"max_feature_idx":0,"objective":"regression","tree_info":[
	  {"tree_structure":{"leaf_value":1.5}},
	  {"tree_structure":{"split_feature":0,"threshold":10,"decision_type":"<=",
	   "left_child":{"leaf_value":0.25},"right_child":{"leaf_value":4}}}]}`
	m, err := parseLightGBM([]byte(doc))
	require.NoError(t, err)

	out, err := m.Predict(frame([]string{"x"}, []float64{3}, []float64{11}))
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1.75, 5.5}, out.Values, 1e-9)
	assert.Equal(t, "float64", out.DType)
}

func TestGoLeft_MissingValues(t *testing.T) {
	nanNode := &lgbmNode{MissingType: "NaN", DefaultLeft: false, threshold: 1}
	assert.False(t, nanNode.goLeft(math.NaN()))
	assert.True(t, nanNode.goLeft(0.5))

	zeroNode := &lgbmNode{MissingType: "Zero", DefaultLeft: false, threshold: 1}
	assert.False(t, zeroNode.goLeft(0))
	assert.True(t, zeroNode.goLeft(0.5))

	noneNode := &lgbmNode{MissingType: "None", threshold: -1}
	assert.False(t, noneNode.goLeft(math.NaN()))
}

func TestGoLeft_Categorical(t *testing.T) {
	doc := `{"max_feature_idx":0,"objective":"regression","tree_info":[
	  {"tree_structure":{"split_feature":0,"threshold":"1||3","decision_type":"==",
	   "left_child":{"leaf_value":1},"right_child":{"leaf_value":2}}}]}`
	m, err := parseLightGBM([]byte(doc))
	require.NoError(t, err)

	out, err := m.Predict(frame([]string{"c"}, []float64{1}, []float64{2}, []float64{3}))
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 1}, out.Values)
}

func TestLoadVectorizer_OrdersByVocabularyIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vec.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"vocabulary":{"zebra":0,"apple":2,"mango":1}}`), 0o644))

	v, err := NewFileLoader().LoadVectorizer(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"zebra", "mango", "apple"}, v.FeatureNames())
}

func TestLoadVectorizer_FeatureNamesList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vec.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"feature_names":["b","a"]}`), 0o644))

	v, err := NewFileLoader().LoadVectorizer(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, v.FeatureNames())
}

func TestLoadVectorizer_EmptyVocabulary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vec.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"vocabulary":{}}`), 0o644))

	v, err := NewFileLoader().LoadVectorizer(path)
	require.NoError(t, err)
	assert.Empty(t, v.FeatureNames())
}

func TestLoadVectorizer_Invalid(t *testing.T) {
	cases := map[string]string{
		"gap":       `{"vocabulary":{"a":0,"b":2}}`,
		"duplicate": `{"vocabulary":{"a":0,"b":0}}`,
		"empty":     `{}`,
		"garbage":   `not json`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "vec.json")
			require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

			_, err := NewFileLoader().LoadVectorizer(path)
			assert.ErrorIs(t, err, domain.ErrArtifactLoad)
		})
	}
}
