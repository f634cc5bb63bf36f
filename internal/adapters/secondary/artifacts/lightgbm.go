package artifacts

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"model-registrar/internal/core/domain"
)

// zeroThreshold matches LightGBM's kZeroThreshold.
const zeroThreshold = 1e-35

// lgbmDump is the document produced by Booster.dump_model().
type lgbmDump struct {
	Name                string     `json:"name"`
	Version             string     `json:"version"`
	NumClass            int        `json:"num_class"`
	NumTreePerIteration int        `json:"num_tree_per_iteration"`
	MaxFeatureIdx       int        `json:"max_feature_idx"`
	Objective           string     `json:"objective"`
	FeatureNames        []string   `json:"feature_names"`
	TreeInfo            []lgbmTree `json:"tree_info"`
}

type lgbmTree struct {
	TreeIndex int       `json:"tree_index"`
	Root      *lgbmNode `json:"tree_structure"`
}

type lgbmNode struct {
	SplitFeature *int            `json:"split_feature"`
	Threshold    json.RawMessage `json:"threshold"`
	DecisionType string          `json:"decision_type"`
	DefaultLeft  bool            `json:"default_left"`
	MissingType  string          `json:"missing_type"`
	Left         *lgbmNode       `json:"left_child"`
	Right        *lgbmNode       `json:"right_child"`
	LeafValue    *float64        `json:"leaf_value"`

	threshold  float64
	categories map[int]struct{}
}

// lgbmFile is the on-disk artifact: either a bare dump or a dump wrapped with
// the class labels of the scikit-learn estimator that produced it.
type lgbmFile struct {
	Classes []float64 `json:"classes"`
	Booster *lgbmDump `json:"booster"`
}

// LightGBMModel evaluates a LightGBM tree ensemble.
type LightGBMModel struct {
	objective string
	sigmoid   float64
	numClass  int
	perIter   int
	nFeatures int
	trees     []lgbmTree
	classes   []float64
}

func parseLightGBM(b []byte) (*LightGBMModel, error) {
	var wrapped lgbmFile
	if err := json.Unmarshal(b, &wrapped); err != nil {
		return nil, fmt.Errorf("decode lightgbm model: %w", err)
	}

	dump := wrapped.Booster
	if dump == nil {
		dump = new(lgbmDump)
		if err := json.Unmarshal(b, dump); err != nil {
			return nil, fmt.Errorf("decode lightgbm model: %w", err)
		}
	}
	if len(dump.TreeInfo) == 0 {
		return nil, fmt.Errorf("lightgbm model has no trees")
	}

	m := &LightGBMModel{
		numClass:  dump.NumClass,
		perIter:   dump.NumTreePerIteration,
		nFeatures: dump.MaxFeatureIdx + 1,
		trees:     dump.TreeInfo,
		classes:   wrapped.Classes,
		sigmoid:   1,
	}
	if m.numClass <= 0 {
		m.numClass = 1
	}
	if m.perIter <= 0 {
		m.perIter = m.numClass
	}
	if err := m.parseObjective(dump.Objective); err != nil {
		return nil, err
	}
	if len(m.classes) > 0 && len(m.classes) != m.numOutputs() {
		return nil, fmt.Errorf("lightgbm model has %d classes but %d outputs", len(m.classes), m.numOutputs())
	}

	for i := range m.trees {
		if m.trees[i].Root == nil {
			return nil, fmt.Errorf("tree %d has no structure", i)
		}
		if err := m.trees[i].Root.prepare(m.nFeatures); err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return m, nil
}

func (m *LightGBMModel) parseObjective(objective string) error {
	fields := strings.Fields(objective)
	if len(fields) == 0 {
		m.objective = "regression"
		return nil
	}
	m.objective = fields[0]
	for _, f := range fields[1:] {
		k, v, ok := strings.Cut(f, ":")
		if !ok || k != "sigmoid" {
			continue
		}
		s, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parse objective %q: %w", objective, err)
		}
		m.sigmoid = s
	}
	return nil
}

func (m *LightGBMModel) Flavor() string { return "lightgbm" }

// NumFeatures is the number of input columns the ensemble reads.
func (m *LightGBMModel) NumFeatures() int { return m.nFeatures }

func (m *LightGBMModel) isClassifier() bool {
	switch m.objective {
	case "binary", "multiclass", "softmax", "multiclassova", "multiclass_ova", "ova", "ovr":
		return true
	}
	return false
}

func (m *LightGBMModel) numOutputs() int {
	if m.objective == "binary" {
		return 2
	}
	return m.perIter
}

// Predict returns one value per row: the class label for classifiers, the raw
// regression output otherwise.
func (m *LightGBMModel) Predict(input domain.Frame) (domain.Prediction, error) {
	if input.NumColumns() != m.nFeatures {
		return domain.Prediction{}, fmt.Errorf("%w: got %d columns, model expects %d", domain.ErrFeatureMismatch, input.NumColumns(), m.nFeatures)
	}

	values := make([]float64, 0, input.NumRows())
	for _, row := range input.Rows {
		raw := m.rawScores(row)
		values = append(values, m.transform(raw))
	}

	dtype := "float64"
	if m.isClassifier() {
		dtype = "int64"
		if len(m.classes) > 0 && !allIntegral(m.classes) {
			dtype = "float64"
		}
	}
	return domain.Prediction{Values: values, DType: dtype}, nil
}

func (m *LightGBMModel) rawScores(row []float64) []float64 {
	scores := make([]float64, m.perIter)
	for i, t := range m.trees {
		scores[i%m.perIter] += t.Root.eval(row)
	}
	return scores
}

func (m *LightGBMModel) transform(raw []float64) float64 {
	switch m.objective {
	case "binary":
		p := 1 / (1 + math.Exp(-m.sigmoid*raw[0]))
		idx := 0
		if p > 0.5 {
			idx = 1
		}
		return m.label(idx)
	case "multiclass", "softmax", "multiclassova", "multiclass_ova", "ova", "ovr":
		// argmax is invariant under softmax and per-class sigmoid
		return m.label(argmax(raw))
	default:
		return raw[0]
	}
}

func (m *LightGBMModel) label(idx int) float64 {
	if len(m.classes) > idx {
		return m.classes[idx]
	}
	return float64(idx)
}

func (n *lgbmNode) prepare(nFeatures int) error {
	if n.LeafValue != nil && n.SplitFeature == nil {
		return nil
	}
	if n.SplitFeature == nil || n.Left == nil || n.Right == nil {
		return fmt.Errorf("malformed split node")
	}
	if *n.SplitFeature < 0 || *n.SplitFeature >= nFeatures {
		return fmt.Errorf("split feature %d outside [0, %d)", *n.SplitFeature, nFeatures)
	}

	switch n.DecisionType {
	case "", "<=":
		var th float64
		if err := json.Unmarshal(n.Threshold, &th); err != nil {
			return fmt.Errorf("numerical threshold: %w", err)
		}
		n.threshold = th
	case "==":
		var raw string
		if err := json.Unmarshal(n.Threshold, &raw); err != nil {
			// single category dumped as a number
			var single float64
			if err2 := json.Unmarshal(n.Threshold, &single); err2 != nil {
				return fmt.Errorf("categorical threshold: %w", err)
			}
			raw = strconv.Itoa(int(single))
		}
		n.categories = make(map[int]struct{})
		for _, part := range strings.Split(raw, "||") {
			c, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return fmt.Errorf("categorical threshold %q: %w", raw, err)
			}
			n.categories[c] = struct{}{}
		}
	default:
		return fmt.Errorf("unsupported decision type %q", n.DecisionType)
	}

	if err := n.Left.prepare(nFeatures); err != nil {
		return err
	}
	return n.Right.prepare(nFeatures)
}

func (n *lgbmNode) eval(row []float64) float64 {
	cur := n
	for cur.SplitFeature != nil {
		v := row[*cur.SplitFeature]
		if cur.goLeft(v) {
			cur = cur.Left
		} else {
			cur = cur.Right
		}
	}
	if cur.LeafValue == nil {
		return 0
	}
	return *cur.LeafValue
}

func (n *lgbmNode) goLeft(v float64) bool {
	if n.categories != nil {
		if math.IsNaN(v) || v < 0 {
			return false
		}
		_, ok := n.categories[int(v)]
		return ok
	}

	switch n.MissingType {
	case "NaN":
		if math.IsNaN(v) {
			return n.DefaultLeft
		}
	case "Zero":
		if math.IsNaN(v) {
			v = 0
		}
		if math.Abs(v) <= zeroThreshold {
			return n.DefaultLeft
		}
	default:
		if math.IsNaN(v) {
			v = 0
		}
	}
	return v <= n.threshold
}

func argmax(xs []float64) int {
	best := 0
	for i, x := range xs {
		if x > xs[best] {
			best = i
		}
	}
	return best
}

func allIntegral(xs []float64) bool {
	for _, x := range xs {
		if x != math.Trunc(x) {
			return false
		}
	}
	return true
}
