package services

import (
	"model-registrar/internal/core/domain"
)

// BuildExampleInput returns a single zero-filled row with one column per
// feature, in feature order.
func BuildExampleInput(featureNames []string) domain.Frame {
	cols := make([]string, len(featureNames))
	copy(cols, featureNames)
	return domain.Frame{
		Columns: cols,
		Rows:    [][]float64{make([]float64, len(cols))},
	}
}

// InferSignature derives a column-based input schema from the example input
// and a tensor output schema from the prediction.
func InferSignature(input domain.Frame, output domain.Prediction) domain.Signature {
	inputs := make([]domain.ColumnSpec, 0, len(input.Columns))
	for _, c := range input.Columns {
		inputs = append(inputs, domain.ColumnSpec{Type: "double", Name: c, Required: true})
	}

	dtype := output.DType
	if dtype == "" {
		dtype = "float64"
	}
	shape := []int{-1}
	if output.Width > 0 {
		shape = append(shape, output.Width)
	}

	return domain.Signature{
		Inputs:  inputs,
		Outputs: []domain.TensorSpec{{DType: dtype, Shape: shape}},
	}
}
