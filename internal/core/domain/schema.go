package domain

import (
	"encoding/json"
)

// Frame is a dense numeric table with labelled columns.
type Frame struct {
	Columns []string
	Rows    [][]float64
}

func (f Frame) NumRows() int    { return len(f.Rows) }
func (f Frame) NumColumns() int { return len(f.Columns) }

// splitFrame is the pandas "split" orientation.
type splitFrame struct {
	Columns []string    `json:"columns"`
	Data    [][]float64 `json:"data"`
}

// MarshalSplit encodes the frame as {"columns": [...], "data": [[...]]}.
func (f Frame) MarshalSplit() ([]byte, error) {
	sf := splitFrame{Columns: f.Columns}
	if sf.Columns == nil {
		sf.Columns = []string{}
	}
	sf.Data = make([][]float64, len(f.Rows))
	for i, row := range f.Rows {
		if row == nil {
			row = []float64{}
		}
		sf.Data[i] = row
	}
	return json.Marshal(sf)
}

// Prediction is a model output. Width 0 means a 1-D result with one value per
// input row; otherwise Values holds rows of Width values each.
type Prediction struct {
	Values []float64
	Width  int
	DType  string
}

// ColumnSpec describes one named column of a column-based schema.
type ColumnSpec struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Required bool   `json:"required"`
}

// TensorSpec describes an unnamed tensor output.
type TensorSpec struct {
	DType string
	Shape []int
}

type tensorSpecJSON struct {
	Type   string `json:"type"`
	Tensor struct {
		DType string `json:"dtype"`
		Shape []int  `json:"shape"`
	} `json:"tensor-spec"`
}

func (t TensorSpec) MarshalJSON() ([]byte, error) {
	var out tensorSpecJSON
	out.Type = "tensor"
	out.Tensor.DType = t.DType
	out.Tensor.Shape = t.Shape
	return json.Marshal(out)
}

func (t *TensorSpec) UnmarshalJSON(b []byte) error {
	var in tensorSpecJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	t.DType = in.Tensor.DType
	t.Shape = in.Tensor.Shape
	return nil
}

// Signature is the input/output schema stored with a logged model.
type Signature struct {
	Inputs  []ColumnSpec
	Outputs []TensorSpec
}

// InputsJSON and OutputsJSON render the schema halves as JSON strings, the
// form they take inside an MLmodel descriptor.
func (s Signature) InputsJSON() (string, error) {
	inputs := s.Inputs
	if inputs == nil {
		inputs = []ColumnSpec{}
	}
	b, err := json.Marshal(inputs)
	return string(b), err
}

func (s Signature) OutputsJSON() (string, error) {
	outputs := s.Outputs
	if outputs == nil {
		outputs = []TensorSpec{}
	}
	b, err := json.Marshal(outputs)
	return string(b), err
}
