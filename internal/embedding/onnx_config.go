package embedding

import "errors"

// ONNXConfig configures the local ONNX embedder.
type ONNXConfig struct {
	ModelPath string
	// LibraryPath optionally points at the onnxruntime shared library.
	LibraryPath string
	Dimensions  int
	MaxTokens   int
}

func (c ONNXConfig) validate() error {
	switch {
	case c.ModelPath == "":
		return errors.New("onnx embedder: model path is required")
	case c.Dimensions <= 0:
		return errors.New("onnx embedder: dimensions must be positive")
	case c.MaxTokens < 2:
		return errors.New("onnx embedder: max tokens must be at least 2")
	}
	return nil
}
