// Package operators maps ONNX operators to backend tensor operations.
//
// Each handler validates its inputs and attributes, then delegates to the
// backend carried by the execution Context. Only the operators needed to run
// exported convolutional classifiers are registered; models using anything
// else fail with an "unsupported operator" error.
package operators
