// Package onnx adapts ONNX Runtime model sessions to the pipeline's
// Detector, Embedder and PoseEstimator interfaces. Each adapter owns a
// single session guarded by a mutex; sessions are not safe for concurrent
// Run calls.
package onnx

import (
	"fmt"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"
)

// Init loads the ONNX Runtime shared library and initializes the global
// environment. Call once at startup, before creating any adapter.
func Init(sharedLibraryPath string) error {
	if sharedLibraryPath != "" {
		ort.SetSharedLibraryPath(sharedLibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize onnxruntime environment: %w", err)
	}
	return nil
}

// Shutdown tears down the global ONNX Runtime environment. Destroy all
// adapters first.
func Shutdown() error {
	return ort.DestroyEnvironment()
}

func newSessionOptions() (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	if err := options.SetIntraOpNumThreads(runtime.NumCPU()); err != nil {
		options.Destroy()
		return nil, err
	}
	if err := options.SetInterOpNumThreads(runtime.NumCPU()); err != nil {
		options.Destroy()
		return nil, err
	}
	return options, nil
}
