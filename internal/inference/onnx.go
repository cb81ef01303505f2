package inference

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"embed-service/internal/embeddings"
)

const (
	DeviceCPU  = "cpu"
	DeviceCUDA = "cuda"
)

// envMu guards the process-wide onnxruntime environment.
var (
	envMu    sync.Mutex
	envUsers int
)

func acquireEnvironment(libraryPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if envUsers == 0 && !ort.IsInitialized() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("initialize onnxruntime: %w", err)
		}
	}
	envUsers++
	return nil
}

func releaseEnvironment() error {
	envMu.Lock()
	defer envMu.Unlock()
	envUsers--
	if envUsers > 0 {
		return nil
	}
	return ort.DestroyEnvironment()
}

type session struct {
	sess       *ort.DynamicAdvancedSession
	inputNames []string
	outputName string
	dimension  int
	device     string
}

func openSession(modelPath string, opts Options) (*session, error) {
	return withEnvironment(
		func() error { return acquireEnvironment(opts.LibraryPath) },
		func() (*session, error) { return newSession(modelPath, opts) },
		releaseEnvironment,
	)
}

// withEnvironment holds the environment for the lifetime of the session
// create returns, and gives it back if create fails.
func withEnvironment(acquire func() error, create func() (*session, error), release func() error) (*session, error) {
	if err := acquire(); err != nil {
		return nil, err
	}
	s, err := create()
	if err != nil {
		return nil, errors.Join(err, release())
	}
	return s, nil
}

func newSession(modelPath string, opts Options) (*session, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", modelPath, err)
	}

	inputNames := make([]string, len(inputs))
	for i, in := range inputs {
		if !supportedInput(in.Name) {
			return nil, fmt.Errorf("unsupported model input %q", in.Name)
		}
		inputNames[i] = in.Name
	}

	outputName := opts.OutputName
	if outputName == "" {
		outputName = "last_hidden_state"
	}
	dimension := -1
	for _, out := range outputs {
		if out.Name == outputName {
			dimension = hiddenWidth(out.Dimensions)
		}
	}
	if dimension < 0 {
		return nil, fmt.Errorf("model has no output %q", outputName)
	}

	sess, device, err := openWithFallback(opts.Device, func(want string) (*ort.DynamicAdvancedSession, string, error) {
		so, device, err := sessionOptions(want)
		if err != nil {
			return nil, "", err
		}
		defer so.Destroy()
		sess, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, []string{outputName}, so)
		if err != nil {
			return nil, device, fmt.Errorf("create session on %s: %w", device, err)
		}
		return sess, device, nil
	})
	if err != nil {
		return nil, err
	}
	return &session{
		sess:       sess,
		inputNames: inputNames,
		outputName: outputName,
		dimension:  dimension,
		device:     device,
	}, nil
}

// sessionOptions picks the execution provider. An empty device tries CUDA
// and falls back to CPU; an explicit "cuda" fails if CUDA is unavailable.
func sessionOptions(device string) (*ort.SessionOptions, string, error) {
	so, err := ort.NewSessionOptions()
	if err != nil {
		return nil, "", fmt.Errorf("session options: %w", err)
	}
	if device == DeviceCPU {
		return so, DeviceCPU, nil
	}

	cuda, err := ort.NewCUDAProviderOptions()
	if err == nil {
		err = so.AppendExecutionProviderCUDA(cuda)
		cuda.Destroy()
	}
	if err != nil {
		if device == DeviceCUDA {
			so.Destroy()
			return nil, "", fmt.Errorf("cuda execution provider: %w", err)
		}
		return so, DeviceCPU, nil
	}
	return so, DeviceCUDA, nil
}

// openWithFallback calls open for the requested device. open reports the
// device it resolved to, even on failure. When the device was auto-selected
// as cuda and open fails, it is retried once on cpu.
func openWithFallback[T any](requested string, open func(device string) (T, string, error)) (T, string, error) {
	v, device, err := open(requested)
	if err == nil || requested != "" || device != DeviceCUDA {
		return v, device, err
	}
	cpu, cpuDevice, cpuErr := open(DeviceCPU)
	if cpuErr != nil {
		return cpu, "", errors.Join(err, cpuErr)
	}
	return cpu, cpuDevice, nil
}

// Run feeds one sequence and copies the hidden states out of onnxruntime
// memory before the output tensor is destroyed.
func (s *session) Run(_ context.Context, enc embeddings.Encoding) ([][]float32, error) {
	n := enc.Len()
	if n == 0 {
		return [][]float32{}, nil
	}
	feeds, err := buildInputs(s.inputNames, enc)
	if err != nil {
		return nil, err
	}

	shape := ort.NewShape(1, int64(n))
	inputs := make([]ort.Value, 0, len(feeds))
	defer func() {
		for _, v := range inputs {
			v.Destroy()
		}
	}()
	for _, data := range feeds {
		t, err := ort.NewTensor(shape, data)
		if err != nil {
			return nil, fmt.Errorf("input tensor: %w", err)
		}
		inputs = append(inputs, t)
	}

	outputs := []ort.Value{nil}
	if err := s.sess.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("run model: %w", err)
	}
	defer outputs[0].Destroy()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("output %q has unsupported type %T", s.outputName, outputs[0])
	}
	return splitRows(out.GetData(), out.GetShape())
}

func (s *session) Close() error {
	err := s.sess.Destroy()
	return errors.Join(err, releaseEnvironment())
}

func supportedInput(name string) bool {
	switch name {
	case "input_ids", "attention_mask", "position_ids", "token_type_ids":
		return true
	}
	return false
}

// buildInputs returns one [1, n] int64 buffer per model input, in order.
func buildInputs(names []string, enc embeddings.Encoding) ([][]int64, error) {
	n := enc.Len()
	feeds := make([][]int64, len(names))
	for i, name := range names {
		switch name {
		case "input_ids":
			feeds[i] = enc.IDs
		case "attention_mask":
			feeds[i] = enc.Mask
		case "position_ids":
			pos := make([]int64, n)
			for j := range pos {
				pos[j] = int64(j)
			}
			feeds[i] = pos
		case "token_type_ids":
			feeds[i] = make([]int64, n)
		default:
			return nil, fmt.Errorf("unsupported model input %q", name)
		}
	}
	return feeds, nil
}

// hiddenWidth is the last dimension of a [batch, seq, hidden] output, or 0
// when it is dynamic.
func hiddenWidth(dims ort.Shape) int {
	if len(dims) != 3 || dims[2] <= 0 {
		return 0
	}
	return int(dims[2])
}

// splitRows copies a [1, n, d] buffer into n rows of width d.
func splitRows(data []float32, shape ort.Shape) ([][]float32, error) {
	if len(shape) != 3 || shape[0] != 1 {
		return nil, fmt.Errorf("unexpected hidden state shape %v", shape)
	}
	n, d := int(shape[1]), int(shape[2])
	if len(data) != n*d {
		return nil, fmt.Errorf("hidden state buffer has %d values for shape %v", len(data), shape)
	}
	buf := make([]float32, len(data))
	copy(buf, data)
	rows := make([][]float32, n)
	for i := range rows {
		rows[i] = buf[i*d : (i+1)*d : (i+1)*d]
	}
	return rows, nil
}
