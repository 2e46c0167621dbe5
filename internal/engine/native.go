//go:build whispercpp

package engine

/*
#cgo CFLAGS: -I${SRCDIR}/../../third_party/whisper.cpp -I${SRCDIR}/../../third_party/whisper.cpp/include -I${SRCDIR}/../../third_party/whisper.cpp/ggml/include
#cgo CXXFLAGS: -std=c++17 -I${SRCDIR}/../../third_party/whisper.cpp -I${SRCDIR}/../../third_party/whisper.cpp/include -I${SRCDIR}/../../third_party/whisper.cpp/ggml/include
#cgo LDFLAGS: -L${SRCDIR}/../../third_party/whisper.cpp/build -L${SRCDIR}/../../third_party/whisper.cpp/build/src -Wl,-rpath,${SRCDIR}/../../third_party/whisper.cpp/build/src -lwhisper -lstdc++ -lm

#include "stdlib.h"
#include "include/whisper.h"
#include "ggml.h"

bool whisperGoAbort(void * user_data);
*/
import "C"

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/cgo"
	"strings"
	"sync"
	"unsafe"
)

// NativeAvailable reports whether the native whisper backend is compiled in.
func NativeAvailable() bool { return true }

// NativeEngine runs whisper.cpp in-process. One inference runs at a time.
type NativeEngine struct {
	mu   sync.Mutex
	ctx  *C.struct_whisper_context
	spec Spec
	log  *slog.Logger
}

// NewNativeEngine loads modelPath onto the device named by spec. A failed
// accelerator initialisation is reported as ErrResourceExhausted so the caller
// can move to the next ladder rung.
func NewNativeEngine(modelPath string, spec Spec, logger *slog.Logger) (Engine, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("%w: whisper model path required", ErrConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}
	cPath := C.CString(modelPath)
	defer C.free(unsafe.Pointer(cPath))

	cParams := C.whisper_context_default_params()
	cParams.use_gpu = C.bool(spec.Device == DeviceAccelerator)

	ctx := C.whisper_init_from_file_with_params(cPath, cParams)
	if ctx == nil {
		if spec.Device == DeviceAccelerator {
			return nil, fmt.Errorf("%w: whisper failed to initialise %s on %s", ErrResourceExhausted, modelPath, spec.Device)
		}
		return nil, fmt.Errorf("whisper: failed to initialise context for %s", modelPath)
	}

	return &NativeEngine{
		ctx:  ctx,
		spec: spec,
		log:  logger.With("component", "engine.native", "model", spec.Model, "device", string(spec.Device), "precision", string(spec.Precision)),
	}, nil
}

// Transcribe implements the Engine interface.
func (e *NativeEngine) Transcribe(ctx context.Context, samples []float32, opts Options) ([]Segment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx == nil {
		return nil, errors.New("whisper: engine closed")
	}
	if len(samples) == 0 {
		return nil, nil
	}

	state := C.whisper_init_state(e.ctx)
	if state == nil {
		return nil, fmt.Errorf("%w: whisper failed to allocate state", ErrResourceExhausted)
	}
	defer C.whisper_free_state(state)

	params := C.whisper_full_default_params(C.WHISPER_SAMPLING_BEAM_SEARCH)
	params.print_progress = C.bool(false)
	params.print_realtime = C.bool(false)
	params.print_timestamps = C.bool(false)
	params.translate = C.bool(false)
	params.no_context = C.bool(true)
	if opts.BeamSize > 0 {
		params.beam_search.beam_size = C.int(opts.BeamSize)
	}
	if opts.NoSpeechThreshold > 0 {
		params.no_speech_thold = C.float(opts.NoSpeechThreshold)
	}

	lang := normaliseLanguage(opts.Language, "")
	cLang := C.CString(lang)
	defer C.free(unsafe.Pointer(cLang))
	params.language = cLang
	if strings.EqualFold(lang, "auto") {
		params.detect_language = C.bool(true)
	}

	if prompt := strings.TrimSpace(opts.InitialPrompt); prompt != "" {
		cPrompt := C.CString(prompt)
		defer C.free(unsafe.Pointer(cPrompt))
		params.initial_prompt = cPrompt
	}

	handle := cgo.NewHandle(ctx)
	defer handle.Delete()
	params.abort_callback = (C.ggml_abort_callback)(C.whisperGoAbort)
	params.abort_callback_user_data = unsafe.Pointer(&handle)

	cSamples := (*C.float)(unsafe.Pointer(&samples[0]))
	if ret := C.whisper_full_with_state(e.ctx, state, params, cSamples, C.int(len(samples))); ret != 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.spec.Device == DeviceAccelerator {
			return nil, fmt.Errorf("%w: whisper inference failed with code %d", ErrResourceExhausted, int(ret))
		}
		return nil, fmt.Errorf("whisper: inference failed with code %d", int(ret))
	}

	segments := collectSegments(state)
	e.log.Debug("native inference", "samples", len(samples), "segments", len(segments), "language", lang)
	return spaceSegments(segments), nil
}

// Close implements the Engine interface.
func (e *NativeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx != nil {
		C.whisper_free(e.ctx)
		e.ctx = nil
	}
	return nil
}

//export whisperGoAbort
func whisperGoAbort(userData unsafe.Pointer) C.bool {
	return C.bool(shouldAbort(userData))
}

func collectSegments(state *C.struct_whisper_state) []Segment {
	count := int(C.whisper_full_n_segments_from_state(state))
	segments := make([]Segment, 0, count)
	for i := 0; i < count; i++ {
		text := C.GoString(C.whisper_full_get_segment_text_from_state(state, C.int(i)))
		var (
			sumProb float64
			tokens  int
		)
		tokenCount := int(C.whisper_full_n_tokens_from_state(state, C.int(i)))
		for j := 0; j < tokenCount; j++ {
			data := C.whisper_full_get_token_data_from_state(state, C.int(i), C.int(j))
			if data.p > 0 {
				sumProb += float64(data.p)
				tokens++
			}
		}
		confidence := float32(0)
		if tokens > 0 {
			confidence = float32(sumProb / float64(tokens))
		}
		segments = append(segments, Segment{Text: text, Confidence: confidence})
	}
	return segments
}
