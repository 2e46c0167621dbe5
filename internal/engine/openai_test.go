package engine

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOpenAIEngineTranscribe(t *testing.T) {

	var gotModel, gotPrompt, gotFormat string
	var gotWAV []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/transcriptions") {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotModel = r.FormValue("model")
		gotPrompt = r.FormValue("prompt")
		gotFormat = r.FormValue("response_format")
		f, _, err := r.FormFile("file")
		if err == nil {
			gotWAV, _ = io.ReadAll(f)
			f.Close()
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"task": "transcribe",
			"language": "en",
			"text": "jarvis open the browser",
			"segments": [
				{"id": 0, "text": " jarvis open", "avg_logprob": -0.1, "no_speech_prob": 0.01},
				{"id": 1, "text": " uh", "avg_logprob": -2.0, "no_speech_prob": 0.9},
				{"id": 2, "text": " the browser ", "avg_logprob": -0.2, "no_speech_prob": 0.02}
			]
		}`)
	}))
	defer srv.Close()

	eng := NewOpenAIEngine(srv.URL+"/v1", "test-key", "Systran/faster-whisper-tiny.en", Spec{Model: "tiny.en"}, discardLogger())
	segs, err := eng.Transcribe(context.Background(), []float32{0, 0.5, -0.5}, Options{
		Language:          "en",
		NoSpeechThreshold: 0.33,
		InitialPrompt:     "jarvis open some app",
	})
	if err != nil {
		t.Fatalf("Transcribe error: %v", err)
	}
	if got := Join(segs); got != "jarvis open the browser" {
		t.Fatalf("unexpected transcript %q", got)
	}
	if len(segs) != 2 {
		t.Fatalf("expected the no-speech segment to be dropped, got %d segments", len(segs))
	}
	if gotModel != "Systran/faster-whisper-tiny.en" {
		t.Fatalf("unexpected model %q", gotModel)
	}
	if gotPrompt != "jarvis open some app" {
		t.Fatalf("unexpected prompt %q", gotPrompt)
	}
	if gotFormat != "verbose_json" {
		t.Fatalf("unexpected response format %q", gotFormat)
	}
	if len(gotWAV) != 44+3*2 || string(gotWAV[:4]) != "RIFF" {
		t.Fatalf("unexpected upload: %d bytes, header %q", len(gotWAV), gotWAV[:min(4, len(gotWAV))])
	}
}

func TestOpenAIEngineClassifiesErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		want   error
	}{
		{name: "busy", status: http.StatusServiceUnavailable, want: ErrResourceExhausted},
		{name: "rate limited", status: http.StatusTooManyRequests, want: ErrResourceExhausted},
		{name: "out of memory", status: http.StatusInsufficientStorage, want: ErrResourceExhausted},
		{name: "unauthorised", status: http.StatusUnauthorized, want: ErrConfig},
		{name: "bad request", status: http.StatusBadRequest, want: ErrConfig},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, `{"error":{"message":"nope","type":"server_error"}}`)
			}))
			defer srv.Close()

			eng := NewOpenAIEngine(srv.URL, "", "", Spec{Model: "tiny.en"}, discardLogger())
			_, err := eng.Transcribe(context.Background(), []float32{0}, Options{})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestEncodeWAVHeader(t *testing.T) {
	wav := encodeWAV([]float32{1.5, -1.5, 0})
	if len(wav) != 44+6 {
		t.Fatalf("unexpected wav length %d", len(wav))
	}
	if string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Fatalf("malformed wav header %q", wav[:44])
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != wavSampleRate {
		t.Fatalf("unexpected sample rate %d", rate)
	}
	if s := int16(binary.LittleEndian.Uint16(wav[44:46])); s != 32767 {
		t.Fatalf("expected clipped positive sample, got %d", s)
	}
	if s := int16(binary.LittleEndian.Uint16(wav[46:48])); s != -32768 {
		t.Fatalf("expected clipped negative sample, got %d", s)
	}
}

func TestEncodeWAVNonFiniteSamples(t *testing.T) {
	nan := float32(math.NaN())
	wav := encodeWAV([]float32{nan, float32(math.Inf(1)), float32(math.Inf(-1))})
	want := []int16{0, 32767, -32768}
	for i, w := range want {
		off := 44 + 2*i
		if s := int16(binary.LittleEndian.Uint16(wav[off : off+2])); s != w {
			t.Fatalf("sample %d: want %d, got %d", i, w, s)
		}
	}
}
