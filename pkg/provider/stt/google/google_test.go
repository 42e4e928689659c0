package google

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/protobuf/types/known/durationpb"
)

var errTest = errors.New("test error")

func result(text string, end time.Duration) *speechpb.SpeechRecognitionResult {
	return &speechpb.SpeechRecognitionResult{
		Alternatives:  []*speechpb.SpeechRecognitionAlternative{{Transcript: text, Confidence: 0.9}},
		ResultEndTime: durationpb.New(end),
	}
}

func TestTranscribe_BuildsLinear16Request(t *testing.T) {
	var got *speechpb.RecognizeRequest
	p := newProvider(func(_ context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
		got = req
		return &speechpb.RecognizeResponse{Results: []*speechpb.SpeechRecognitionResult{
			result(" I need an appointment", 1500*time.Millisecond),
			result("tomorrow ", 2200*time.Millisecond),
		}}, nil
	}, WithLanguage("en-GB"), WithModel("latest_short"))

	pcm := make([]byte, 640)
	res, err := p.Transcribe(context.Background(), pcm, 16000)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	cfg := got.GetConfig()
	if cfg.GetEncoding() != speechpb.RecognitionConfig_LINEAR16 {
		t.Errorf("encoding = %v", cfg.GetEncoding())
	}
	if cfg.GetSampleRateHertz() != 16000 || cfg.GetLanguageCode() != "en-GB" || cfg.GetModel() != "latest_short" {
		t.Errorf("config = %v", cfg)
	}
	if len(got.GetAudio().GetContent()) != len(pcm) {
		t.Errorf("audio content len = %d", len(got.GetAudio().GetContent()))
	}

	if res.Text != "I need an appointment tomorrow" {
		t.Errorf("Text = %q", res.Text)
	}
	if len(res.Segments) != 2 || res.Segments[1].Start != 1500*time.Millisecond || res.Segments[1].End != 2200*time.Millisecond {
		t.Errorf("segments = %+v", res.Segments)
	}
}

func TestTranscribe_NoResults(t *testing.T) {
	p := newProvider(func(context.Context, *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
		return &speechpb.RecognizeResponse{}, nil
	})
	res, err := p.Transcribe(context.Background(), make([]byte, 320), 16000)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if !res.Empty() {
		t.Errorf("Text = %q, want empty", res.Text)
	}
}

func TestTranscribe_RPCError(t *testing.T) {
	p := newProvider(func(context.Context, *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
		return nil, errTest
	})
	_, err := p.Transcribe(context.Background(), make([]byte, 320), 16000)
	if !errors.Is(err, errTest) {
		t.Fatalf("err = %v, want errTest", err)
	}
}

func TestTranscribe_EmptyAudioSkipsRPC(t *testing.T) {
	called := false
	p := newProvider(func(context.Context, *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
		called = true
		return &speechpb.RecognizeResponse{}, nil
	})
	if _, err := p.Transcribe(context.Background(), nil, 16000); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if called {
		t.Fatal("Recognize called for empty audio")
	}
}
