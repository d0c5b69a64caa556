package conversation_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/voice-twin/backend/internal/metrics"
	chatmodel "github.com/zhouzirui/voice-twin/backend/internal/model/chat"
	personamodel "github.com/zhouzirui/voice-twin/backend/internal/model/persona"
	speechmodel "github.com/zhouzirui/voice-twin/backend/internal/model/speech"
	"github.com/zhouzirui/voice-twin/backend/internal/service/ai"
	"github.com/zhouzirui/voice-twin/backend/internal/service/chat"
	"github.com/zhouzirui/voice-twin/backend/internal/service/conversation"
	"github.com/zhouzirui/voice-twin/backend/internal/service/speech"
	"github.com/zhouzirui/voice-twin/backend/internal/service/tempfile"
)

// echoTranscriber treats the uploaded bytes as the spoken words.
type echoTranscriber struct {
	mu    sync.Mutex
	paths []string
	fixed *speech.Transcript
	panic bool
}

func (e *echoTranscriber) Transcribe(_ context.Context, path string) speech.Transcript {
	e.mu.Lock()
	e.paths = append(e.paths, path)
	e.mu.Unlock()

	if e.panic {
		panic("decoder exploded")
	}
	if e.fixed != nil {
		return *e.fixed
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return speech.Transcript{Degradation: speech.DegradationSystemError, Cause: err}
	}
	return speech.Transcript{Text: string(data)}
}

type scriptedReasoner struct {
	mu      sync.Mutex
	prompts []ai.Prompt
	reply   func(ctx context.Context, p ai.Prompt) (string, error)
}

func (s *scriptedReasoner) Generate(ctx context.Context, p ai.Prompt) (string, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, p)
	s.mu.Unlock()
	return s.reply(ctx, p)
}

func (s *scriptedReasoner) lastPrompt() ai.Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompts[len(s.prompts)-1]
}

func jsonReply(_ context.Context, p ai.Prompt) (string, error) {
	out, _ := json.Marshal(map[string]string{
		"user_summary":  "asked: " + p.Query,
		"response_text": "answer to " + p.Query,
	})
	return string(out), nil
}

type fakeSynthesizer struct {
	mu    sync.Mutex
	texts []string
	fail  func(text string) error
}

func (f *fakeSynthesizer) Synthesize(_ context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error) {
	f.mu.Lock()
	f.texts = append(f.texts, req.Text)
	f.mu.Unlock()
	if f.fail != nil {
		if err := f.fail(req.Text); err != nil {
			return nil, err
		}
	}
	return &speechmodel.TTSResponse{AudioData: []byte("mp3:" + req.Text)}, nil
}

type harness struct {
	pipeline    *conversation.Pipeline
	sessions    *chat.Service
	transcriber *echoTranscriber
	reasoner    *scriptedReasoner
	synth       *fakeSynthesizer
	files       *tempfile.Manager
	dir         string
	registry    *prometheus.Registry
}

func newHarness(t *testing.T, mutate func(*conversation.Options)) *harness {
	t.Helper()
	h := &harness{
		sessions:    chat.NewService(chat.Options{}),
		transcriber: &echoTranscriber{},
		reasoner:    &scriptedReasoner{reply: jsonReply},
		synth:       &fakeSynthesizer{},
		dir:         t.TempDir(),
		registry:    prometheus.NewRegistry(),
	}
	h.files = tempfile.New(h.dir, "turn-", nil)

	opts := conversation.Options{
		Persona: personamodel.Document{
			RawText: "Ravi has built payment systems for ten years.",
			Summary: "=== CORE IDENTITY ===\nBackend engineer",
			Source:  personamodel.SourceGenerated,
		},
		Sessions:         h.sessions,
		Transcriber:      h.transcriber,
		Reasoner:         h.reasoner,
		Synthesizer:      h.synth,
		Files:            h.files,
		Metrics:          metrics.New(h.registry),
		Voice:            speech.DefaultVoice,
		ReasoningTimeout: time.Second,
		SynthesisTimeout: time.Second,
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.pipeline = conversation.New(opts)
	return h
}

func (h *harness) handle(t *testing.T, req conversation.Request) *conversation.Result {
	t.Helper()
	res, err := h.pipeline.Handle(context.Background(), req)
	require.NoError(t, err)
	return res
}

func (h *harness) dirEntries(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(h.dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func readAudio(t *testing.T, res *conversation.Result) string {
	t.Helper()
	data, err := os.ReadFile(res.AudioPath)
	require.NoError(t, err)
	return string(data)
}

func TestHandleSuccessfulTurn(t *testing.T) {
	h := newHarness(t, nil)

	res := h.handle(t, conversation.Request{
		SessionID:   "s1",
		Audio:       strings.NewReader("what do you work on"),
		ContentType: "audio/webm",
		UserName:    "Alice",
	})

	assert.Equal(t, conversation.OutcomeOK, res.Outcome)
	assert.Equal(t, conversation.ResponseFilename, res.Filename)
	assert.Equal(t, conversation.StageNone, res.Stage)
	assert.Equal(t, "answer to what do you work on", res.Reply.ResponseText)
	assert.Equal(t, "mp3:answer to what do you work on", readAudio(t, res))

	prompt := h.reasoner.lastPrompt()
	assert.Equal(t, "what do you work on", prompt.Query)
	assert.True(t, prompt.JSON)
	assert.Empty(t, prompt.History)
	assert.Contains(t, prompt.System, "You are speaking with: Alice")
	assert.Contains(t, prompt.System, "Ravi has built payment systems")

	history := h.sessions.Get("s1").History
	require.Len(t, history, 2)
	assert.Equal(t, chatmodel.Turn{Role: chatmodel.RoleUser, Text: "asked: what do you work on"}, history[0])
	assert.Equal(t, chatmodel.Turn{Role: chatmodel.RoleModel, Text: "answer to what do you work on"}, history[1])

	assert.Equal(t, []string{filepath.Base(res.AudioPath)}, h.dirEntries(t), "upload is removed, only the response remains")
	assert.True(t, strings.HasSuffix(h.transcriber.paths[0], ".webm"))
	assert.Equal(t, 1.0, pipelineCount(t, h, "ok", ""))
}

func TestHandleUsesWavSuffixForWavUploads(t *testing.T) {
	h := newHarness(t, nil)
	h.handle(t, conversation.Request{SessionID: "s1", Audio: strings.NewReader("hi"), ContentType: "audio/wav"})
	h.handle(t, conversation.Request{SessionID: "s1", Audio: strings.NewReader("hi"), ContentType: "audio/x-wav; codecs=1"})

	assert.True(t, strings.HasSuffix(h.transcriber.paths[0], ".wav"))
	assert.True(t, strings.HasSuffix(h.transcriber.paths[1], ".wav"))
}

func TestHandleGuestDisplayNameAndWindow(t *testing.T) {
	h := newHarness(t, nil)
	for i := 0; i < 10; i++ {
		h.sessions.AppendTurn("s1", fmt.Sprintf("u%d", i), fmt.Sprintf("m%d", i))
	}

	h.handle(t, conversation.Request{SessionID: "s1", Audio: strings.NewReader("next")})

	prompt := h.reasoner.lastPrompt()
	assert.Contains(t, prompt.System, "You are speaking with: Guest")
	require.Len(t, prompt.History, chatmodel.ContextWindow)
	assert.Equal(t, "u7", prompt.History[0].Text)
	assert.Equal(t, "m9", prompt.History[5].Text)
	assert.Len(t, h.sessions.Get("s1").History, 22)
}

func TestHandleFencedInvalidJSON(t *testing.T) {
	h := newHarness(t, nil)
	h.reasoner.reply = func(context.Context, ai.Prompt) (string, error) { return "```json\n{bad}\n```", nil }

	res := h.handle(t, conversation.Request{SessionID: "s1", Audio: strings.NewReader("hello")})

	assert.Equal(t, conversation.OutcomeOK, res.Outcome)
	assert.Equal(t, "{bad}", res.Reply.ResponseText)
	assert.True(t, res.Reply.Degraded)
	assert.Equal(t, "mp3:{bad}", readAudio(t, res))
	history := h.sessions.Get("s1").History
	require.Len(t, history, 2)
	assert.Equal(t, "hello", history[0].Text)
}

func TestHandleSystemErrorTranscriptStillAnswers(t *testing.T) {
	h := newHarness(t, nil)
	h.transcriber.fixed = &speech.Transcript{Degradation: speech.DegradationSystemError, Cause: errors.New("ffmpeg missing")}

	res := h.handle(t, conversation.Request{SessionID: "s1", Audio: strings.NewReader("???")})

	assert.Equal(t, conversation.OutcomeOK, res.Outcome)
	assert.Equal(t, "System Error", h.reasoner.lastPrompt().Query)
	assert.Equal(t, "mp3:answer to System Error", readAudio(t, res))
	assert.NotContains(t, h.synth.texts, conversation.ApologyText)
}

func TestHandleSynthesisFailureReturnsApology(t *testing.T) {
	h := newHarness(t, nil)
	h.synth.fail = func(text string) error {
		if text == conversation.ApologyText {
			return nil
		}
		return errors.New("tts quota exceeded")
	}

	res := h.handle(t, conversation.Request{SessionID: "s1", Audio: strings.NewReader("hello")})

	assert.Equal(t, conversation.OutcomeFallback, res.Outcome)
	assert.Equal(t, conversation.StageSynthesis, res.Stage)
	assert.Equal(t, conversation.ErrorFilename, res.Filename)
	assert.Equal(t, "mp3:"+conversation.ApologyText, readAudio(t, res))
	assert.ErrorContains(t, res.Err, "tts quota exceeded")
	assert.Len(t, h.sessions.Get("s1").History, 2, "the turn was committed before synthesis")
	assert.Len(t, h.dirEntries(t), 1, "upload removed on the failure path too")
	assert.Equal(t, 1.0, pipelineCount(t, h, "fallback", "synthesis"))
}

func TestHandleReasoningFailureLeavesHistoryUntouched(t *testing.T) {
	h := newHarness(t, nil)
	h.reasoner.reply = func(context.Context, ai.Prompt) (string, error) { return "", errors.New("503 from provider") }

	res := h.handle(t, conversation.Request{SessionID: "s1", Audio: strings.NewReader("hello")})

	assert.Equal(t, conversation.OutcomeFallback, res.Outcome)
	assert.Equal(t, conversation.StageReasoning, res.Stage)
	assert.Empty(t, h.sessions.Get("s1").History)
}

func TestHandleWithoutReasoner(t *testing.T) {
	h := newHarness(t, func(o *conversation.Options) { o.Reasoner = nil })

	res := h.handle(t, conversation.Request{SessionID: "s1", Audio: strings.NewReader("hello")})

	assert.Equal(t, conversation.OutcomeFallback, res.Outcome)
	assert.ErrorIs(t, res.Err, conversation.ErrNoReasoner)
}

func TestHandleReasoningTimeout(t *testing.T) {
	h := newHarness(t, func(o *conversation.Options) { o.ReasoningTimeout = 20 * time.Millisecond })
	h.reasoner.reply = func(ctx context.Context, _ ai.Prompt) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}

	res := h.handle(t, conversation.Request{SessionID: "s1", Audio: strings.NewReader("hello")})
	assert.Equal(t, conversation.StageReasoning, res.Stage)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
}

func TestHandleRecoversFromPanics(t *testing.T) {
	h := newHarness(t, nil)
	h.transcriber.panic = true

	res := h.handle(t, conversation.Request{SessionID: "s1", Audio: strings.NewReader("hello")})

	assert.Equal(t, conversation.OutcomeFallback, res.Outcome)
	assert.Equal(t, conversation.StageTranscribe, res.Stage)
	assert.ErrorContains(t, res.Err, "decoder exploded")
	assert.Len(t, h.dirEntries(t), 1)
}

func TestHandleReusesCachedApologyWhenSynthesisIsDown(t *testing.T) {
	h := newHarness(t, nil)
	h.reasoner.reply = func(context.Context, ai.Prompt) (string, error) { return "", errors.New("down") }

	first := h.handle(t, conversation.Request{SessionID: "s1", Audio: strings.NewReader("a")})
	require.Equal(t, conversation.OutcomeFallback, first.Outcome)

	h.synth.fail = func(string) error { return errors.New("tts down") }
	second := h.handle(t, conversation.Request{SessionID: "s1", Audio: strings.NewReader("b")})

	assert.Equal(t, conversation.OutcomeFallback, second.Outcome)
	assert.Equal(t, "mp3:"+conversation.ApologyText, readAudio(t, second))
}

func TestHandleFailsWhenNoApologyAvailable(t *testing.T) {
	h := newHarness(t, nil)
	h.synth.fail = func(string) error { return errors.New("tts down") }

	res, err := h.pipeline.Handle(context.Background(), conversation.Request{SessionID: "s1", Audio: strings.NewReader("a")})

	assert.Nil(t, res)
	require.Error(t, err)
	assert.ErrorContains(t, err, "tts down")
	assert.Empty(t, h.dirEntries(t))
}

func TestHandleRequiresSessionID(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.pipeline.Handle(context.Background(), conversation.Request{Audio: strings.NewReader("a")})
	assert.ErrorIs(t, err, chat.ErrSessionIDRequired)
	assert.Empty(t, h.transcriber.paths)
}

func TestHandleUpdatesProfileWithoutClearing(t *testing.T) {
	h := newHarness(t, nil)
	h.handle(t, conversation.Request{SessionID: "s1", Audio: strings.NewReader("a"), UserName: "Alice"})
	h.handle(t, conversation.Request{SessionID: "s1", Audio: strings.NewReader("b"), UserEmail: "a@x.com"})

	assert.Equal(t, chatmodel.Profile{Name: "Alice", Email: "a@x.com"}, h.sessions.Get("s1").Profile)
	assert.Contains(t, h.reasoner.lastPrompt().System, "You are speaking with: Alice")
}

func TestConcurrentTurnsOnOneSessionStayPaired(t *testing.T) {
	h := newHarness(t, func(o *conversation.Options) { o.MaxConcurrent = 4 })

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.pipeline.Handle(context.Background(), conversation.Request{
				SessionID: "shared",
				Audio:     strings.NewReader(fmt.Sprintf("q%d", i)),
			})
			if assert.NoError(t, err) {
				assert.Equal(t, conversation.OutcomeOK, res.Outcome)
			}
		}(i)
	}
	wg.Wait()

	history := h.sessions.Get("shared").History
	require.Len(t, history, 24)
	for i := 0; i < len(history); i += 2 {
		q := strings.TrimPrefix(history[i].Text, "asked: ")
		assert.Equal(t, "answer to "+q, history[i+1].Text)
	}
}

func TestReleaseRemovesResponseFile(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.files.Run(ctx)
		close(done)
	}()

	res := h.handle(t, conversation.Request{SessionID: "s1", Audio: strings.NewReader("a")})
	h.pipeline.Release(res)

	assert.Eventually(t, func() bool {
		_, err := os.Stat(res.AudioPath)
		return os.IsNotExist(err)
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func pipelineCount(t *testing.T, h *harness, outcome, stage string) float64 {
	t.Helper()
	families, err := h.registry.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != "voicetwin_pipeline_requests_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["outcome"] == outcome && labels["stage"] == stage {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}
