// Package conversation runs one voice turn: audio in, persona-grounded spoken reply out.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/zhouzirui/voice-twin/backend/internal/metrics"
	chatmodel "github.com/zhouzirui/voice-twin/backend/internal/model/chat"
	personamodel "github.com/zhouzirui/voice-twin/backend/internal/model/persona"
	speechmodel "github.com/zhouzirui/voice-twin/backend/internal/model/speech"
	"github.com/zhouzirui/voice-twin/backend/internal/service/ai"
	"github.com/zhouzirui/voice-twin/backend/internal/service/chat"
	"github.com/zhouzirui/voice-twin/backend/internal/service/speech"
	"github.com/zhouzirui/voice-twin/backend/internal/service/tempfile"
)

// ApologyText is spoken whenever a turn cannot be completed.
const ApologyText = "I apologize, I'm having a little trouble connecting right now. Please try again."

// Response file names offered to the client.
const (
	ResponseFilename = "response.mp3"
	ErrorFilename    = "error.mp3"
)

// ErrNoReasoner fails the reasoning stage when no provider is configured.
var ErrNoReasoner = errors.New("no reasoning provider configured")

// Stage names a pipeline step for failure reporting.
type Stage string

const (
	StageNone       Stage = ""
	StageIngest     Stage = "ingest"
	StageTranscribe Stage = "transcribe"
	StageReasoning  Stage = "reasoning"
	StageCommit     Stage = "commit"
	StageSynthesis  Stage = "synthesis"
)

// Outcome tells a substantive answer apart from the apology.
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeFallback Outcome = "fallback"
)

// SessionStore is the subset of the session service used by a turn.
type SessionStore interface {
	Get(id string) chatmodel.Session
	Window(id string, n int) []chatmodel.Turn
	AppendTurn(id, userText, modelText string)
	UpdateProfile(id, name, email string)
	Lock(id string) (unlock func())
}

// Transcriber turns an audio file into a transcript. It never fails.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) speech.Transcript
}

// Request is one uploaded utterance.
type Request struct {
	SessionID   string
	Audio       io.Reader
	ContentType string
	UserName    string
	UserEmail   string
}

// Result points at the mp3 to send back. The caller must hand it to Release
// once the body has been written.
type Result struct {
	AudioPath  string
	Filename   string
	Outcome    Outcome
	Stage      Stage
	Transcript speech.Transcript
	Reply      ai.Reply
	Err        error
}

// Options wires the pipeline's collaborators.
type Options struct {
	Persona     personamodel.Document
	Sessions    SessionStore
	Transcriber Transcriber
	// Reasoner may be nil; every turn then ends in the apology.
	Reasoner    ai.Reasoner
	Synthesizer speech.Synthesizer
	Files       *tempfile.Manager
	Metrics     *metrics.Collector
	Logger      *zap.Logger

	Voice            string
	ReasoningTimeout time.Duration
	SynthesisTimeout time.Duration
	MaxConcurrent    int64
}

// Pipeline executes voice turns.
type Pipeline struct {
	opts   Options
	sem    *semaphore.Weighted
	logger *zap.Logger

	apologyMu sync.RWMutex
	apology   []byte
}

// New builds a pipeline. MaxConcurrent <= 0 means 16.
func New(opts Options) *Pipeline {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 16
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		opts:   opts,
		sem:    semaphore.NewWeighted(opts.MaxConcurrent),
		logger: logger.With(zap.String("component", "conversation")),
	}
}

// Persona returns the document the pipeline role-plays.
func (p *Pipeline) Persona() personamodel.Document {
	return p.opts.Persona
}

// Handle runs one turn. Failures inside the turn produce the apology clip with
// OutcomeFallback; an error is returned only when not even the apology could
// be produced.
func (p *Pipeline) Handle(ctx context.Context, req Request) (*Result, error) {
	if req.SessionID == "" {
		return nil, chat.ErrSessionIDRequired
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for pipeline slot: %w", err)
	}
	defer p.sem.Release(1)

	t := &turn{Pipeline: p, req: req}
	res, err := t.run(ctx)
	if err == nil {
		p.opts.Metrics.ObservePipeline(string(OutcomeOK), string(StageNone))
		return res, nil
	}

	p.logger.Error("voice turn failed",
		zap.String("session_id", req.SessionID),
		zap.String("stage", string(t.stage)),
		zap.Error(err),
	)
	return p.fallback(ctx, t, err)
}

// Release schedules removal of the result's audio file.
func (p *Pipeline) Release(res *Result) {
	if res != nil {
		p.opts.Files.Defer(res.AudioPath)
	}
}

// turn carries the state of one Handle call.
type turn struct {
	*Pipeline
	req        Request
	stage      Stage
	transcript speech.Transcript
	reply      ai.Reply
}

func (t *turn) run(ctx context.Context) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	t.stage = StageIngest
	inPath, err := t.opts.Files.Create(inputSuffix(t.req.ContentType), t.req.Audio)
	if err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}
	defer t.opts.Files.Remove(inPath)

	if t.req.UserName != "" || t.req.UserEmail != "" {
		t.opts.Sessions.UpdateProfile(t.req.SessionID, t.req.UserName, t.req.UserEmail)
	}

	t.stage = StageTranscribe
	started := time.Now()
	t.transcript = t.opts.Transcriber.Transcribe(ctx, inPath)
	t.opts.Metrics.ObserveStage(string(StageTranscribe), time.Since(started))
	t.opts.Metrics.ObserveTranscript(t.transcript.Degradation.String())

	if err := t.converse(ctx); err != nil {
		return nil, err
	}

	t.stage = StageSynthesis
	outPath, err := t.speak(ctx, t.reply.ResponseText)
	if err != nil {
		return nil, err
	}

	return &Result{
		AudioPath:  outPath,
		Filename:   ResponseFilename,
		Outcome:    OutcomeOK,
		Transcript: t.transcript,
		Reply:      t.reply,
	}, nil
}

// converse holds the session lock from reading the window until the new turn
// pair is committed.
func (t *turn) converse(ctx context.Context) error {
	id := t.req.SessionID
	unlock := t.opts.Sessions.Lock(id)
	defer unlock()

	t.stage = StageReasoning
	if t.opts.Reasoner == nil {
		return ErrNoReasoner
	}

	session := t.opts.Sessions.Get(id)
	query := t.transcript.String()
	prompt := ai.Prompt{
		System:  ai.BuildSystemInstruction(t.opts.Persona, session.Profile.DisplayName()),
		History: t.opts.Sessions.Window(id, chatmodel.ContextWindow),
		Query:   query,
		JSON:    true,
	}

	rctx, cancel := withTimeout(ctx, t.opts.ReasoningTimeout)
	defer cancel()

	started := time.Now()
	raw, err := t.opts.Reasoner.Generate(rctx, prompt)
	t.opts.Metrics.ObserveStage(string(StageReasoning), time.Since(started))
	if err != nil {
		return fmt.Errorf("reasoning: %w", err)
	}

	t.reply = ai.ParseReply(raw, query)
	if t.reply.Degraded {
		t.logger.Warn("model output was not json, using raw text",
			zap.String("session_id", id))
	}

	t.stage = StageCommit
	t.opts.Sessions.AppendTurn(id, t.reply.UserSummary, t.reply.ResponseText)
	return nil
}

// speak synthesizes text into a new temp mp3.
func (t *turn) speak(ctx context.Context, text string) (string, error) {
	audio, err := t.synthesize(ctx, t.req.SessionID, text)
	if err != nil {
		return "", err
	}
	path, err := t.opts.Files.Write(".mp3", audio)
	if err != nil {
		return "", fmt.Errorf("store synthesized audio: %w", err)
	}
	return path, nil
}

func (p *Pipeline) synthesize(ctx context.Context, sessionID, text string) ([]byte, error) {
	if p.opts.Synthesizer == nil {
		return nil, errors.New("no synthesizer configured")
	}

	sctx, cancel := withTimeout(ctx, p.opts.SynthesisTimeout)
	defer cancel()

	started := time.Now()
	resp, err := p.opts.Synthesizer.Synthesize(sctx, &speechmodel.TTSRequest{
		SessionID: sessionID,
		Text:      text,
		Voice:     p.opts.Voice,
		Format:    "mp3",
	})
	p.opts.Metrics.ObserveStage(string(StageSynthesis), time.Since(started))
	if err != nil {
		return nil, fmt.Errorf("synthesis: %w", err)
	}
	if len(resp.AudioData) == 0 {
		return nil, errors.New("synthesis returned no audio")
	}
	return resp.AudioData, nil
}

// fallback answers with the apology clip, reusing the last good one when the
// synthesizer itself is down.
func (p *Pipeline) fallback(ctx context.Context, t *turn, cause error) (*Result, error) {
	audio, err := p.synthesize(ctx, t.req.SessionID, ApologyText)
	if err == nil {
		p.apologyMu.Lock()
		p.apology = audio
		p.apologyMu.Unlock()
	} else {
		p.apologyMu.RLock()
		audio = p.apology
		p.apologyMu.RUnlock()
		if audio == nil {
			return nil, fmt.Errorf("apology unavailable (%v) after %s failure: %w", err, t.stage, cause)
		}
		p.logger.Warn("apology synthesis failed, serving cached clip", zap.Error(err))
	}

	path, err := p.opts.Files.Write(".mp3", audio)
	if err != nil {
		return nil, fmt.Errorf("store apology audio: %w", err)
	}

	p.opts.Metrics.ObservePipeline(string(OutcomeFallback), string(t.stage))
	return &Result{
		AudioPath:  path,
		Filename:   ErrorFilename,
		Outcome:    OutcomeFallback,
		Stage:      t.stage,
		Transcript: t.transcript,
		Reply:      t.reply,
		Err:        cause,
	}, nil
}

// inputSuffix only hints the transcriber's fast path.
func inputSuffix(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	switch mediaType {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	default:
		return ".webm"
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
