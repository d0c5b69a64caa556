// Package persona builds the persona document once at startup.
package persona

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	model "github.com/zhouzirui/voice-twin/backend/internal/model/persona"
	"github.com/zhouzirui/voice-twin/backend/internal/service/ai"
)

// Loader resolves the persona document and its summary.
type Loader struct {
	DocumentPath string
	Cache        SummaryCache
	// Reasoner may be nil when no reasoning provider is configured.
	Reasoner ai.Reasoner
	Timeout  time.Duration
	Logger   *zap.Logger
}

// Load returns the persona document. It never fails: every problem degrades
// to one of the fixed fallback summaries recorded in Document.Source.
func (l *Loader) Load(ctx context.Context) model.Document {
	log := l.logger()

	data, err := os.ReadFile(l.DocumentPath)
	if errors.Is(err, os.ErrNotExist) {
		log.Info("persona document not found, using default persona", zap.String("path", l.DocumentPath))
		return model.Document{RawText: model.DefaultRawText, Summary: model.DefaultSummary, Source: model.SourceDefault}
	}
	if err != nil {
		log.Error("persona load error", zap.String("path", l.DocumentPath), zap.Error(err))
		return model.Document{RawText: model.LoadErrorRawText, Summary: model.LoadErrorSummary, Source: model.SourceLoadError}
	}
	raw := string(data)

	if doc, ok := l.warmStart(ctx, raw); ok {
		return doc
	}
	return l.coldStart(ctx, raw)
}

// warmStart reuses a cached summary verbatim. The cache is not validated
// against the document: editing the document requires deleting the cache.
func (l *Loader) warmStart(ctx context.Context, raw string) (model.Document, bool) {
	if l.Cache == nil {
		return model.Document{}, false
	}

	summary, ok, err := l.Cache.Get(ctx)
	if err != nil {
		l.logger().Warn("persona summary cache unreadable, regenerating", zap.Error(err))
		return model.Document{}, false
	}
	if !ok {
		return model.Document{}, false
	}

	l.logger().Info("loaded persona summary from cache")
	return model.Document{RawText: raw, Summary: summary, Source: model.SourceCache}, true
}

// coldStart generates the summary once and caches it when generation succeeded.
func (l *Loader) coldStart(ctx context.Context, raw string) model.Document {
	log := l.logger()

	if l.Reasoner == nil {
		log.Warn("no reasoning provider configured, persona summary not generated")
		return model.Document{RawText: raw, Summary: model.NoReasonerSummary, Source: model.SourceNoReasoner}
	}

	log.Info("generating persona summary")
	doc := model.Document{RawText: raw, Summary: l.generate(ctx, raw), Source: model.SourceGenerated}
	if strings.Contains(doc.Summary, model.GenerationFailedMarker) {
		doc.Source = model.SourceFallback
	}

	if doc.Cacheable() && l.Cache != nil {
		if err := l.Cache.Put(ctx, doc.Summary); err != nil {
			log.Error("failed to write persona summary cache", zap.Error(err))
		}
	}
	return doc
}

func (l *Loader) generate(ctx context.Context, raw string) string {
	if l.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.Timeout)
		defer cancel()
	}

	summary, err := l.Reasoner.Generate(ctx, ai.Prompt{Query: ai.SummaryPrompt(raw)})
	if err != nil {
		l.logger().Error("persona summary generation failed", zap.Error(err))
		return model.FallbackSummary
	}
	return summary
}

func (l *Loader) logger() *zap.Logger {
	if l.Logger == nil {
		return zap.NewNop()
	}
	return l.Logger.With(zap.String("component", "persona"))
}
