package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sloppy/codeshield/internal/llm"
	"github.com/sloppy/codeshield/internal/model"
	"github.com/sloppy/codeshield/internal/progress"
)

const (
	// FalsePositiveThreshold is the confidence a "not a true positive" verdict
	// must exceed before a finding is reclassified.
	FalsePositiveThreshold = 0.8

	DefaultCallTimeout = 120 * time.Second
)

const systemPrompt = `You are CodeShield, an expert Application Security Engineer.
Your task is to analyze code vulnerabilities with high precision.
You must output ONLY valid JSON.
Do not include markdown formatting like ` + "```json." + `
`

// Generator is the subset of the LLM client used for verification.
type Generator interface {
	Available(ctx context.Context) error
	Generate(ctx context.Context, req llm.GenerateRequest) (string, error)
}

// FindingStore persists findings changed by verification.
type FindingStore interface {
	UpdateFinding(f model.Finding) error
}

type Verifier struct {
	gen         Generator
	store       FindingStore
	log         *zap.SugaredLogger
	callTimeout time.Duration
}

type VerifierOption func(*Verifier)

func WithFindingStore(store FindingStore) VerifierOption {
	return func(v *Verifier) { v.store = store }
}

func WithCallTimeout(d time.Duration) VerifierOption {
	return func(v *Verifier) {
		if d > 0 {
			v.callTimeout = d
		}
	}
}

func WithLogger(log *zap.SugaredLogger) VerifierOption {
	return func(v *Verifier) {
		if log != nil {
			v.log = log
		}
	}
}

func NewVerifier(gen Generator, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		gen:         gen,
		log:         zap.NewNop().Sugar(),
		callTimeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// VerifyOptions carries the per-scan AI settings.
type VerifyOptions struct {
	Model       string
	Concurrency int
}

// Summary counts what a verification run did.
type Summary struct {
	Available      bool
	Processed      int
	Verified       int
	Skipped        int
	Failed         int
	FalsePositives int
}

// Verdict is the structured answer expected from the model.
type Verdict struct {
	IsTruePositive bool    `json:"isTruePositive"`
	Confidence     float64 `json:"confidence"`
	RiskAnalysis   string  `json:"riskAnalysis"`
	FixSuggestion  string  `json:"fixSuggestion"`
	Reasoning      string  `json:"reasoning"`
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeFailed
	outcomeVerified
)

// Verify asks the model to judge each finding and mutates the findings in
// place. Batches of opts.Concurrency run concurrently; batches run in order.
// An unreachable model server makes the whole call a no-op. Per-finding
// failures leave that finding unchanged. The sink receives the running
// processed count after every finding.
func (v *Verifier) Verify(ctx context.Context, findings []*model.Finding, opts VerifyOptions, sink progress.Sink) (Summary, error) {
	sink = progress.OrNoop(sink)
	var sum Summary
	if len(findings) == 0 {
		return sum, nil
	}
	if err := v.gen.Available(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return sum, ctxErr
		}
		v.log.Warnw("llm unavailable, skipping ai verification", "error", err)
		return sum, nil
	}
	sum.Available = true

	batchSize := opts.Concurrency
	if batchSize < 1 {
		batchSize = 1
	}
	modelName := strings.TrimSpace(opts.Model)
	if modelName == "" {
		modelName = model.DefaultModel
	}

	var (
		mu       sync.Mutex
		storeErr error
	)
	total := len(findings)
	for start := 0; start < total; start += batchSize {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		end := start + batchSize
		if end > total {
			end = total
		}

		var wg sync.WaitGroup
		for _, f := range findings[start:end] {
			wg.Add(1)
			go func(f *model.Finding) {
				defer wg.Done()
				res, err := v.verifyGuarded(ctx, modelName, f)

				mu.Lock()
				defer mu.Unlock()
				sum.Processed++
				switch res {
				case outcomeSkipped:
					sum.Skipped++
				case outcomeFailed:
					sum.Failed++
				case outcomeVerified:
					sum.Verified++
					if f.Status == model.FindingFalsePositive {
						sum.FalsePositives++
					}
				}
				if err != nil && storeErr == nil {
					storeErr = err
				}
				sink.Report(progress.Update{
					Stage:   model.StageAI,
					Current: sum.Processed,
					Total:   total,
					File:    f.File,
					Message: fmt.Sprintf("AI verification %d/%d", sum.Processed, total),
				})
			}(f)
		}
		wg.Wait()

		if storeErr != nil {
			return sum, storeErr
		}
	}
	return sum, ctx.Err()
}

// verifyGuarded contains a panic in one call so it fails that finding only.
func (v *Verifier) verifyGuarded(ctx context.Context, modelName string, f *model.Finding) (res outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			v.log.Errorw("ai verification panicked", "finding", f.ID, "file", f.File, "panic", r)
			res, err = outcomeFailed, nil
		}
	}()
	return v.verifyOne(ctx, modelName, f)
}

// verifyOne returns a non-nil error only when persisting the result failed.
func (v *Verifier) verifyOne(ctx context.Context, modelName string, f *model.Finding) (outcome, error) {
	if f.Type == model.FindingAI {
		return outcomeSkipped, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, v.callTimeout)
	defer cancel()
	raw, err := v.gen.Generate(callCtx, llm.GenerateRequest{
		Model:  modelName,
		System: systemPrompt,
		Prompt: BuildPrompt(*f),
		Format: "json",
	})
	if err != nil {
		v.log.Warnw("ai verification call failed", "finding", f.ID, "file", f.File, "error", err)
		return outcomeFailed, nil
	}
	verdict, err := ParseVerdict(raw)
	if err != nil {
		v.log.Warnw("unparseable ai verdict", "finding", f.ID, "error", err)
		return outcomeFailed, nil
	}

	updated := *f
	ApplyVerdict(&updated, verdict)
	if v.store != nil {
		if err := v.store.UpdateFinding(updated); err != nil {
			return outcomeFailed, fmt.Errorf("persist verified finding %s: %w", f.ID, err)
		}
	}
	*f = updated
	return outcomeVerified, nil
}

// ApplyVerdict merges a parsed verdict into f.
func ApplyVerdict(f *model.Finding, v Verdict) {
	conf := v.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	if s := strings.TrimSpace(v.RiskAnalysis); s != "" {
		f.Risk = s
	}
	if s := strings.TrimSpace(v.FixSuggestion); s != "" {
		f.Fix = s
	}
	f.Confidence = conf
	f.Type = model.FindingAI
	if !v.IsTruePositive && conf > FalsePositiveThreshold {
		f.Status = model.FindingFalsePositive
	}
}

// BuildPrompt renders the analysis request for one finding.
func BuildPrompt(f model.Finding) string {
	var b strings.Builder
	b.WriteString("Analyze the following potential security vulnerability detected by static analysis.\n\n")
	fmt.Fprintf(&b, "VULNERABILITY: %s\n", f.Vulnerability)
	fmt.Fprintf(&b, "FILE: %s\n", f.File)
	fmt.Fprintf(&b, "SEVERITY: %s\n\n", f.Severity)
	b.WriteString("CODE CONTEXT:\n")
	b.WriteString(f.Code)
	b.WriteString("\n\nTASK:\n")
	b.WriteString("1. Determine if this is a True Positive (actual vulnerability) or False Positive.\n")
	b.WriteString("2. Explain the risk concisely.\n")
	b.WriteString("3. Provide a fixed version of the code snippet.\n\n")
	b.WriteString("OUTPUT FORMAT (JSON):\n")
	b.WriteString(`{
  "isTruePositive": boolean,
  "confidence": number between 0.0 and 1.0,
  "riskAnalysis": "string",
  "fixSuggestion": "the fixed code snippet only",
  "reasoning": "why it is a true or false positive"
}`)
	b.WriteString("\n")
	return b.String()
}

// ParseVerdict decodes a model response, tolerating markdown fences and
// text around the JSON object.
func ParseVerdict(raw string) (Verdict, error) {
	payload, err := extractJSONObject(raw)
	if err != nil {
		return Verdict{}, err
	}
	var v Verdict
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		return Verdict{}, fmt.Errorf("decode verdict: %w", err)
	}
	return v, nil
}

func extractJSONObject(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.ReplaceAll(raw, "```json", "")
	raw = strings.ReplaceAll(raw, "```", "")
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("empty response")
	}
	if json.Valid([]byte(raw)) {
		return raw, nil
	}
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return "", errors.New("no json object in response")
	}
	return raw[start : end+1], nil
}
