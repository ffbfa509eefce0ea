package semantic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"
)

const (
	describePrompt = `Listen to this track and describe its structure as JSON.
Return a "timeline" of sections covering the whole track, each with
"s" and "e" timestamps formatted MM:SS.d, a "type" from intro, verse,
pre-chorus, chorus, bridge, outro, instrumental, breakdown, a
"has_vocals" flag, and a "desc" of at most 40 characters. Also return
up to 10 loopable spans under "loops" with "s", "e", and "text".`

	maxAttempts = 3

	baseBackoff = time.Second

	// File processing polls every 2 s for up to 30 attempts.
	filePollInterval = 2 * time.Second
	filePollAttempts = 30
)

// Gemini talks to the Gemini API. Credentials come as a rotation list;
// quota exhaustion advances to the next key.
type Gemini struct {
	keys   []string
	keyIdx int
	model  string
	client *genai.Client
	logger *slog.Logger
}

// NewGemini creates the provider with the first credential.
func NewGemini(ctx context.Context, keys []string, model string, logger *slog.Logger) (*Gemini, error) {
	if len(keys) == 0 {
		return nil, &Unavailable{Reason: "no credentials configured"}
	}
	g := &Gemini{keys: keys, model: model, logger: logger}
	if err := g.connect(ctx); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Gemini) connect(ctx context.Context) error {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  g.keys[g.keyIdx],
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return &Unavailable{Reason: "client init failed", Err: err}
	}
	g.client = client
	return nil
}

// rotate advances to the next credential, wrapping around.
func (g *Gemini) rotate(ctx context.Context) error {
	g.keyIdx = (g.keyIdx + 1) % len(g.keys)
	g.logger.Warn("semantic quota exhausted, rotating credential", "key_index", g.keyIdx)
	return g.connect(ctx)
}

// Describe requests a timeline document, retrying with exponential
// backoff. Overload doubles the wait; quota exhaustion rotates the
// credential.
func (g *Gemini) Describe(ctx context.Context, req Request) (*Document, error) {
	wait := baseBackoff
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		doc, err := g.describeOnce(ctx, req)
		if err == nil {
			return doc, nil
		}
		lastErr = err

		var timeout *Timeout
		if errors.As(err, &timeout) || ctx.Err() != nil {
			return nil, err
		}

		switch classify(err) {
		case failureQuota:
			if rerr := g.rotate(ctx); rerr != nil {
				return nil, rerr
			}
		case failureOverloaded:
			wait *= 2
		}

		if attempt < maxAttempts {
			g.logger.Debug("semantic attempt failed, backing off",
				"track", req.Name, "attempt", attempt, "wait", wait, "error", err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
			wait *= 2
		}
	}

	return nil, &Unavailable{Reason: fmt.Sprintf("gave up after %d attempts", maxAttempts), Err: lastErr}
}

func (g *Gemini) describeOnce(ctx context.Context, req Request) (*Document, error) {
	audioPart, err := g.audioPart(ctx, req)
	if err != nil {
		return nil, err
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(describePrompt),
			audioPart,
		}, genai.RoleUser),
	}

	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   documentSchema(),
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil ||
		len(result.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("empty response")
	}

	text := result.Candidates[0].Content.Parts[0].Text
	var doc Document
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return &doc, nil
}

// audioPart inlines small payloads and uploads the rest through the
// file API, polling until processing finishes.
func (g *Gemini) audioPart(ctx context.Context, req Request) (*genai.Part, error) {
	if len(req.Data) <= maxInlineBytes {
		return genai.NewPartFromBytes(req.Data, req.MIME), nil
	}

	file, err := g.client.Files.Upload(ctx, bytes.NewReader(req.Data), &genai.UploadFileConfig{
		MIMEType: req.MIME,
	})
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}

	for attempt := 0; file.State == genai.FileStateProcessing; attempt++ {
		if attempt >= filePollAttempts {
			return nil, &Timeout{Reason: "file processing exceeded deadline"}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(filePollInterval):
		}
		file, err = g.client.Files.Get(ctx, file.Name, nil)
		if err != nil {
			return nil, fmt.Errorf("poll upload: %w", err)
		}
	}
	if file.State != genai.FileStateActive {
		return nil, fmt.Errorf("upload ended in state %v", file.State)
	}

	return genai.NewPartFromURI(file.URI, file.MIMEType), nil
}

func documentSchema() *genai.Schema {
	segment := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"s":          {Type: genai.TypeString},
			"e":          {Type: genai.TypeString},
			"type":       {Type: genai.TypeString},
			"has_vocals": {Type: genai.TypeBoolean},
			"desc":       {Type: genai.TypeString},
		},
		Required: []string{"s", "e", "type", "has_vocals"},
	}
	loop := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"s":    {Type: genai.TypeString},
			"e":    {Type: genai.TypeString},
			"text": {Type: genai.TypeString},
		},
		Required: []string{"s", "e"},
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"timeline": {Type: genai.TypeArray, Items: segment},
			"loops":    {Type: genai.TypeArray, Items: loop},
		},
		Required: []string{"timeline"},
	}
}

type failureClass int

const (
	failureOther failureClass = iota
	failureQuota
	failureOverloaded
)

// classify maps collaborator failures onto the retry policy.
func classify(err error) failureClass {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 429:
			return failureQuota
		case 503:
			return failureOverloaded
		}
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "resource_exhausted") || strings.Contains(msg, "quota"):
		return failureQuota
	case strings.Contains(msg, "unavailable") || strings.Contains(msg, "overloaded"):
		return failureOverloaded
	}
	return failureOther
}
