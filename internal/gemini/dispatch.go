package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mzahmed/gemweb/pkg/models"
)

const maxResponseBody = 64 * 1024 * 1024

// editLeadIn is the first message of the two-call edit shape; it pins the
// base image into a fresh conversation before the edit instruction.
const editLeadIn = "Here is an image to edit"

// Dispatcher issues generation and edit calls over an established session
// and applies the single-hop model-fallback policy.
type Dispatcher struct {
	sess *Session
	log  zerolog.Logger

	fallbackModel string

	// lastRawBody holds the raw body of the most recent StreamGenerate
	// response, successful or not. One slot, last write wins; read only
	// for diagnostics and error classification.
	lastRawBody string

	generateURL string
	uploadURL   string
}

func NewDispatcher(sess *Session, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		sess:          sess,
		log:           log,
		fallbackModel: models.InvalidModelFallback,
		generateURL:   endpointGenerate,
		uploadURL:     endpointUpload,
	}
}

// LastRawBody returns the raw body captured from the most recent
// generation call, for diagnostic scanning.
func (d *Dispatcher) LastRawBody() string {
	return d.lastRawBody
}

// Dispatch runs one request through its shape and returns the envelope.
// When the service rejects the requested model, the same shape is retried
// once with the designated fallback model; a second rejection propagates.
func (d *Dispatcher) Dispatch(ctx context.Context, req *models.Request) (*models.Envelope, error) {
	env, err := d.dispatchShape(ctx, req, req.Model)
	if err == nil {
		return env, nil
	}
	if !errors.Is(err, ErrModelInvalid) || req.Model == d.fallbackModel {
		return nil, err
	}

	d.log.Warn().
		Str("model", req.Model).
		Str("fallback", d.fallbackModel).
		Msg("model not available, retrying with fallback")
	return d.dispatchShape(ctx, req, d.fallbackModel)
}

func (d *Dispatcher) dispatchShape(ctx context.Context, req *models.Request, model string) (*models.Envelope, error) {
	switch {
	case req.EditImage != "":
		return d.dispatchEdit(ctx, req, model)
	case len(req.Files) > 0:
		uploads, err := d.uploadAll(ctx, req.Files)
		if err != nil {
			return nil, err
		}
		return d.send(ctx, model, req.Prompt, uploads, models.ChatMetadata{})
	default:
		return d.send(ctx, model, req.Prompt, nil, models.ChatMetadata{})
	}
}

// dispatchEdit establishes the base image with an attachment-only message,
// then instructs the edit in the same conversation.
func (d *Dispatcher) dispatchEdit(ctx context.Context, req *models.Request, model string) (*models.Envelope, error) {
	uploads, err := d.uploadAll(ctx, []string{req.EditImage})
	if err != nil {
		return nil, err
	}

	lead, err := d.send(ctx, model, editLeadIn, uploads, models.ChatMetadata{})
	if err != nil {
		return nil, err
	}

	editPrompt := EditPrompt(req.Prompt)
	env, err := d.send(ctx, model, editPrompt, nil, lead.Metadata)
	if err != nil {
		return nil, err
	}
	return env, nil
}

// EditPrompt derives the effective second-call prompt of the edit shape.
// Deriving it here keeps retries byte-identical to the first attempt.
func EditPrompt(prompt string) string {
	return "Use image generation tool to " + prompt
}

func (d *Dispatcher) send(ctx context.Context, model, prompt string, uploads []uploadRef, meta models.ChatMetadata) (*models.Envelope, error) {
	payload, err := buildPayload(prompt, uploads, meta)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}

	form := url.Values{
		"f.req": {payload},
		"at":    {d.sess.AccessToken()},
	}

	reqURL := d.generateURL + "?" + generateQuery().Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}
	for k, v := range geminiHeaders() {
		if k == "Host" {
			continue
		}
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=UTF-8")
	httpReq.Header.Set("Cookie", d.sess.CookieHeader())
	if header := models.HeaderForModel(model); header != "" {
		httpReq.Header.Set(modelHeaderName, header)
	}

	resp, err := d.sess.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}
	d.lastRawBody = string(raw)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrDispatchFailed, resp.StatusCode)
	}

	env, err := parseEnvelope(d.lastRawBody)
	if err != nil {
		return nil, err
	}
	env.Model = model
	return env, nil
}

// buildPayload assembles the f.req form field: a doubly-encoded positional
// array of prompt, attachments, and conversation metadata.
func buildPayload(prompt string, uploads []uploadRef, meta models.ChatMetadata) (string, error) {
	fileParts := make([]any, 0, len(uploads))
	for _, u := range uploads {
		fileParts = append(fileParts, []any{[]any{u.ID}, u.Name})
	}

	message := []any{prompt, 0, nil, fileParts}

	var metaPart any
	if !meta.IsZero() {
		metaPart = []any{meta.CID, meta.RID, meta.RCID}
	}

	inner, err := json.Marshal([]any{message, nil, metaPart})
	if err != nil {
		return "", err
	}
	outer, err := json.Marshal([]any{nil, string(inner)})
	if err != nil {
		return "", err
	}
	return string(outer), nil
}

func generateQuery() url.Values {
	return url.Values{
		"bl":     {"boq_assistant-bard-web-server_20250814.07_p0"},
		"_reqid": {strconv.Itoa(100000 + rand.Intn(900000))},
		"rt":     {"c"},
	}
}
