package gemini

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/mzahmed/gemweb/pkg/models"
)

// streamFrameTag marks the frame of a chunked response that carries the
// actual payload.
const streamFrameTag = "wrb.fr"

// parseEnvelope turns a raw StreamGenerate body into a structured envelope.
// The wire shape is inconsistent between accounts and rollouts, so every
// lookup is positional and optional except the candidate list itself.
func parseEnvelope(raw string) (*models.Envelope, error) {
	bodyStr := extractPayload(raw)
	if bodyStr == "" {
		return nil, fmt.Errorf("%w: invalid response data received", ErrDispatchFailed)
	}

	body := gjson.Parse(bodyStr)
	candidates := body.Get(pathCandList).Array()
	if len(candidates) == 0 {
		detail := body.Get(pathErrorDetail).String()
		if detail != "" && strings.Contains(strings.ToLower(detail), "model") {
			return nil, fmt.Errorf("%w: %s", ErrModelInvalid, detail)
		}
		return nil, fmt.Errorf("%w: invalid response data received", ErrDispatchFailed)
	}

	cand := candidates[0]
	text := cand.Get(pathCandText).String()
	if text == "" {
		text = cand.Get(pathCandTextAlt).String()
	}

	env := &models.Envelope{
		Text:     text,
		Thoughts: cand.Get(pathCandThoughts).String(),
		RawBody:  raw,
		Metadata: models.ChatMetadata{
			CID:  body.Get(pathMetadataCID).String(),
			RID:  body.Get(pathMetadataRID).String(),
			RCID: cand.Get(pathCandRCID).String(),
		},
	}

	for _, img := range cand.Get(pathCandImages).Array() {
		url := img.Get(pathImgURL).String()
		if url == "" {
			continue
		}
		env.Images = append(env.Images, models.GeneratedImage{
			URL:   url,
			Title: img.Get(pathImgTitle).String(),
		})
	}
	return env, nil
}

// extractPayload finds the wrb.fr frame in a chunked anti-JSON body
// (")]}'" prefix, length lines between JSON lines) and returns the inner
// payload string. Empty means no payload frame was found.
func extractPayload(raw string) string {
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "[") || !gjson.Valid(line) {
			continue
		}
		for _, frame := range gjson.Parse(line).Array() {
			if frame.Get("0").String() != streamFrameTag {
				continue
			}
			payload := frame.Get("2").String()
			if payload != "" && gjson.Valid(payload) {
				return payload
			}
		}
	}
	return ""
}
