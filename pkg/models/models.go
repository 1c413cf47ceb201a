package models

import (
	"errors"
	"slices"
	"strings"
)

var (
	ErrEmptyPrompt      = errors.New("prompt cannot be empty")
	ErrNoImageReference = errors.New("image has neither data nor URL")
)

// DefaultModel is requested when the caller does not pick one.
const DefaultModel = "gemini-3.0-pro"

// InvalidModelFallback is the single-hop retry target when the service
// rejects the requested model.
const InvalidModelFallback = "gemini-2.5-flash"

// PlaceholderFallbacks are tried, in order, when a response carries an
// image placeholder but no structured image payload. Kept separate from
// InvalidModelFallback on purpose: the two recovery paths are independent.
func PlaceholderFallbacks() FallbackPlan {
	return FallbackPlan{"gemini-2.5-flash", "gemini-2.5-pro"}
}

// FallbackPlan is an ordered, deduplicated list of model names consumed
// front to back.
type FallbackPlan []string

// Skip returns the plan without any entry equal to model, preserving order
// and dropping duplicates.
func (p FallbackPlan) Skip(model string) FallbackPlan {
	out := make(FallbackPlan, 0, len(p))
	for _, m := range p {
		if m == model || slices.Contains(out, m) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Operation distinguishes the request shapes the dispatcher knows.
type Operation string

const (
	OpGenerate Operation = "generate"
	OpEdit     Operation = "edit"
)

// Request is one generation or edit call. It is never mutated after
// construction; retrying with another model goes through WithModel.
type Request struct {
	Prompt    string
	Files     []string
	EditImage string
	Model     string
	WantImage bool
}

func NewRequest(prompt string) *Request {
	return &Request{
		Prompt: prompt,
		Model:  DefaultModel,
	}
}

func (r *Request) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return ErrEmptyPrompt
	}
	return nil
}

// Operation reports which dispatch shape the request takes.
func (r *Request) Operation() Operation {
	if r.EditImage != "" {
		return OpEdit
	}
	return OpGenerate
}

// WithModel returns a copy of the request targeting another model.
func (r *Request) WithModel(model string) *Request {
	clone := *r
	clone.Files = slices.Clone(r.Files)
	clone.Model = model
	return &clone
}

// Envelope is the result of one dispatch round-trip.
type Envelope struct {
	Text     string
	Thoughts string
	Images   []GeneratedImage
	Model    string

	// RawBody is the captured StreamGenerate wire body. It feeds
	// diagnostics and the raw-scan artifact tier only; the structured
	// fields above never depend on it.
	RawBody string

	// Metadata carries the conversational context (cid, rid, rcid) so a
	// follow-up message lands in the same chat.
	Metadata ChatMetadata
}

// ChatMetadata identifies a server-side conversation.
type ChatMetadata struct {
	CID  string
	RID  string
	RCID string
}

func (m ChatMetadata) IsZero() bool {
	return m.CID == "" && m.RID == "" && m.RCID == ""
}

// GeneratedImage is one image reference from an envelope, or one
// reconstructed from a raw-scan URL.
type GeneratedImage struct {
	URL   string
	Title string
	Data  []byte
}

func (g *GeneratedImage) Validate() error {
	if len(g.Data) == 0 && g.URL == "" {
		return ErrNoImageReference
	}
	return nil
}

// ModelInfo describes one model the web endpoint accepts, with the
// request header value that selects it.
type ModelInfo struct {
	Name       string
	HeaderJSPB string
}

// KnownModels maps model names the CLI accepts to their wire headers.
// Unknown names are still forwarded; the service decides.
func KnownModels() []ModelInfo {
	return []ModelInfo{
		{Name: "gemini-3.0-pro", HeaderJSPB: `[1,null,null,null,"9d60dcc8c5f54d21"]`},
		{Name: "gemini-2.5-pro", HeaderJSPB: `[1,null,null,null,"2525e3954d185b3c"]`},
		{Name: "gemini-2.5-flash", HeaderJSPB: `[1,null,null,null,"71c2d248d3b102ff"]`},
	}
}

// HeaderForModel returns the selection header for a known model, or the
// empty string when the model has no dedicated header.
func HeaderForModel(name string) string {
	for _, m := range KnownModels() {
		if m.Name == name {
			return m.HeaderJSPB
		}
	}
	return ""
}

func ModelNames() []string {
	known := KnownModels()
	names := make([]string, 0, len(known))
	for _, m := range known {
		names = append(names, m.Name)
	}
	return names
}
