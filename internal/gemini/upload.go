package gemini

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// uploadRef identifies a file pushed to the attachment endpoint.
type uploadRef struct {
	ID   string
	Name string
}

func (d *Dispatcher) uploadAll(ctx context.Context, paths []string) ([]uploadRef, error) {
	refs := make([]uploadRef, 0, len(paths))
	for _, path := range paths {
		ref, err := d.uploadFile(ctx, path)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// uploadFile pushes one local file to the content-push endpoint. The
// response body is the opaque attachment identifier referenced from the
// generation payload.
func (d *Dispatcher) uploadFile(ctx context.Context, path string) (uploadRef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return uploadRef{}, fmt.Errorf("%w: read attachment %s: %v", ErrDispatchFailed, path, err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return uploadRef{}, fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}
	if _, err := part.Write(data); err != nil {
		return uploadRef{}, fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}
	if err := writer.Close(); err != nil {
		return uploadRef{}, fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.uploadURL, &body)
	if err != nil {
		return uploadRef{}, fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Push-ID", uploadPushID)
	req.Header.Set("User-Agent", userAgent)

	resp, err := d.sess.client.Do(req)
	if err != nil {
		return uploadRef{}, fmt.Errorf("%w: upload %s: %v", ErrDispatchFailed, path, err)
	}
	defer resp.Body.Close()

	idBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxBootstrapBody))
	if err != nil {
		return uploadRef{}, fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		return uploadRef{}, fmt.Errorf("%w: upload %s: status %d", ErrDispatchFailed, path, resp.StatusCode)
	}

	id := strings.TrimSpace(string(idBytes))
	if id == "" {
		return uploadRef{}, fmt.Errorf("%w: upload %s: empty identifier", ErrDispatchFailed, path)
	}
	return uploadRef{ID: id, Name: filepath.Base(path)}, nil
}
