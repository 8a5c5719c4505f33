// ABOUTME: Image reply delivery: download, temporary artifact, upload, cleanup
// ABOUTME: The temporary file is always removed, whatever the upload outcome

package relay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
)

// maxArtifactName bounds the prompt-derived part of temp file names.
const maxArtifactName = 32

// deliverImage uploads the image at url into the conversation. Upload
// failures are logged and swallowed; no substitute message is sent.
func (r *Relay) deliverImage(ctx context.Context, logger *slog.Logger, to Target, title, url string) error {
	path, err := r.download(ctx, url, title)
	if err != nil {
		return fmt.Errorf("downloading image: %w", err)
	}
	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn("failed to remove image artifact", "path", path, "error", err)
		}
	}()

	if err := r.messenger.UploadFile(ctx, to, path, title); err != nil {
		r.opts.Metrics.IncUpload("failed")
		logger.Error("image upload failed", "path", path, "error", err)
		return nil
	}

	r.opts.Metrics.IncUpload("ok")
	logger.Info("image uploaded", "title", truncate(title, 80))
	return nil
}

// download stores the body at url in a new file under the temp dir and
// returns its path. Nothing is left behind on failure.
func (r *Relay) download(ctx context.Context, url, title string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := r.fetcher.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("image host returned status %d", resp.StatusCode)
	}

	f, err := os.CreateTemp(r.opts.TempDir, artifactName(title)+"-*"+extensionFor(resp.Header.Get("Content-Type")))
	if err != nil {
		return "", fmt.Errorf("creating artifact: %w", err)
	}

	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("writing artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("closing artifact: %w", err)
	}

	return f.Name(), nil
}

// artifactName derives a short filesystem-safe name from a prompt.
// Example: "A cat, riding a bike!" -> a-cat-riding-a-bike
func artifactName(title string) string {
	var b strings.Builder
	dash := false
	for _, c := range strings.ToLower(title) {
		if b.Len() >= maxArtifactName {
			break
		}
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			b.WriteRune(c)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}

	name := strings.Trim(b.String(), "-")
	if name == "" {
		return "image"
	}
	return name
}

func extensionFor(contentType string) string {
	switch strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]) {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}
