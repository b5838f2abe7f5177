package vision

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxImageBytes caps how much image data the fetcher will read. Larger
// resources are rejected rather than truncated.
const maxImageBytes = 10 << 20 // 10 MiB

// ErrFetchFailed is returned when the remote resource could not be retrieved.
// The alt-text endpoint maps it to 404, since the fetch is best effort.
var ErrFetchFailed = fmt.Errorf("vision: image fetch failed")

// Fetcher retrieves remote images for description. The zero value is not
// usable; create one with [NewFetcher].
type Fetcher struct {
	client *http.Client
}

// NewFetcher returns a Fetcher with a bounded request timeout. Pass a nil
// client to use a default one.
func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Fetcher{client: client}
}

// Fetch downloads the image at url and returns its bytes and MIME type.
// Non-2xx responses, non-image content, and oversized bodies all wrap
// [ErrFetchFailed].
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("%w: status %d", ErrFetchFailed, resp.StatusCode)
	}

	// Read one byte past the cap to detect oversize without buffering more.
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("%w: read body: %v", ErrFetchFailed, err)
	}
	if len(data) > maxImageBytes {
		return nil, "", fmt.Errorf("%w: resource exceeds %d bytes", ErrFetchFailed, maxImageBytes)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty body", ErrFetchFailed)
	}

	mimeType := resp.Header.Get("Content-Type")
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if !strings.HasPrefix(mimeType, "image/") {
		// Some servers omit or lie about Content-Type; sniff the bytes.
		mimeType = http.DetectContentType(data)
		if !strings.HasPrefix(mimeType, "image/") {
			return nil, "", fmt.Errorf("%w: not an image (%s)", ErrFetchFailed, mimeType)
		}
	}

	return data, mimeType, nil
}
