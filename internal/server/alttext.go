package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/MrWong99/echorelay/internal/observe"
	"github.com/MrWong99/echorelay/internal/relay"
	"github.com/MrWong99/echorelay/internal/vision"
)

// maxAltTextBody bounds the alt-text request body, sized for a base64-encoded
// image of up to roughly 10 MiB.
const maxAltTextBody = 16 << 20

// altTextRequest is the body of a POST /v1/alt-text request. Exactly one of
// URL or Image must be set.
type altTextRequest struct {
	// URL points at a publicly reachable image to fetch and describe.
	URL string `json:"image_url,omitempty"`

	// Image is base64-encoded inline image data.
	Image string `json:"image,omitempty"`

	// MimeType identifies inline image data, e.g. "image/png". Required with
	// Image.
	MimeType string `json:"mime_type,omitempty"`
}

// altTextResponse is the success body of POST /v1/alt-text.
type altTextResponse struct {
	AltText string `json:"alt_text"`
}

// handleAltText describes an image with the configured vision provider and
// returns the generated alt text.
func (s *Server) handleAltText(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	defer func() {
		s.metrics.RecordAltText(r.Context(), strconv.Itoa(status))
	}()

	if s.describer == nil {
		status = http.StatusServiceUnavailable
		writeError(w, status, "unavailable", "no vision provider configured")
		return
	}

	var req altTextRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxAltTextBody))
	if err := dec.Decode(&req); err != nil {
		status = http.StatusBadRequest
		writeError(w, status, relay.Kind(relay.ErrBadRequest),
			fmt.Sprintf("decode request: %v", err))
		return
	}

	data, mimeType, err := s.resolveImage(r, &req)
	if err != nil {
		if errors.Is(err, vision.ErrFetchFailed) {
			status = http.StatusNotFound
		} else {
			status = http.StatusBadRequest
		}
		writeError(w, status, relay.Kind(relay.ErrBadRequest), err.Error())
		return
	}

	altText, err := s.describer.Describe(r.Context(), data, mimeType)
	if err != nil {
		observe.Logger(r.Context()).Error("alt text generation failed", "err", err)
		status = http.StatusInternalServerError
		writeError(w, status, relay.Kind(relay.ErrUpstreamError), "alt text generation failed")
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(altTextResponse{AltText: altText})
}

// resolveImage turns the request into image bytes and a MIME type, fetching
// remote URLs through the server's fetcher.
func (s *Server) resolveImage(r *http.Request, req *altTextRequest) ([]byte, string, error) {
	switch {
	case req.URL != "" && req.Image != "":
		return nil, "", errors.New("image_url and image are mutually exclusive")
	case req.URL != "":
		return s.fetcher.Fetch(r.Context(), req.URL)
	case req.Image != "":
		if !strings.HasPrefix(req.MimeType, "image/") {
			return nil, "", errors.New("mime_type must be an image/* type")
		}
		data, err := base64.StdEncoding.DecodeString(req.Image)
		if err != nil {
			return nil, "", fmt.Errorf("decode image: %w", err)
		}
		if len(data) == 0 {
			return nil, "", errors.New("image is empty")
		}
		return data, req.MimeType, nil
	default:
		return nil, "", errors.New("either image_url or image is required")
	}
}
