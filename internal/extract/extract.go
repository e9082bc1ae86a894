// Package extract turns document payloads into plain text.
package extract

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// ErrUnsupportedContentType is returned for MIME types that cannot be
// turned into text.
var ErrUnsupportedContentType = errors.New("unsupported content type")

// Transcriber reads text out of binary documents such as PDFs and images.
type Transcriber interface {
	Transcribe(ctx context.Context, data []byte, mimeType string) (string, error)
}

// Fetcher loads document bytes stored out of band.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// Service decodes base64 payloads and extracts their text.
type Service struct {
	transcriber Transcriber
	fetchers    map[string]Fetcher
	log         zerolog.Logger
}

// NewService creates a Service. transcriber may be nil, in which case PDFs
// and images are rejected as unsupported.
func NewService(transcriber Transcriber, log zerolog.Logger) *Service {
	return &Service{
		transcriber: transcriber,
		fetchers:    make(map[string]Fetcher),
		log:         log.With().Str("component", "extract").Logger(),
	}
}

// RegisterFetcher makes uris with the given scheme ("gs", "file")
// resolvable through Fetch.
func (s *Service) RegisterFetcher(scheme string, f Fetcher) {
	s.fetchers[strings.ToLower(scheme)] = f
}

// Decode decodes standard base64 content and extracts its text.
func (s *Service) Decode(ctx context.Context, rawB64, contentType string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(rawB64))
	if err != nil {
		return "", fmt.Errorf("Decode: invalid base64 content: %w", err)
	}
	return s.Extract(ctx, data, contentType)
}

// Extract returns the text of data according to its MIME type.
func (s *Service) Extract(ctx context.Context, data []byte, contentType string) (string, error) {
	mediaType := normalizeContentType(contentType)

	switch {
	case mediaType == "text/plain" || mediaType == "text/csv":
		text := string(data)
		if !utf8.ValidString(text) {
			s.log.Warn().Str("content_type", mediaType).Msg("Content is not valid UTF-8, replacing invalid bytes")
			text = strings.ToValidUTF8(text, "\uFFFD")
		}
		return strings.TrimPrefix(text, "\ufeff"), nil

	case mediaType == "application/pdf" || strings.HasPrefix(mediaType, "image/"):
		if s.transcriber == nil {
			return "", fmt.Errorf("Extract: %w: %s (no transcriber configured)", ErrUnsupportedContentType, mediaType)
		}
		if len(data) == 0 {
			return "", nil
		}
		text, err := s.transcriber.Transcribe(ctx, data, mediaType)
		if err != nil {
			return "", fmt.Errorf("Extract: transcribe %s: %w", mediaType, err)
		}
		return text, nil

	default:
		return "", fmt.Errorf("Extract: %w: %q", ErrUnsupportedContentType, contentType)
	}
}

// Fetch loads the bytes behind uri using the fetcher registered for its
// scheme.
func (s *Service) Fetch(ctx context.Context, uri string) ([]byte, error) {
	scheme, _, ok := strings.Cut(uri, "://")
	if !ok {
		return nil, fmt.Errorf("Fetch: invalid content URI %q", uri)
	}
	f, ok := s.fetchers[strings.ToLower(scheme)]
	if !ok {
		return nil, fmt.Errorf("Fetch: no fetcher for scheme %q", scheme)
	}
	data, err := f.Fetch(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("Fetch: %w", err)
	}
	s.log.Debug().
		Str("scheme", scheme).
		Str("filename", FilenameFromURI(uri)).
		Int("bytes", len(data)).
		Msg("Fetched document content")
	return data, nil
}

func normalizeContentType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mediaType
}
