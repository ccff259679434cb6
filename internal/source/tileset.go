package source

import (
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/MeKo-Tech/tilescene/internal/tileindex"
)

// Decoder turns fetched content bytes into a payload. Sub-tileset JSON is
// handled before the decoder runs.
type Decoder func(uri string, data []byte) (Payload, error)

func decodeContent(uri string, data []byte, dec Decoder) (Payload, error) {
	if tileindex.IsTilesetURI(uri) {
		ts, err := tileindex.ParseTileset(data)
		if err != nil {
			// A malformed tileset will not parse better on retry.
			return nil, Permanent(err)
		}
		return &SubTileset{Tileset: ts, BaseURL: uri}, nil
	}
	if dec == nil {
		return nil, PermanentErrorf("no decoder for %s", uri)
	}
	return dec(uri, data)
}

// Static serves tile content from memory: raw bytes keyed by URI, or
// ready-made payloads. It backs tests and the simulate CLI.
type Static struct {
	mu       sync.Mutex
	raw      map[string][]byte
	payloads map[string]Payload
	errs     map[string]error
	decoder  Decoder
	// Calls counts GetData invocations per URI.
	calls map[string]int
}

// NewStatic creates an empty in-memory source.
func NewStatic(decoder Decoder) *Static {
	return &Static{
		raw:      make(map[string][]byte),
		payloads: make(map[string]Payload),
		errs:     make(map[string]error),
		decoder:  decoder,
		calls:    make(map[string]int),
	}
}

// AddRaw registers content bytes under uri.
func (s *Static) AddRaw(uri string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw[uri] = data
}

// AddPayload registers a ready payload under uri.
func (s *Static) AddPayload(uri string, p Payload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads[uri] = p
}

// Fail makes uri reject with err.
func (s *Static) Fail(uri string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[uri] = err
}

// Calls reports how often uri was requested.
func (s *Static) Calls(uri string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[uri]
}

// GetData serves the registered content for req.URI.
func (s *Static) GetData(ctx context.Context, req Request) (Payload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.calls[req.URI]++
	err, failed := s.errs[req.URI]
	p, hasPayload := s.payloads[req.URI]
	data, hasRaw := s.raw[req.URI]
	s.mu.Unlock()

	if failed {
		return nil, err
	}
	if hasPayload {
		return p, nil
	}
	if hasRaw {
		return decodeContent(req.URI, data, s.decoder)
	}
	return nil, PermanentErrorf("no content registered for %s", req.URI)
}

// HTTPTilesetConfig configures an HTTP-backed tileset source.
type HTTPTilesetConfig struct {
	// Client defaults to http.DefaultClient.
	Client *http.Client
	// Decoder parses binary tile content; nil rejects binary payloads.
	Decoder Decoder
}

// HTTPTileset fetches 3D Tiles content over HTTP. 4xx responses are
// permanent, everything else transient.
type HTTPTileset struct {
	client  *http.Client
	decoder Decoder
}

// NewHTTPTileset creates the source.
func NewHTTPTileset(cfg HTTPTilesetConfig) *HTTPTileset {
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	return &HTTPTileset{client: cfg.Client, decoder: cfg.Decoder}
}

// GetData fetches req.URI and decodes it.
func (h *HTTPTileset) GetData(ctx context.Context, req Request) (Payload, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URI, nil)
	if err != nil {
		return nil, Permanent(eris.Wrapf(err, "build request for %s", req.URI))
	}
	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, eris.Wrapf(err, "fetch %s", req.URI)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, PermanentErrorf("fetch %s: http %d", req.URI, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("fetch %s: http %d", req.URI, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrapf(err, "read %s", req.URI)
	}
	return decodeContent(req.URI, data, h.decoder)
}
