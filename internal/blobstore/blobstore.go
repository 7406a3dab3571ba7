// Package blobstore converts image inputs (base64 data URIs, temp-file
// handles, plain URLs) into opaque blob references safe to embed in product
// records, and resolves those references back to renderable paths on demand.
//
// References use the form <scheme>:<hash>. "blob:" points at the durable
// content-addressed store; "tmp:" marks a session-only temp file that gets
// adopted into durable storage on persist. Anything else (http URLs,
// absolute paths) passes through untouched.
//
// Nothing in this package returns an error to its caller for malformed
// input: a broken reference degrades to the original input or to the
// placeholder path, because a missing image is recoverable and a thrown
// error is not.
package blobstore

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// SchemeDurable prefixes references into the durable local blob store.
	SchemeDurable = "blob:"
	// SchemeTemp prefixes session-only temp-file handles.
	SchemeTemp = "tmp:"
	// Placeholder is the renderable path returned when a reference cannot
	// be resolved (unknown hash, disabled store).
	Placeholder = "/images/placeholder.svg"
)

var extByMIME = map[string]string{
	"image/png":     ".png",
	"image/jpeg":    ".jpg",
	"image/jpg":     ".jpg",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/svg+xml": ".svg",
}

// Store is the durable blob reference store. The zero value is not usable;
// construct with New. Safe for concurrent use.
//
// Blob entries are never reference-counted or garbage-collected when the
// product pointing at them is deleted; orphaned blobs accumulate until the
// directory is cleared out of band. Content addressing makes entries
// shareable, which makes deletion unsafe without a reference count.
type Store struct {
	dir      string // "" means the store is disabled
	mu       sync.RWMutex
	resolved map[string]string // ref -> renderable path, process lifetime
	lg       zerolog.Logger
}

// New creates the blob directory if needed and returns a Store. A directory
// that cannot be created yields a disabled store whose Resolve always
// degrades to the placeholder; products still display, images do not.
func New(dir string) *Store {
	s := &Store{
		resolved: make(map[string]string),
		lg:       log.With().Str("component", "blobstore").Logger(),
	}
	if dir == "" {
		s.lg.Warn().Msg("no blob directory configured, store disabled")
		return s
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.lg.Warn().Err(err).Str("dir", dir).Msg("blob directory unavailable, store disabled")
		return s
	}
	s.dir = dir
	return s
}

// Persist converts an image input into something safe to keep in a record.
//
//   - plain URLs and absolute paths return unchanged,
//   - data URIs are decoded and stored under their content hash,
//   - tmp: handles are adopted into durable storage,
//   - already-durable blob: references return unchanged.
//
// Decode failure returns the input unchanged and logs; Persist never fails.
func (s *Store) Persist(input string) string {
	input = strings.TrimSpace(input)
	switch {
	case input == "":
		return input
	case strings.HasPrefix(input, SchemeDurable):
		return input
	case strings.HasPrefix(input, "data:"):
		return s.persistDataURI(input)
	case strings.HasPrefix(input, SchemeTemp):
		return s.adoptTemp(input)
	default:
		// Remote URL, absolute path, or something we do not recognize:
		// already renderable as far as this store is concerned.
		return input
	}
}

// PersistAll applies Persist to each element, preserving order and count.
// A failed element degrades to its original input; nothing is dropped.
func (s *Store) PersistAll(inputs []string) []string {
	out := make([]string, len(inputs))
	for i, in := range inputs {
		out[i] = s.Persist(in)
	}
	return out
}

// Resolve turns a reference back into a renderable path. Durable references
// resolve through the content store (cached for the life of the process);
// an unknown hash or a disabled store yields the placeholder. References
// that are not a recognized scheme return unchanged.
func (s *Store) Resolve(ref string) string {
	if !strings.HasPrefix(ref, SchemeDurable) {
		if strings.HasPrefix(ref, SchemeTemp) {
			// Session handle that never got persisted; nothing to serve.
			return Placeholder
		}
		return ref
	}

	s.mu.RLock()
	cached, ok := s.resolved[ref]
	s.mu.RUnlock()
	if ok {
		return cached
	}

	path := s.lookup(strings.TrimPrefix(ref, SchemeDurable))
	s.mu.Lock()
	// Re-check after the store lookup: another caller may have resolved the
	// same reference while we were reading disk.
	if existing, ok := s.resolved[ref]; ok {
		path = existing
	} else {
		s.resolved[ref] = path
	}
	s.mu.Unlock()
	return path
}

// ResolveAll applies Resolve to each element, preserving order and count.
func (s *Store) ResolveAll(refs []string) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = s.Resolve(r)
	}
	return out
}

// ServePath maps a renderable "/images/<file>" path back to the on-disk
// location, for the static file handler. Returns false for anything that is
// not a durable blob path.
func (s *Store) ServePath(urlPath string) (string, bool) {
	if s.dir == "" || !strings.HasPrefix(urlPath, "/images/") {
		return "", false
	}
	name := filepath.Base(strings.TrimPrefix(urlPath, "/images/"))
	full := filepath.Join(s.dir, name)
	if _, err := os.Stat(full); err != nil {
		return "", false
	}
	return full, true
}

// Dir exposes the blob directory ("" when disabled) so the HTTP layer can
// mount it as a static route.
func (s *Store) Dir() string { return s.dir }

func (s *Store) persistDataURI(uri string) string {
	mime, data, ok := decodeDataURI(uri)
	if !ok {
		s.lg.Warn().Str("prefix", truncate(uri, 48)).Msg("undecodable data URI, keeping original input")
		return uri
	}
	if s.dir == "" {
		return uri
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	ext := extByMIME[mime]
	if ext == "" {
		ext = ".bin"
	}
	full := filepath.Join(s.dir, hash+ext)
	if _, err := os.Stat(full); err != nil {
		if err := os.WriteFile(full, data, 0o644); err != nil {
			s.lg.Warn().Err(err).Msg("blob write failed, keeping original input")
			return uri
		}
	}
	ref := SchemeDurable + hash + ext
	s.mu.Lock()
	s.resolved[ref] = "/images/" + hash + ext
	s.mu.Unlock()
	return ref
}

func (s *Store) adoptTemp(ref string) string {
	path := strings.TrimPrefix(ref, SchemeTemp)
	data, err := os.ReadFile(path)
	if err != nil {
		s.lg.Warn().Err(err).Str("ref", ref).Msg("temp blob unreadable, keeping original input")
		return ref
	}
	if s.dir == "" {
		return ref
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	ext := filepath.Ext(path)
	if ext == "" {
		ext = ".bin"
	}
	full := filepath.Join(s.dir, hash+ext)
	if _, statErr := os.Stat(full); statErr != nil {
		if err := os.WriteFile(full, data, 0o644); err != nil {
			s.lg.Warn().Err(err).Msg("blob write failed, keeping original input")
			return ref
		}
	}
	out := SchemeDurable + hash + ext
	s.mu.Lock()
	s.resolved[out] = "/images/" + hash + ext
	s.mu.Unlock()
	return out
}

// lookup finds the stored file for a hash (hash may already carry its
// extension). Returns the placeholder when the content is gone.
func (s *Store) lookup(hash string) string {
	if s.dir == "" || hash == "" {
		return Placeholder
	}
	if filepath.Ext(hash) != "" {
		if _, err := os.Stat(filepath.Join(s.dir, hash)); err == nil {
			return "/images/" + hash
		}
		return Placeholder
	}
	matches, _ := filepath.Glob(filepath.Join(s.dir, hash+".*"))
	if len(matches) == 0 {
		return Placeholder
	}
	return "/images/" + filepath.Base(matches[0])
}

// EncodeDataURL builds a base64 data URI for raw bytes, the inverse of
// what Persist decodes.
func EncodeDataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// decodeDataURI splits "data:<mime>;base64,<payload>" and decodes the
// payload. Returns ok=false for anything that does not fit that shape.
func decodeDataURI(uri string) (mime string, data []byte, ok bool) {
	rest, found := strings.CutPrefix(uri, "data:")
	if !found {
		return "", nil, false
	}
	meta, payload, found := strings.Cut(rest, ",")
	if !found || payload == "" {
		return "", nil, false
	}
	if !strings.HasSuffix(meta, ";base64") {
		return "", nil, false
	}
	mime = strings.TrimSuffix(meta, ";base64")
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, false
	}
	return mime, decoded, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
