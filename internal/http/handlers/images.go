// Image upload endpoint.
//
// POST /upload-image accepts {"dataUrl": "data:image/...;base64,..."} or
// {"url": "https://..."} (remote fetch-and-store). Both absent or invalid
// is a 400. The stored image is served from the local /images static path.
package handlers

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/storefront-labs/go-catalog-sync/internal/blobstore"
	"github.com/storefront-labs/go-catalog-sync/internal/http/middleware"
)

// maxRemoteImageBytes caps what the fetch-and-store path will download.
const maxRemoteImageBytes = 10 << 20

var uploadHTTP = &http.Client{Timeout: 30 * time.Second}

// UploadImageRequest is the upload payload; exactly one field is needed.
type UploadImageRequest struct {
	DataURL string `json:"dataUrl"`
	URL     string `json:"url"`
}

// UploadImage persists the image and returns its locally-served URL.
func (h *Handlers) UploadImage(c *gin.Context) {
	var req UploadImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	switch {
	case strings.HasPrefix(req.DataURL, "data:"):
		ref := h.images.Persist(req.DataURL)
		if ref == req.DataURL {
			// Persist degrades to the original input on decode failure.
			fail(c, http.StatusBadRequest, ErrCodeUploadFailed, "undecodable image data")
			return
		}
		ok(c, http.StatusOK, gin.H{"success": true, "url": h.images.Resolve(ref)})

	case strings.HasPrefix(req.URL, "http://") || strings.HasPrefix(req.URL, "https://"):
		dataURL, err := fetchAsDataURL(req.URL)
		if err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Str("url", req.URL).Msg("remote image fetch failed")
			fail(c, http.StatusBadRequest, ErrCodeUploadFailed, "could not fetch remote image")
			return
		}
		ref := h.images.Persist(dataURL)
		if ref == dataURL {
			fail(c, http.StatusBadRequest, ErrCodeUploadFailed, "remote content is not an image")
			return
		}
		ok(c, http.StatusOK, gin.H{"success": true, "url": h.images.Resolve(ref)})

	default:
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "dataUrl or url is required")
	}
}

// fetchAsDataURL downloads a remote image and re-encodes it as a data URI
// so the blobstore's one ingestion path handles both upload forms.
func fetchAsDataURL(url string) (string, error) {
	resp, err := uploadHTTP.Get(url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errStatus(resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteImageBytes))
	if err != nil {
		return "", err
	}
	mime := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(mime, "image/") {
		mime = http.DetectContentType(raw)
	}
	if !strings.HasPrefix(mime, "image/") {
		return "", errStatus(http.StatusUnsupportedMediaType)
	}
	return blobstore.EncodeDataURL(mime, raw), nil
}

type errStatus int

func (e errStatus) Error() string { return http.StatusText(int(e)) }
