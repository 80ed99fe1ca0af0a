package remote

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultMediaExt = "jpg"

// MediaObjectName returns "<unix-ms>_<random>.<ext>" for a local file.
// Uploads are namespaced under the owner, so the full object key is
// "<owner>/<name>".
func MediaObjectName(localPath string, now time.Time) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(localPath), "."))
	if ext == "" {
		ext = defaultMediaExt
	}

	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]

	return strconv.FormatInt(now.UnixMilli(), 10) + "_" + random + "." + ext
}

// MediaContentType guesses the content type from the object name.
func MediaContentType(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}

	return "image/jpeg"
}

type uploadResponse struct {
	URL string `json:"url"`
}

// UploadMedia stores data under namespace/name and returns its stable URL.
// It uses the transfer client and its longer timeout.
func (c *Client) UploadMedia(ctx context.Context, data []byte, namespace, name string) (string, error) {
	if namespace == "" {
		return "", fmt.Errorf("remote: upload of %s: empty namespace: %w", name, ErrBadRequest)
	}

	path := "/api/v1/media/" + url.PathEscape(namespace) + "?name=" + url.QueryEscape(name)

	resp, err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        path,
		contentType: MediaContentType(name),
		body:        data,
		transfer:    true,
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out uploadResponse
	if err := decodeBody(resp, &out); err != nil {
		return "", err
	}

	if out.URL == "" {
		return "", fmt.Errorf("remote: upload of %s returned no url: %w", name, ErrProtocol)
	}

	return out.URL, nil
}
