package remote

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"

	"github.com/tonimelisma/recipevault/internal/recipe"
)

// Extraction is a structured recipe recovered from a URL or an image. The
// draft may be partial; Text holds raw OCR output when the service returned
// it.
type Extraction struct {
	Draft *recipe.Draft
	Text  string
}

// ExtractFromURL asks the service to parse the recipe page at pageURL. The
// draft's SourceURL defaults to pageURL.
func (c *Client) ExtractFromURL(ctx context.Context, pageURL string) (*Extraction, error) {
	var resp extractionResponse

	err := c.doTransferJSON(ctx, http.MethodPost, "/api/v1/parse-url/", map[string]string{"url": pageURL}, &resp)
	if err != nil {
		return nil, err
	}

	d := resp.toDraft()
	if d.SourceURL == "" {
		d.SourceURL = pageURL
	}

	return &Extraction{Draft: d, Text: resp.Text}, nil
}

// OCRMethod selects the service's recognizer. The zero value leaves the
// choice to the server.
type OCRMethod string

const (
	OCRDefault   OCRMethod = ""
	OCRVision    OCRMethod = "vision"
	OCRHybrid    OCRMethod = "hybrid"
	OCRTesseract OCRMethod = "tesseract"
)

// ParseOCRMethod validates a user-supplied method name.
func ParseOCRMethod(s string) (OCRMethod, error) {
	switch m := OCRMethod(s); m {
	case OCRDefault, OCRVision, OCRHybrid, OCRTesseract:
		return m, nil
	default:
		return "", fmt.Errorf("remote: unknown ocr method %q (want vision, hybrid or tesseract)", s)
	}
}

// ExtractFromImage uploads an image as multipart form data, runs OCR on it
// with method and returns the recognized recipe.
func (c *Client) ExtractFromImage(ctx context.Context, data []byte, filename string, method OCRMethod) (*Extraction, error) {
	path := "/api/v1/ocr/"
	if method != OCRDefault {
		path += "?" + url.Values{"method": {string(method)}}.Encode()
	}

	var buf bytes.Buffer

	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return nil, fmt.Errorf("remote: building ocr request: %w", err)
	}

	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("remote: building ocr request: %w", err)
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("remote: building ocr request: %w", err)
	}

	resp, err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        path,
		contentType: mw.FormDataContentType(),
		body:        buf.Bytes(),
		transfer:    true,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out extractionResponse
	if err := decodeBody(resp, &out); err != nil {
		return nil, err
	}

	return &Extraction{Draft: out.toDraft(), Text: out.Text}, nil
}

func (c *Client) doTransferJSON(ctx context.Context, method, path string, in, out any) error {
	data, err := jsonBody(in)
	if err != nil {
		return err
	}

	resp, err := c.do(ctx, request{
		method:      method,
		path:        path,
		contentType: "application/json",
		body:        data,
		transfer:    true,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return decodeBody(resp, out)
}
