package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/url"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Content extracts text from a response body according to its media type.
// Bodies that are neither HTML, JSON nor PDF are passed through verbatim.
func (e *Extractor) Content(body []byte, contentType string) (string, error) {
	return e.ContentAt(body, contentType, nil)
}

// ContentAt is Content with the document URL, used for HTML pages.
func (e *Extractor) ContentAt(body []byte, contentType string, pageURL *url.URL) (string, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}

	switch {
	case strings.Contains(mediaType, "html"):
		return e.Page(string(body), pageURL), nil
	case strings.Contains(mediaType, "json"):
		var buf bytes.Buffer
		if err := json.Indent(&buf, bytes.TrimSpace(body), "", "  "); err != nil {
			return e.finish(string(body)), nil
		}
		return e.finish(buf.String()), nil
	case mediaType == "application/pdf":
		text, err := pdfText(body)
		if err != nil {
			return "", err
		}
		return e.finish(text), nil
	default:
		return e.finish(string(body)), nil
	}
}

func pdfText(body []byte) (text string, err error) {
	// The pdf reader panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reading pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	data, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return string(data), nil
}
