package httpapi

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/kunal/embedserve/pkg/core"
)

// parseInferRequest extracts the image file (required, content-type
// must begin with "image/") and optional text field from a multipart
// /infer request, per spec.md §6.
func parseInferRequest(w http.ResponseWriter, r *http.Request, maxBytes int64) (core.Payload, error) {
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}

	if err := r.ParseMultipartForm(maxBytes); err != nil {
		return core.Payload{}, fmt.Errorf("invalid multipart body: %w", err)
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		return core.Payload{}, fmt.Errorf("missing required 'image' file: %w", err)
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return core.Payload{}, fmt.Errorf("invalid content-type %q: must begin with image/", contentType)
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return core.Payload{}, fmt.Errorf("failed to read image data: %w", err)
	}

	text := formValue(r.MultipartForm, "text")

	return core.Payload{
		Image: core.Image{Bytes: data, ContentType: contentType},
		Text:  text,
	}, nil
}

func formValue(form *multipart.Form, key string) string {
	if form == nil {
		return ""
	}
	values := form.Value[key]
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
