package caseapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"path/filepath"

	"github.com/pitabwire/vetdesk/model"
)

// UploadFile stores an attachment and returns its reference. Content larger
// than the configured upload limit is rejected before anything is sent.
func (s *SessionClient) UploadFile(ctx context.Context, filename, contentType string, content io.Reader) (model.Attachment, error) {
	name := filepath.Base(filename)
	if name == "." || name == string(filepath.Separator) || name == "" {
		return model.Attachment{}, model.NewValidationError([]model.FieldError{
			{Field: "file", Code: "REQUIRED", Message: "file name is required"},
		})
	}

	limit := s.c.maxUpload
	if limit <= 0 {
		limit = 20 << 20
	}
	data, err := io.ReadAll(io.LimitReader(content, limit+1))
	if err != nil {
		return model.Attachment{}, fmt.Errorf("caseapi: read upload: %w", err)
	}
	if int64(len(data)) > limit {
		return model.Attachment{}, model.NewValidationError([]model.FieldError{
			{Field: "file", Code: "TOO_LARGE", Message: fmt.Sprintf("file exceeds %d bytes", limit)},
		})
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return model.Attachment{}, fmt.Errorf("caseapi: build upload: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return model.Attachment{}, fmt.Errorf("caseapi: build upload: %w", err)
	}
	if err := w.Close(); err != nil {
		return model.Attachment{}, fmt.Errorf("caseapi: build upload: %w", err)
	}

	var out model.Attachment
	err = s.c.doJSON(ctx, request{
		op:          "uploadFile",
		body:        buf.Bytes(),
		contentType: w.FormDataContentType(),
		creds:       s.creds,
	}, nil, &out)
	return out, err
}
