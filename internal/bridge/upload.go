package bridge

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/RandomWilder/Covenantrix-2.0/internal/servicectl"
)

// UploadDocument streams a file to the engine's multipart upload route with
// the folder routing identifier. It is the one operation that differs from
// the generic call path: multipart encoding and the long upload ceiling.
func (c *Client) UploadDocument(ctx context.Context, filePath, folderID string) Result {
	if !c.ready() {
		return Result{Success: false, Code: servicectl.CodeNotReady, Message: "engine connection not established"}
	}
	if strings.TrimSpace(folderID) == "" {
		folderID = defaultFolderID
	}

	f, err := os.Open(filePath)
	if err != nil {
		return failure(0, "could not open file for upload", err)
	}
	defer func() { _ = f.Close() }()

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		part, errPart := writer.CreateFormFile("file", filepath.Base(filePath))
		if errPart != nil {
			_ = pw.CloseWithError(errPart)
			return
		}
		if _, errCopy := io.Copy(part, f); errCopy != nil {
			_ = pw.CloseWithError(errCopy)
			return
		}
		if errField := writer.WriteField("folder_id", folderID); errField != nil {
			_ = pw.CloseWithError(errField)
			return
		}
		_ = pw.CloseWithError(writer.Close())
	}()

	_, uploadTimeout := c.timeouts()
	reqCtx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.ep.BaseURL()+"/api/documents/upload", pr)
	if err != nil {
		return failure(0, "invalid upload request", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return failure(0, "document upload failed", err)
	}
	defer func() { _ = resp.Body.Close() }()
	return decode(resp)
}

// UploadReader uploads in-memory content under the given filename. Used by
// the shell server when the UI posts the file body directly.
func (c *Client) UploadReader(ctx context.Context, r io.Reader, filename, folderID string) Result {
	if !c.ready() {
		return Result{Success: false, Code: servicectl.CodeNotReady, Message: "engine connection not established"}
	}
	if strings.TrimSpace(folderID) == "" {
		folderID = defaultFolderID
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return failure(0, "could not encode upload", err)
	}
	if _, err = io.Copy(part, r); err != nil {
		return failure(0, "could not read upload content", err)
	}
	if err = writer.WriteField("folder_id", folderID); err != nil {
		return failure(0, "could not encode upload", err)
	}
	if err = writer.Close(); err != nil {
		return failure(0, "could not encode upload", err)
	}

	_, uploadTimeout := c.timeouts()
	reqCtx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.ep.BaseURL()+"/api/documents/upload", &buf)
	if err != nil {
		return failure(0, "invalid upload request", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return failure(0, "document upload failed", err)
	}
	defer func() { _ = resp.Body.Close() }()
	return decode(resp)
}
