// Package acquire materializes a local or remote document into the
// run's temp directory and classifies it by extension and magic bytes.
package acquire

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/spherical/docmark/internal/domain"
)

const downloadTimeout = 2 * time.Minute

// oleHeader is the compound-binary signature of legacy Office files.
// Files carrying it are routed through office conversion even when
// their extension claims .pdf.
var oleHeader = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// File is an acquired document on local disk
type File struct {
	Extension    string // lowercase dotted suffix, e.g. ".pdf"
	LocalPath    string
	LegacyOffice bool // OLE compound binary regardless of extension
}

// Acquirer copies sources into a destination directory
type Acquirer struct {
	client *http.Client
	log    zerolog.Logger
}

// New creates an Acquirer
func New(log zerolog.Logger) *Acquirer {
	return &Acquirer{
		client: &http.Client{Timeout: downloadTimeout},
		log:    log,
	}
}

// Acquire materializes source (a local path or an http/https URL) into
// destDir and returns its classification.
func (a *Acquirer) Acquire(ctx context.Context, source, destDir string) (*File, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, domain.AcquisitionError("creating acquisition directory", err)
	}

	var (
		localPath string
		ext       string
		err       error
	)
	if isURL(source) {
		localPath, ext, err = a.download(ctx, source, destDir)
	} else {
		localPath, ext, err = a.copyLocal(source, destDir)
	}
	if err != nil {
		return nil, err
	}

	head, err := readHead(localPath, 16)
	if err != nil {
		return nil, domain.AcquisitionError("reading file header", err)
	}
	if ext == "" {
		ext = extensionFromMagic(head)
	}

	f := &File{
		Extension:    ext,
		LocalPath:    localPath,
		LegacyOffice: bytes.HasPrefix(head, oleHeader),
	}
	a.log.Debug().
		Str("source", source).
		Str("extension", f.Extension).
		Bool("legacyOffice", f.LegacyOffice).
		Msg("acquired file")
	return f, nil
}

func isURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func (a *Acquirer) copyLocal(source, destDir string) (string, string, error) {
	in, err := os.Open(source)
	if err != nil {
		return "", "", domain.AcquisitionError(fmt.Sprintf("opening %s", source), err)
	}
	defer in.Close()

	dest := filepath.Join(destDir, filepath.Base(source))
	out, err := os.Create(dest)
	if err != nil {
		return "", "", domain.AcquisitionError("creating local copy", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return "", "", domain.AcquisitionError("copying file", err)
	}
	return dest, strings.ToLower(filepath.Ext(source)), nil
}

func (a *Acquirer) download(ctx context.Context, source, destDir string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return "", "", domain.AcquisitionError("building download request", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return "", "", domain.AcquisitionError(fmt.Sprintf("downloading %s", source), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", domain.AcquisitionError(fmt.Sprintf("downloading %s: HTTP %d", source, resp.StatusCode), nil)
	}

	u, _ := url.Parse(source)
	base := filepath.Base(u.Path)
	ext := strings.ToLower(filepath.Ext(base))
	if ext == "" {
		ext = extensionFromContentType(resp.Header.Get("Content-Type"))
	}
	if base == "" || base == "." || base == "/" {
		base = "download" + ext
	} else if filepath.Ext(base) == "" && ext != "" {
		base += ext
	}

	dest := filepath.Join(destDir, base)
	out, err := os.Create(dest)
	if err != nil {
		return "", "", domain.AcquisitionError("creating download target", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return "", "", domain.AcquisitionError("writing download", err)
	}
	return dest, ext, nil
}

func readHead(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	head := make([]byte, n)
	read, err := io.ReadFull(f, head)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return head[:read], nil
	}
	if err != nil {
		return nil, err
	}
	return head, nil
}

// extensionFromContentType maps a Content-Type header to an extension
func extensionFromContentType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	switch mediaType {
	case "application/pdf":
		return ".pdf"
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/heic":
		return ".heic"
	case "application/msword":
		return ".doc"
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return ".docx"
	case "application/vnd.ms-excel":
		return ".xls"
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return ".xlsx"
	case "application/vnd.ms-powerpoint":
		return ".ppt"
	case "application/vnd.openxmlformats-officedocument.presentationml.presentation":
		return ".pptx"
	case "application/vnd.oasis.opendocument.text":
		return ".odt"
	case "application/vnd.oasis.opendocument.spreadsheet":
		return ".ods"
	case "text/csv":
		return ".csv"
	case "text/html":
		return ".html"
	case "text/plain", "text/markdown":
		return ".txt"
	default:
		return ""
	}
}

// extensionFromMagic classifies a file by its leading bytes
func extensionFromMagic(head []byte) string {
	switch {
	case bytes.HasPrefix(head, []byte("%PDF")):
		return ".pdf"
	case bytes.HasPrefix(head, []byte{0x89, 0x50, 0x4E, 0x47}):
		return ".png"
	case bytes.HasPrefix(head, []byte{0xFF, 0xD8, 0xFF}):
		return ".jpg"
	case bytes.HasPrefix(head, oleHeader):
		return ".doc"
	case bytes.HasPrefix(head, []byte{0x50, 0x4B, 0x03, 0x04}):
		// ZIP container; OOXML documents are the common case here.
		return ".docx"
	default:
		return ""
	}
}
