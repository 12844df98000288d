// Package raster turns an acquired document into an ordered list of
// page image files. PDFs render in-process through go-fitz; office
// formats are converted to PDF by LibreOffice first; HEIC photos go
// through ImageMagick. Plain raster images pass through untouched.
package raster

import (
	"context"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog"

	"github.com/spherical/docmark/internal/acquire"
	"github.com/spherical/docmark/internal/domain"
	"github.com/spherical/docmark/internal/imgprep"
)

const (
	officeTimeout = 3 * time.Minute
	heicTimeout   = 2 * time.Minute
)

// RenderOptions parameterize PDF page rendering
type RenderOptions struct {
	Density      int     // DPI; 0 uses the renderer default
	Height       int     // target pixel height, aspect-preserving; 0 keeps natural size
	Pages        []int   // ascending 1-based page numbers; empty renders all
	MaxImageSize float64 // megabytes; > 0 recompresses oversized pages
}

// Converter renders documents to page images
type Converter struct {
	libreOffice string
	magick      string
	log         zerolog.Logger
}

// New creates a Converter. Empty binary paths resolve from $PATH when
// the corresponding conversion is first needed.
func New(libreOfficePath, magickPath string, log zerolog.Logger) *Converter {
	return &Converter{libreOffice: libreOfficePath, magick: magickPath, log: log}
}

// Prepare dispatches on the acquired file's type and returns the
// ordered page images, each carrying its 1-based source page number.
// Spreadsheets never reach this component.
func (c *Converter) Prepare(ctx context.Context, file acquire.File, workDir string, opts RenderOptions) ([]domain.PageImage, error) {
	switch {
	case file.LegacyOffice:
		// Compound-binary office files, including ones whose name
		// claims .pdf.
		pdfPath, err := c.OfficeToPDF(ctx, file.LocalPath, workDir)
		if err != nil {
			return nil, err
		}
		return c.RasterizePDF(ctx, pdfPath, workDir, opts)
	case file.Extension == ".pdf":
		return c.RasterizePDF(ctx, file.LocalPath, workDir, opts)
	case file.Extension == ".png" || file.Extension == ".jpg" || file.Extension == ".jpeg":
		return []domain.PageImage{{Number: 1, Path: file.LocalPath}}, nil
	case file.Extension == ".heic":
		jpegPath, err := c.HEICToJPEG(ctx, file.LocalPath, workDir)
		if err != nil {
			return nil, err
		}
		return []domain.PageImage{{Number: 1, Path: jpegPath}}, nil
	default:
		pdfPath, err := c.OfficeToPDF(ctx, file.LocalPath, workDir)
		if err != nil {
			return nil, err
		}
		return c.RasterizePDF(ctx, pdfPath, workDir, opts)
	}
}

// OfficeToPDF converts an office document to PDF with LibreOffice
func (c *Converter) OfficeToPDF(ctx context.Context, src, destDir string) (string, error) {
	return c.convertOffice(ctx, src, destDir, "pdf")
}

// OfficeToXLSX converts a legacy workbook to xlsx so the structured
// data reader can open it.
func (c *Converter) OfficeToXLSX(ctx context.Context, src, destDir string) (string, error) {
	return c.convertOffice(ctx, src, destDir, "xlsx")
}

func (c *Converter) convertOffice(ctx context.Context, src, destDir, format string) (string, error) {
	binary, err := resolveBinary(c.libreOffice, "soffice")
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, officeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, binary,
		"--headless", "--convert-to", format, "--outdir", destDir, src)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", domain.ConversionError(
			fmt.Sprintf("libreoffice conversion of %s failed: %s", filepath.Base(src), strings.TrimSpace(string(output))), err)
	}

	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	outPath := filepath.Join(destDir, base+"."+format)
	if _, err := os.Stat(outPath); err != nil {
		// LibreOffice sometimes exits zero without producing output.
		return "", domain.ConversionError(
			fmt.Sprintf("libreoffice produced no %s for %s: %s", format, filepath.Base(src), strings.TrimSpace(string(output))), err)
	}
	c.log.Debug().Str("file", filepath.Base(src)).Str("format", format).Msg("converted office document")
	return outPath, nil
}

// HEICToJPEG converts a HEIC photo to JPEG with ImageMagick
func (c *Converter) HEICToJPEG(ctx context.Context, src, destDir string) (string, error) {
	binary, err := resolveBinary(c.magick, "magick")
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, heicTimeout)
	defer cancel()

	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	jpegPath := filepath.Join(destDir, base+".jpg")

	cmd := exec.CommandContext(ctx, binary, src, jpegPath)
	if output, err := cmd.CombinedOutput(); err != nil {
		return "", domain.ConversionError(
			fmt.Sprintf("heic conversion of %s failed: %s", filepath.Base(src), strings.TrimSpace(string(output))), err)
	}
	if _, err := os.Stat(jpegPath); err != nil {
		return "", domain.ConversionError(fmt.Sprintf("heic conversion produced no output for %s", filepath.Base(src)), err)
	}
	return jpegPath, nil
}

// RasterizePDF renders the selected PDF pages to PNG files in destDir
// and returns them in ascending page order.
func (c *Converter) RasterizePDF(ctx context.Context, pdfPath, destDir string, opts RenderOptions) ([]domain.PageImage, error) {
	doc, err := fitz.New(pdfPath)
	if err != nil {
		return nil, domain.RasterizationError(fmt.Sprintf("opening %s", filepath.Base(pdfPath)), err)
	}
	defer doc.Close()

	total := doc.NumPage()
	if total == 0 {
		return nil, domain.RasterizationError("document has no pages", nil)
	}
	pages := SelectPages(opts.Pages, total)

	maxBytes := int64(opts.MaxImageSize * 1024 * 1024)
	images := make([]domain.PageImage, 0, len(pages))
	for _, page := range pages {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		img, err := c.renderPage(doc, page, opts.Density)
		if err != nil {
			return nil, domain.RasterizationError(fmt.Sprintf("rendering page %d", page), err)
		}
		if opts.Height > 0 {
			img = imgprep.ScaleToHeight(img, opts.Height)
		}

		data, err := imgprep.EncodePNG(img)
		if err != nil {
			return nil, domain.RasterizationError(fmt.Sprintf("encoding page %d", page), err)
		}

		path := filepath.Join(destDir, fmt.Sprintf("page_%03d.png", page))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, domain.RasterizationError(fmt.Sprintf("writing page %d", page), err)
		}

		if maxBytes > 0 && int64(len(data)) > maxBytes {
			compressed, err := imgprep.CompressToSize(data, maxBytes)
			if err != nil {
				return nil, domain.RasterizationError(fmt.Sprintf("compressing page %d", page), err)
			}
			compressedPath := strings.TrimSuffix(path, ".png") + "_compressed.png"
			if err := os.WriteFile(compressedPath, compressed, 0o644); err != nil {
				return nil, domain.RasterizationError(fmt.Sprintf("writing compressed page %d", page), err)
			}
			c.log.Debug().Int("page", page).
				Int("originalBytes", len(data)).
				Int("compressedBytes", len(compressed)).
				Msg("recompressed oversized page")
			path = compressedPath
		}

		images = append(images, domain.PageImage{Number: page, Path: path})
	}

	c.log.Debug().Int("pages", len(images)).Str("file", filepath.Base(pdfPath)).Msg("rasterized document")
	return images, nil
}

// renderPage renders one 1-based page at the configured density
func (c *Converter) renderPage(doc *fitz.Document, page, density int) (image.Image, error) {
	if density > 0 {
		return doc.ImageDPI(page-1, float64(density))
	}
	return doc.Image(page - 1)
}

// SelectPages resolves the requested 1-based page numbers against the
// document's page count. Empty requests all pages; out-of-range
// entries drop silently.
func SelectPages(requested []int, total int) []int {
	if len(requested) == 0 {
		out := make([]int, total)
		for i := range out {
			out[i] = i + 1
		}
		return out
	}
	out := make([]int, 0, len(requested))
	for _, p := range requested {
		if p >= 1 && p <= total {
			out = append(out, p)
		}
	}
	return out
}

func resolveBinary(configured, fallback string) (string, error) {
	name := configured
	if name == "" {
		name = fallback
	}
	resolved, err := exec.LookPath(name)
	if err != nil {
		return "", domain.ConversionError(fmt.Sprintf("%s binary not found", fallback), err)
	}
	return resolved, nil
}
