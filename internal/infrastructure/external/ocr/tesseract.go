// Package ocr implements the OCR engine port with Tesseract. PDFs are
// rasterized page by page through MuPDF before recognition; confidences are
// normalized from Tesseract's 0-100 scale to [0,1].
package ocr

import (
	"context"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/otiai10/gosseract/v2"
	"go.uber.org/zap"

	"github.com/kaiwen/docverify/internal/application/port"
	"github.com/kaiwen/docverify/internal/domain/entity"
)

// TesseractEngine implements port.OCREngine
type TesseractEngine struct {
	languages []string
	logger    *zap.Logger
}

// NewTesseractEngine creates an OCR engine for the given language models
func NewTesseractEngine(languages []string, logger *zap.Logger) *TesseractEngine {
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	return &TesseractEngine{
		languages: languages,
		logger:    logger,
	}
}

// Extract runs recognition on an image or PDF file
func (e *TesseractEngine) Extract(ctx context.Context, filePath string) (*port.OCRResult, error) {
	if strings.EqualFold(filepath.Ext(filePath), ".pdf") {
		return e.extractPDF(ctx, filePath)
	}
	return e.extractImage(ctx, filePath, 1)
}

// extractImage recognizes one image, reporting blocks at text line
// granularity tagged with the given page number
func (e *TesseractEngine) extractImage(ctx context.Context, imagePath string, page int) (*port.OCRResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(e.languages...); err != nil {
		return nil, fmt.Errorf("set ocr language: %w", err)
	}
	if err := client.SetImage(imagePath); err != nil {
		return nil, fmt.Errorf("set ocr image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return nil, fmt.Errorf("ocr text: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("ocr bounding boxes: %w", err)
	}

	result := &port.OCRResult{
		Text:     text,
		Metadata: map[string]interface{}{"engine": "tesseract", "languages": strings.Join(e.languages, "+")},
	}

	var confidenceSum float64
	for _, box := range boxes {
		line := strings.TrimSpace(box.Word)
		if line == "" {
			continue
		}
		confidence := box.Confidence / 100
		confidenceSum += confidence
		result.Regions = append(result.Regions, entity.OcrBlock{
			Page: page,
			BBox: entity.BoundingBox{
				X1: float64(box.Box.Min.X),
				Y1: float64(box.Box.Min.Y),
				X2: float64(box.Box.Max.X),
				Y2: float64(box.Box.Max.Y),
			},
			Text:       line,
			Confidence: confidence,
		})
	}
	if len(result.Regions) > 0 {
		result.OverallConfidence = confidenceSum / float64(len(result.Regions))
	}

	e.logger.Debug("Image recognized",
		zap.String("path", imagePath),
		zap.Int("blocks", len(result.Regions)),
		zap.Float64("confidence", result.OverallConfidence))

	return result, nil
}

// extractPDF rasterizes each page and recognizes them in order, merging the
// per-page results
func (e *TesseractEngine) extractPDF(ctx context.Context, pdfPath string) (*port.OCRResult, error) {
	doc, err := fitz.New(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	scratch, err := os.MkdirTemp("", "docverify-pages-")
	if err != nil {
		return nil, fmt.Errorf("scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	merged := &port.OCRResult{
		Metadata: map[string]interface{}{
			"engine":    "tesseract",
			"languages": strings.Join(e.languages, "+"),
			"pages":     doc.NumPage(),
		},
	}

	var texts []string
	var confidenceSum float64
	var confidencePages int
	for n := 0; n < doc.NumPage(); n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		img, err := doc.Image(n)
		if err != nil {
			return nil, fmt.Errorf("render page %d: %w", n+1, err)
		}

		pagePath := filepath.Join(scratch, fmt.Sprintf("page-%03d.png", n+1))
		f, err := os.Create(pagePath)
		if err != nil {
			return nil, fmt.Errorf("create page file: %w", err)
		}
		if err := png.Encode(f, img); err != nil {
			f.Close()
			return nil, fmt.Errorf("encode page %d: %w", n+1, err)
		}
		f.Close()

		pageResult, err := e.extractImage(ctx, pagePath, n+1)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", n+1, err)
		}

		texts = append(texts, pageResult.Text)
		merged.Regions = append(merged.Regions, pageResult.Regions...)
		if len(pageResult.Regions) > 0 {
			confidenceSum += pageResult.OverallConfidence
			confidencePages++
		}
	}

	merged.Text = strings.Join(texts, "\n\n")
	if confidencePages > 0 {
		merged.OverallConfidence = confidenceSum / float64(confidencePages)
	}

	e.logger.Info("PDF recognized",
		zap.String("path", pdfPath),
		zap.Int("pages", doc.NumPage()),
		zap.Int("blocks", len(merged.Regions)),
		zap.Float64("confidence", merged.OverallConfidence))

	return merged, nil
}

// Verify interface compliance
var _ port.OCREngine = (*TesseractEngine)(nil)
