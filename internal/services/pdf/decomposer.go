// -----------------------------------------------------------------------
// PDF Decomposer Service - Validate documents and stream extracted chunks
// Uses pdfcpu for Go-native PDF processing
// -----------------------------------------------------------------------

package pdf

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arremate/internal/common"
	"github.com/ternarybob/arremate/internal/interfaces"
	"github.com/ternarybob/arremate/internal/models"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// outChannelBuffer bounds in-flight extracted chunks. A slow consumer
// stalls extraction instead of ballooning memory on large documents.
const outChannelBuffer = 2

// Decomposer implements the PDFDecomposer interface using pdfcpu
type Decomposer struct {
	config  *common.PipelineConfig
	logger  arbor.ILogger
	tempDir string
}

// Compile-time interface assertion
var _ interfaces.PDFDecomposer = (*Decomposer)(nil)

// NewDecomposer creates a new PDF decomposer service
func NewDecomposer(config *common.PipelineConfig, logger arbor.ILogger) *Decomposer {
	tempDir := config.TempDir
	if tempDir == "" {
		tempDir = filepath.Join(os.TempDir(), "arremate-pdf")
	}
	os.MkdirAll(tempDir, 0755)

	return &Decomposer{
		config:  config,
		logger:  logger,
		tempDir: tempDir,
	}
}

// Validate checks the document and returns its metadata. The content hash
// covers the full file bytes. Documents protected only by an owner password
// open with the empty user password and pass validation; a required user
// password fails with ErrEncrypted.
func (d *Decomposer) Validate(ctx context.Context, path string) (*interfaces.DocumentInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat document: %w", err)
	}
	if d.config.MaxPDFSize > 0 && stat.Size() > d.config.MaxPDFSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, stat.Size())
	}

	hash, err := hashFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to hash document: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open document: %w", err)
	}
	defer f.Close()

	info, err := api.PDFInfo(f, filepath.Base(path), nil, false, model.NewDefaultConfiguration())
	if err != nil {
		lower := strings.ToLower(err.Error())
		if strings.Contains(lower, "password") || strings.Contains(lower, "encrypt") {
			return nil, fmt.Errorf("%w: %v", ErrEncrypted, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidPDF, err)
	}

	if info.PageCount < 1 {
		return nil, fmt.Errorf("%w: document has no pages", ErrInvalidPDF)
	}

	hasImages := false
	if _, err := f.Seek(0, io.SeekStart); err == nil {
		hasImages = d.containsImages(f)
	}

	d.logger.Debug().
		Str("path", filepath.Base(path)).
		Int("pages", info.PageCount).
		Int64("size", stat.Size()).
		Bool("encrypted", info.Encrypted).
		Msg("Document validated")

	return &interfaces.DocumentInfo{
		PageCount:   info.PageCount,
		SizeBytes:   stat.Size(),
		ContentHash: hash,
		Encrypted:   info.Encrypted,
		Version:     info.Version,
		Title:       info.Title,
		Author:      info.Author,
		HasImages:   hasImages,
		HasForms:    info.Form,
	}, nil
}

// containsImages reports whether any page carries an image XObject.
// Listing failures degrade to false; validation already succeeded.
func (d *Decomposer) containsImages(rs io.ReadSeeker) bool {
	pageImages, err := api.Images(rs, nil, model.NewDefaultConfiguration())
	if err != nil {
		d.logger.Debug().Err(err).Msg("Image listing unavailable for document")
		return false
	}
	for _, byObj := range pageImages {
		if len(byObj) > 0 {
			return true
		}
	}
	return false
}

// PlanChunks computes the dense overlapping page windows. With size 5 and
// overlap 1, a 12-page document yields 1-5, 5-9, 9-12: the last page of one
// window is the first page of the next, and the final window clips to the
// page count.
func (d *Decomposer) PlanChunks(pageCount int) []interfaces.ChunkPlan {
	size := d.config.ChunkSize
	if size < 2 {
		size = 2
	}
	overlap := d.config.ChunkOverlap
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	step := size - overlap

	var plans []interfaces.ChunkPlan
	for start, index := 1, 0; start <= pageCount; start, index = start+step, index+1 {
		end := start + size - 1
		if end > pageCount {
			end = pageCount
		}
		plans = append(plans, interfaces.ChunkPlan{
			Index:     index,
			PageStart: start,
			PageEnd:   end,
		})
		if end == pageCount {
			break
		}
	}
	return plans
}

// ExtractChunks runs per-window extraction on a bounded worker set and
// delivers chunks strictly in plan order. Extraction of window N+k may
// finish before window N; a re-sequencer holds it until N has been sent.
func (d *Decomposer) ExtractChunks(ctx context.Context, path string, plans []interfaces.ChunkPlan) (<-chan *models.Chunk, <-chan error) {
	out := make(chan *models.Chunk, outChannelBuffer)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		sem := semaphore.NewWeighted(int64(d.extractorPool()))
		slots := make([]chan *models.Chunk, len(plans))
		for i := range slots {
			slots[i] = make(chan *models.Chunk)
		}

		g, gctx := errgroup.WithContext(ctx)

		// Re-sequencer: forward slot by slot so consumers see chunks in
		// window order regardless of extraction completion order. Started
		// before the spawn loop: workers park on their unbuffered slot
		// holding a semaphore permit, so at most pool-many extracted
		// windows exist at once no matter how many plans there are.
		g.Go(func() error {
			for i := range slots {
				select {
				case chunk := <-slots[i]:
					select {
					case out <- chunk:
					case <-gctx.Done():
						return gctx.Err()
					}
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})

		// Acquire in plan order so earlier windows never starve behind
		// later ones when the pool is saturated.
		for i, plan := range plans {
			if err := sem.Acquire(gctx, 1); err != nil {
				break
			}
			i, plan := i, plan
			g.Go(func() error {
				defer sem.Release(1)

				chunk, err := d.extractWindow(gctx, path, plan)
				if err != nil {
					return err
				}
				select {
				case slots[i] <- chunk:
					return nil
				case <-gctx.Done():
					return gctx.Err()
				}
			})
		}

		if err := g.Wait(); err != nil {
			errCh <- err
		}
	}()

	return out, errCh
}

func (d *Decomposer) extractorPool() int {
	if d.config.ExtractorPool > 0 {
		return d.config.ExtractorPool
	}
	return 4
}

// extractWindow extracts one page window into a scratch directory and
// assembles its text with page separators.
func (d *Decomposer) extractWindow(ctx context.Context, path string, plan interfaces.ChunkPlan) (*models.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outDir, err := os.MkdirTemp(d.tempDir, fmt.Sprintf("window_%d_", plan.Index))
	if err != nil {
		return nil, fmt.Errorf("failed to create extraction directory: %w", err)
	}
	defer os.RemoveAll(outDir)

	conf := model.NewDefaultConfiguration()
	pages := []string{fmt.Sprintf("%d-%d", plan.PageStart, plan.PageEnd)}

	if err := api.ExtractContentFile(path, outDir, pages, conf); err != nil {
		return nil, fmt.Errorf("%w: window %d-%d: %v", ErrExtractionFailed, plan.PageStart, plan.PageEnd, err)
	}

	pageTexts, err := readExtractedPages(outDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	var builder strings.Builder
	for page := plan.PageStart; page <= plan.PageEnd; page++ {
		if page > plan.PageStart {
			builder.WriteString("\n\n")
		}
		builder.WriteString(fmt.Sprintf("--- Page %d ---\n\n", page))
		builder.WriteString(pageTexts[page])
	}

	chunk := &models.Chunk{
		Index:     plan.Index,
		PageStart: plan.PageStart,
		PageEnd:   plan.PageEnd,
		Text:      builder.String(),
		Images:    d.listImages(path, pages),
		Status:    models.ChunkStatusExtracted,
	}

	d.logger.Debug().
		Int("index", plan.Index).
		Int("page_start", plan.PageStart).
		Int("page_end", plan.PageEnd).
		Int("text_len", len(chunk.Text)).
		Msg("Chunk extracted")

	return chunk, nil
}

// readExtractedPages parses pdfcpu's per-page content files. Filenames come
// in "Content_page_N" or "page_N" form depending on version.
func readExtractedPages(outDir string) (map[int]string, error) {
	files, err := os.ReadDir(outDir)
	if err != nil {
		return nil, err
	}

	pageTexts := make(map[int]string)
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		var pageNum int
		if _, err := fmt.Sscanf(file.Name(), "Content_page_%d", &pageNum); err != nil {
			if _, err := fmt.Sscanf(file.Name(), "page_%d", &pageNum); err != nil {
				continue
			}
		}
		content, err := os.ReadFile(filepath.Join(outDir, file.Name()))
		if err != nil {
			return nil, err
		}
		pageTexts[pageNum] = string(content)
	}
	return pageTexts, nil
}

// listImages records image metadata for the window without decoding pixel
// data. Listing failures degrade to no metadata; text extraction already
// succeeded.
func (d *Decomposer) listImages(path string, pages []string) []models.ImageMeta {
	f, err := os.Open(path)
	if err != nil {
		d.logger.Debug().Err(err).Msg("Image listing unavailable for document")
		return nil
	}
	defer f.Close()

	pageImages, err := api.Images(f, pages, model.NewDefaultConfiguration())
	if err != nil {
		d.logger.Debug().Err(err).Msg("Image listing unavailable for document")
		return nil
	}

	var images []models.ImageMeta
	index := 0
	for _, byObj := range pageImages {
		for _, img := range byObj {
			images = append(images, models.ImageMeta{
				Page:       img.PageNr,
				Index:      index,
				Width:      img.Width,
				Height:     img.Height,
				ColorSpace: img.Cs,
				SizeBytes:  img.Size,
			})
			index++
		}
	}
	return images
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
