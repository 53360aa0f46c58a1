// Package stamp composites a signature image onto a page of a PDF and
// binds an audit identifier to the result. Composition is an incremental
// update: the original bytes are preserved unmodified as a prefix of the
// output, which matters once earlier revisions already carry signatures.
package stamp

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/digitorus/pdf"
)

var (
	ErrBadPDF         = errors.New("malformed pdf")
	ErrBadImage       = errors.New("unsupported signature image")
	ErrPageOutOfRange = errors.New("page index out of range")
)

// Options places the signature. Coordinates are in the source PDF's
// point space with the origin at the lower-left corner of the page, not
// display-canvas pixels; callers rescale by pdfNativeWidth over
// displayedCanvasWidth before calling.
type Options struct {
	X         float64
	Y         float64
	Width     float64
	PageIndex int // zero-based

	SignerName   string
	AuditID      string
	IncludeStamp bool
}

// Result carries the composited document and its content hash. The hash
// is computed over the exact output bytes and travels with the upload so
// the ledger records what was actually rendered.
type Result struct {
	SignedBytes []byte
	ContentHash string
}

// ContentHash computes the canonical hash of a document's bytes.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Composite overlays the signature image at the requested position and,
// optionally, burns a visible verification stamp below it. Pure function
// of its inputs apart from the stamp timestamp.
func Composite(pdfBytes, imageBytes []byte, opt Options) (*Result, error) {
	return composite(pdfBytes, imageBytes, opt, time.Now)
}

func composite(pdfBytes, imageBytes []byte, opt Options, now func() time.Time) (*Result, error) {
	r, err := pdf.NewReader(bytes.NewReader(pdfBytes), int64(len(pdfBytes)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPDF, err)
	}
	if opt.PageIndex < 0 || opt.PageIndex >= r.NumPage() {
		return nil, ErrPageOutOfRange
	}
	if opt.Width <= 0 {
		return nil, fmt.Errorf("signature width must be positive")
	}

	page := r.Page(opt.PageIndex + 1)
	pagePtr := page.V.GetPtr()
	pageID := int(pagePtr.GetID())
	if pageID == 0 {
		return nil, fmt.Errorf("%w: page object is not indirect", ErrBadPDF)
	}

	rootPtr := r.Trailer().Key("Root").GetPtr()
	rootID := int(rootPtr.GetID())
	if rootID == 0 {
		return nil, fmt.Errorf("%w: missing document catalog", ErrBadPDF)
	}
	size := r.Trailer().Key("Size").Int64()
	if size == 0 {
		return nil, fmt.Errorf("%w: missing trailer size", ErrBadPDF)
	}
	prevXref, err := lastStartXref(pdfBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPDF, err)
	}

	img, err := prepareImage(imageBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadImage, err)
	}

	w := newIncrementalWriter(pdfBytes, int(size))

	// Image XObject (and its soft mask for PNG transparency).
	smaskRef := ""
	if img.smask != nil {
		smaskID := w.addStream(fmt.Sprintf(
			"/Type /XObject /Subtype /Image /Width %d /Height %d /ColorSpace /DeviceGray /BitsPerComponent 8 /Filter /FlateDecode",
			img.width, img.height), img.smask)
		smaskRef = fmt.Sprintf(" /SMask %d 0 R", smaskID)
	}
	imageID := w.addStream(fmt.Sprintf(
		"/Type /XObject /Subtype /Image /Width %d /Height %d /ColorSpace /%s /BitsPerComponent 8 /Filter /%s%s",
		img.width, img.height, img.colorSpace, img.filter, smaskRef), img.data)

	fontID := 0
	if opt.IncludeStamp {
		fontID = w.addObject([]byte("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>"))
	}

	imgName := fmt.Sprintf("SigImg%d", imageID)
	fontName := fmt.Sprintf("SigFont%d", fontID)

	height := opt.Width * float64(img.height) / float64(img.width)
	var content bytes.Buffer
	fmt.Fprintf(&content, "q\n%s 0 0 %s %s %s cm\n/%s Do\nQ\n",
		formatNumber(opt.Width), formatNumber(height),
		formatNumber(opt.X), formatNumber(opt.Y), imgName)
	if opt.IncludeStamp {
		stampLine := fmt.Sprintf("Signed by %s | %s | %s",
			opt.SignerName, opt.AuditID, now().UTC().Format(time.RFC3339))
		fmt.Fprintf(&content, "q\nBT\n/%s 7 Tf\n0.25 0.25 0.25 rg\n1 0 0 1 %s %s Tm\n(%s) Tj\nET\nQ\n",
			fontName,
			formatNumber(opt.X), formatNumber(opt.Y-9),
			escapeString(stampLine))
	}
	contentID := w.addStream("", content.Bytes())

	pageBody, err := rewritePage(page.V, imageID, imgName, fontID, fontName, contentID)
	if err != nil {
		return nil, err
	}
	w.replaceObject(pageID, pageBody)

	signed := w.finish(rootID, prevXref)
	return &Result{
		SignedBytes: signed,
		ContentHash: ContentHash(signed),
	}, nil
}

// rewritePage re-emits the page dictionary with the overlay content
// stream appended to /Contents and the image (and stamp font) merged
// into /Resources. All untouched entries are carried over, as references
// where they were references.
func rewritePage(pageV pdf.Value, imageID int, imgName string, fontID int, fontName string, contentID int) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("<< ")
	for _, k := range pageV.Keys() {
		switch k {
		case "Contents", "Resources":
			continue
		}
		buf.WriteByte('/')
		buf.WriteString(k)
		buf.WriteByte(' ')
		if err := serializeValue(&buf, pageV.Key(k)); err != nil {
			return nil, fmt.Errorf("serialize page key %s: %w", k, err)
		}
		buf.WriteByte(' ')
	}

	// Appended overlay renders after (above) the existing content.
	buf.WriteString("/Contents [")
	contents := pageV.Key("Contents")
	switch contents.Kind() {
	case pdf.Array:
		for i := 0; i < contents.Len(); i++ {
			if err := serializeValue(&buf, contents.Index(i)); err != nil {
				return nil, fmt.Errorf("serialize contents element: %w", err)
			}
			buf.WriteByte(' ')
		}
	case pdf.Null:
		// page without content
	default:
		if err := serializeValue(&buf, contents); err != nil {
			return nil, fmt.Errorf("serialize contents: %w", err)
		}
		buf.WriteByte(' ')
	}
	fmt.Fprintf(&buf, "%d 0 R] ", contentID)

	if err := rewriteResources(&buf, pageV.Key("Resources"), imageID, imgName, fontID, fontName); err != nil {
		return nil, err
	}

	buf.WriteString(">>")
	return buf.Bytes(), nil
}

func rewriteResources(buf *bytes.Buffer, res pdf.Value, imageID int, imgName string, fontID int, fontName string) error {
	buf.WriteString("/Resources << ")
	if res.Kind() == pdf.Dict {
		for _, k := range res.Keys() {
			switch k {
			case "XObject", "Font":
				continue
			}
			buf.WriteByte('/')
			buf.WriteString(k)
			buf.WriteByte(' ')
			if err := serializeValue(buf, res.Key(k)); err != nil {
				return fmt.Errorf("serialize resource %s: %w", k, err)
			}
			buf.WriteByte(' ')
		}
	}

	buf.WriteString("/XObject << ")
	if xo := res.Key("XObject"); xo.Kind() == pdf.Dict {
		for _, k := range xo.Keys() {
			buf.WriteByte('/')
			buf.WriteString(k)
			buf.WriteByte(' ')
			if err := serializeValue(buf, xo.Key(k)); err != nil {
				return fmt.Errorf("serialize xobject %s: %w", k, err)
			}
			buf.WriteByte(' ')
		}
	}
	fmt.Fprintf(buf, "/%s %d 0 R >> ", imgName, imageID)

	buf.WriteString("/Font << ")
	if fo := res.Key("Font"); fo.Kind() == pdf.Dict {
		for _, k := range fo.Keys() {
			buf.WriteByte('/')
			buf.WriteString(k)
			buf.WriteByte(' ')
			if err := serializeValue(buf, fo.Key(k)); err != nil {
				return fmt.Errorf("serialize font %s: %w", k, err)
			}
			buf.WriteByte(' ')
		}
	}
	if fontID != 0 {
		fmt.Fprintf(buf, "/%s %d 0 R ", fontName, fontID)
	}
	buf.WriteString(">> ")

	buf.WriteString(">> ")
	return nil
}
