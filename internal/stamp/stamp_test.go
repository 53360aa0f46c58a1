package stamp

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/digitorus/pdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildPDF assembles a one-page document with a correct cross-reference
// table, recording byte offsets as objects are written.
func buildPDF(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer
	offsets := make(map[int]int)

	writeObj := func(num int, body string) {
		offsets[num] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", num, body)
	}

	buf.WriteString("%PDF-1.4\n")
	writeObj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	writeObj(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	writeObj(3, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 5 0 R >> >> /Contents 4 0 R >>")
	content := "BT /F1 12 Tf 72 720 Td (Engagement Letter) Tj ET"
	writeObj(4, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))
	writeObj(5, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")

	xref := buf.Len()
	buf.WriteString("xref\n0 6\n0000000000 65535 f \n")
	for n := 1; n <= 5; n++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[n])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size 6 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", xref)
	return buf.Bytes()
}

// signaturePNG renders a small image with transparent corners so the
// soft mask path is exercised.
func signaturePNG(t *testing.T) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 8, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 8; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 20, G: 20, B: 120, A: 255})
		}
	}
	img.SetRGBA(0, 0, color.RGBA{})
	img.SetRGBA(7, 3, color.RGBA{})

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestCompositePreservesOriginalAndOverlays(t *testing.T) {
	original := buildPDF(t)
	sig := signaturePNG(t)

	fixed := func() time.Time { return time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC) }
	res, err := composite(original, sig, Options{
		X:            100,
		Y:            200,
		Width:        120,
		PageIndex:    0,
		SignerName:   "Dana Whitfield",
		AuditID:      "aud-7f3c",
		IncludeStamp: true,
	}, fixed)
	require.NoError(t, err)

	assert.True(t, bytes.HasPrefix(res.SignedBytes, original),
		"original bytes must survive unmodified as a prefix")
	assert.Equal(t, ContentHash(res.SignedBytes), res.ContentHash)
	assert.True(t, strings.HasPrefix(res.ContentHash, "sha256:"))

	appended := string(res.SignedBytes[len(original):])
	assert.Contains(t, appended, "/Subtype /Image")
	assert.Contains(t, appended, "/SMask")
	assert.Contains(t, appended, "/SigImg")
	assert.Contains(t, appended, "Signed by Dana Whitfield | aud-7f3c | 2026-03-14T09:30:00Z")
	assert.Contains(t, appended, "/Prev")
	assert.Contains(t, appended, "%%EOF")

	// The update section must still parse as a PDF.
	r, err := pdf.NewReader(bytes.NewReader(res.SignedBytes), int64(len(res.SignedBytes)))
	require.NoError(t, err)
	assert.Equal(t, 1, r.NumPage())

	page := r.Page(1)
	contents := page.V.Key("Contents")
	require.Equal(t, pdf.Array, contents.Kind())
	assert.Equal(t, 2, contents.Len(), "overlay stream appended after existing content")

	xo := page.V.Key("Resources").Key("XObject")
	require.Equal(t, pdf.Dict, xo.Kind())
	assert.NotEmpty(t, xo.Keys())

	fonts := page.V.Key("Resources").Key("Font")
	require.Equal(t, pdf.Dict, fonts.Kind())
	assert.Contains(t, fonts.Keys(), "F1", "pre-existing font resources carried over")
}

func TestCompositeWithoutStamp(t *testing.T) {
	res, err := Composite(buildPDF(t), signaturePNG(t), Options{
		X: 50, Y: 60, Width: 80, PageIndex: 0,
	})
	require.NoError(t, err)

	assert.NotContains(t, string(res.SignedBytes), "Signed by")
	assert.NotContains(t, string(res.SignedBytes), "/SigFont")
}

func TestCompositeJPEGSignature(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 6, 3))
	for y := 0; y < 3; y++ {
		for x := 0; x < 6; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 200, G: 10, B: 10, A: 255})
		}
	}
	var jb bytes.Buffer
	require.NoError(t, jpeg.Encode(&jb, img, nil))

	res, err := Composite(buildPDF(t), jb.Bytes(), Options{X: 10, Y: 10, Width: 60})
	require.NoError(t, err)
	assert.Contains(t, string(res.SignedBytes), "/DCTDecode")
	assert.NotContains(t, string(res.SignedBytes), "/SMask")
}

func TestCompositePageOutOfRange(t *testing.T) {
	_, err := Composite(buildPDF(t), signaturePNG(t), Options{Width: 50, PageIndex: 3})
	assert.ErrorIs(t, err, ErrPageOutOfRange)

	_, err = Composite(buildPDF(t), signaturePNG(t), Options{Width: 50, PageIndex: -1})
	assert.ErrorIs(t, err, ErrPageOutOfRange)
}

func TestCompositeRejectsBadInputs(t *testing.T) {
	_, err := Composite([]byte("not a pdf"), signaturePNG(t), Options{Width: 50})
	assert.ErrorIs(t, err, ErrBadPDF)

	_, err = Composite(buildPDF(t), []byte("not an image"), Options{Width: 50})
	assert.ErrorIs(t, err, ErrBadImage)

	_, err = Composite(buildPDF(t), signaturePNG(t), Options{Width: 0})
	assert.Error(t, err)
}

func TestPrepareImageStraightAlpha(t *testing.T) {
	// A half-transparent red pixel: the RGB samples must carry the
	// straight color, not the premultiplied one, because the soft mask
	// supplies the alpha separately.
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 200, G: 40, B: 40, A: 128})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	xi, err := prepareImage(buf.Bytes())
	require.NoError(t, err)
	require.NotNil(t, xi.smask)

	rgb := inflate(t, xi.data)
	require.Len(t, rgb, 3)
	assert.Equal(t, []byte{200, 40, 40}, rgb)

	alpha := inflate(t, xi.smask)
	require.Len(t, alpha, 1)
	assert.Equal(t, byte(128), alpha[0])
}

func inflate(t *testing.T, data []byte) []byte {
	t.Helper()
	zr, err := zlib.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer zr.Close()
	out, err := io.ReadAll(zr)
	require.NoError(t, err)
	return out
}

func TestContentHashStable(t *testing.T) {
	a := ContentHash([]byte("agreement"))
	b := ContentHash([]byte("agreement"))
	c := ContentHash([]byte("amendment"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, len("sha256:")+64)
}
