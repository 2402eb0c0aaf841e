package ransac

import (
	"bytes"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solvedFixture(t *testing.T, kind string) (*Problem, *Solution) {
	t.Helper()
	p, err := GenerateProblem(kind, 40, 0.6, 0.2, 12)
	require.NoError(t, err)
	s, err := Solve(t.Context(), p, quickSettings())
	require.NoError(t, err)
	return p, s
}

func TestVectorRenderer_SVG(t *testing.T) {
	for _, kind := range []string{KindAffine, KindLine} {
		t.Run(kind, func(t *testing.T) {
			p, s := solvedFixture(t, kind)
			var buf bytes.Buffer
			require.NoError(t, NewVectorRenderer(p, s, DefaultConfig().Render).RenderToSVG(&buf))

			out := buf.String()
			assert.Contains(t, out, "<svg")
			assert.Contains(t, out, "<path")
		})
	}
}

func TestVectorRenderer_PNG(t *testing.T) {
	p, s := solvedFixture(t, KindHomography)
	var buf bytes.Buffer
	require.NoError(t, NewVectorRenderer(p, s, DefaultConfig().Render).RenderToPNG(&buf))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Positive(t, img.Bounds().Dx())
	assert.Positive(t, img.Bounds().Dy())
}

func TestVectorRenderer_Errors(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, NewVectorRenderer(nil, nil, DefaultConfig().Render).RenderToSVG(&buf))

	p, s := solvedFixture(t, KindLine)
	cfg := DefaultConfig().Render
	cfg.Padding = cfg.Width
	assert.Error(t, NewVectorRenderer(p, s, cfg).RenderToSVG(&buf))

	empty := &Problem{ID: "empty", Kind: KindLine}
	assert.Error(t, NewVectorRenderer(empty, s, DefaultConfig().Render).RenderToPNG(&buf))
}

func TestOverlayRenderer(t *testing.T) {
	p, s := solvedFixture(t, KindRigid)
	r := NewOverlayRenderer(p, s)

	img, err := r.Render()
	require.NoError(t, err)
	b := img.Bounds()
	assert.LessOrEqual(t, max(b.Dx(), b.Dy()), 800+1)
	assert.Equal(t, BackgroundGray, img.RGBAAt(0, 0))

	path := filepath.Join(t.TempDir(), "overlay.png")
	require.NoError(t, r.SavePNG(path))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	_, err = png.Decode(f)
	assert.NoError(t, err)

	_, err = NewOverlayRenderer(nil, s).Render()
	assert.Error(t, err)
}

func TestDataBound(t *testing.T) {
	b, ok := dataBound(matchProblem())
	require.True(t, ok)
	assert.Equal(t, 0.0, b.Min[0])
	assert.Equal(t, 6.0, b.Max[0])
	assert.Equal(t, 6.0, b.Max[1])

	_, ok = dataBound(&Problem{})
	assert.False(t, ok)
}

func TestDrawLine(t *testing.T) {
	p, s := solvedFixture(t, KindLine)
	img, err := NewOverlayRenderer(p, s).Render()
	require.NoError(t, err)

	drawLine(img, 0, 0, 10, 10, ModelColor)
	for i := 0; i <= 10; i++ {
		assert.Equal(t, ModelColor, img.RGBAAt(i, i))
	}
}
