// internal/client/tui/overlay.go
package tui

import (
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/nfnt/resize"
)

const (
	closeLabel      = " ✕ "
	previewTimeout  = 5 * time.Second
	maxPreviewBytes = 10 << 20
)

type previewLoadedMsg struct {
	ref   string
	lines []string
	err   error
}

type preview struct {
	lines []string
	err   error
}

// ImageOverlay is the full-screen lightbox for one image reference.
type ImageOverlay struct {
	selected string
	width    int
	height   int
	previews map[string]preview
}

type overlayLayout struct {
	box                    string
	left, top, w, h        int
	closeX, closeY, closeW int
}

func NewImageOverlay() ImageOverlay {
	return ImageOverlay{previews: make(map[string]preview)}
}

func (o *ImageOverlay) SetSize(width, height int) {
	o.width = width
	o.height = height
}

func (o ImageOverlay) Active() bool {
	return o.selected != ""
}

func (o ImageOverlay) Selected() string {
	return o.selected
}

// Open selects ref and returns the command that loads its preview, if one is
// not cached yet.
func (o *ImageOverlay) Open(ref string) tea.Cmd {
	o.selected = ref
	if _, ok := o.previews[ref]; ok {
		return nil
	}
	cols, rows := o.previewSize()
	return loadPreview(ref, cols, rows)
}

func (o *ImageOverlay) Close() {
	o.selected = ""
}

func (o *ImageOverlay) HandlePreview(msg previewLoadedMsg) {
	o.previews[msg.ref] = preview{lines: msg.lines, err: msg.err}
}

// HandleClick reports whether the click dismissed the overlay. Clicks on the
// enlarged image are swallowed.
func (o *ImageOverlay) HandleClick(x, y int) bool {
	if !o.Active() {
		return false
	}
	l := o.layout()
	if y == l.closeY && x >= l.closeX && x < l.closeX+l.closeW {
		o.Close()
		return true
	}
	if x >= l.left && x < l.left+l.w && y >= l.top && y < l.top+l.h {
		return false
	}
	o.Close()
	return true
}

func (o ImageOverlay) previewSize() (int, int) {
	cols := min(o.width-6, 72)
	rows := min(o.height-8, 20)
	return max(cols, 16), max(rows, 3)
}

func (o ImageOverlay) layout() overlayLayout {
	cols, rows := o.previewSize()

	closeBtn := closeButtonStyle.Render(closeLabel)
	closeW := lipgloss.Width(closeBtn)
	caption := truncate(o.selected, cols-closeW-1)
	gap := max(1, cols-lipgloss.Width(caption)-closeW)
	title := caption + strings.Repeat(" ", gap) + closeBtn
	closeCol := lipgloss.Width(caption) + gap

	lines := []string{title}
	lines = append(lines, o.previewLines(cols, rows)...)
	lines = append(lines, subtleStyle.Render("esc or click outside to close"))
	box := overlayBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))

	w, h := lipgloss.Width(box), lipgloss.Height(box)
	left := max(0, (o.width-w)/2)
	top := max(0, (o.height-h)/2)
	return overlayLayout{
		box:    box,
		left:   left,
		top:    top,
		w:      w,
		h:      h,
		closeX: left + 2 + closeCol, // border + padding
		closeY: top + 1,
		closeW: closeW,
	}
}

func (o ImageOverlay) previewLines(cols, rows int) []string {
	p, ok := o.previews[o.selected]
	var msg string
	switch {
	case !ok:
		msg = "loading preview…"
	case p.err != nil:
		msg = "no preview: " + truncate(p.err.Error(), cols-12)
	default:
		return p.lines
	}
	lines := make([]string, rows)
	lines[rows/2] = lipgloss.PlaceHorizontal(cols, lipgloss.Center, subtleStyle.Render(msg))
	return lines
}

func (o ImageOverlay) View() string {
	if !o.Active() {
		return ""
	}
	l := o.layout()
	pad := strings.Repeat(" ", l.left)

	out := make([]string, 0, o.height)
	for i := 0; i < l.top; i++ {
		out = append(out, "")
	}
	for _, line := range strings.Split(l.box, "\n") {
		out = append(out, pad+line)
	}
	for len(out) < o.height {
		out = append(out, "")
	}
	return strings.Join(out, "\n")
}

func loadPreview(ref string, cols, rows int) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), previewTimeout)
		defer cancel()

		img, err := fetchImage(ctx, ref)
		if err != nil {
			return previewLoadedMsg{ref: ref, err: err}
		}
		return previewLoadedMsg{ref: ref, lines: rasterize(img, cols, rows)}
	}
}

func fetchImage(ctx context.Context, ref string) (image.Image, error) {
	var r io.ReadCloser
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
		if err != nil {
			return nil, err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("fetch image: %s", resp.Status)
		}
		r = resp.Body
	} else {
		f, err := os.Open(ref)
		if err != nil {
			return nil, err
		}
		r = f
	}
	defer r.Close()

	img, _, err := image.Decode(io.LimitReader(r, maxPreviewBytes))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// rasterize scales img into cols x rows cells, two pixels per cell using the
// upper half block.
func rasterize(img image.Image, cols, rows int) []string {
	thumb := resize.Thumbnail(uint(cols), uint(rows*2), img, resize.Lanczos3)
	b := thumb.Bounds()

	var lines []string
	for y := b.Min.Y; y < b.Max.Y; y += 2 {
		var sb strings.Builder
		for x := b.Min.X; x < b.Max.X; x++ {
			top := hexColor(thumb.At(x, y))
			bottom := top
			if y+1 < b.Max.Y {
				bottom = hexColor(thumb.At(x, y+1))
			}
			sb.WriteString(lipgloss.NewStyle().
				Foreground(lipgloss.Color(top)).
				Background(lipgloss.Color(bottom)).
				Render("▀"))
		}
		lines = append(lines, sb.String())
	}
	return lines
}

func hexColor(c color.Color) string {
	r, g, b, _ := c.RGBA()
	return fmt.Sprintf("#%02x%02x%02x", r>>8, g>>8, b>>8)
}
