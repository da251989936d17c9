package cli

import (
	"io"

	"github.com/schollz/progressbar/v3"

	"github.com/freeeve/framestore/internal/frame"
	"github.com/freeeve/framestore/internal/link"
)

// newProgress renders a bar like:
// [linking]  94% [==============================>   ] (94/100, 612 it/s)
func newProgress(w io.Writer, total int, describe string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetDescription(describe),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// progressPutter advances bar for every frame written through it.
type progressPutter struct {
	link.Putter
	bar *progressbar.ProgressBar
}

func (p progressPutter) Put(t *frame.Table) error {
	if err := p.Putter.Put(t); err != nil {
		return err
	}
	return p.bar.Add(1)
}

func (p progressPutter) PutFrame(idx int, t *frame.Table) error {
	if err := p.Putter.PutFrame(idx, t); err != nil {
		return err
	}
	return p.bar.Add(1)
}
