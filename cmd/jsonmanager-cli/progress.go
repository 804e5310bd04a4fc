package main

import (
	"io"
	"time"

	"github.com/schollz/progressbar/v2"

	"yashubustudio/jsonmanager/jsonmanager"
)

var _ jsonmanager.ProgressSink = (*barSink)(nil)

// barSink renders batch progress as a terminal bar. The bar is created on the
// first notification, once the number of discovered files is known.
type barSink struct {
	w   io.Writer
	bar *progressbar.ProgressBar
}

func newBarSink(w io.Writer) *barSink {
	return &barSink{w: w}
}

func (b *barSink) Notify(current, total int, _ string) {
	if total <= 0 {
		return
	}
	if b.bar == nil {
		b.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(b.w),
			progressbar.OptionSetWidth(40),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionSetDescription("scanning"),
			progressbar.OptionSetRenderBlankState(true),
		)
	}
	_ = b.bar.Set(current)
}

func (b *barSink) finish() {
	if b.bar == nil {
		return
	}
	_ = b.bar.Finish()
	_, _ = io.WriteString(b.w, "\n")
}
