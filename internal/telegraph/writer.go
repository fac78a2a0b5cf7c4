package telegraph

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Writer prints notices, one per line.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter creates a Writer on w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Notify writes n.
func (w *Writer) Notify(_ context.Context, n Notice) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := fmt.Fprintln(w.w, FormatText(n))
	return err
}
