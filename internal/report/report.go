// Package report renders dispatch cycle outcomes for human and machine
// consumers.
package report

import (
	"io"

	"github.com/pkoval/perch/internal/watch"
)

// Formatter writes a formatted cycle report to w.
type Formatter interface {
	Format(w io.Writer, cycle *watch.CycleReport) error
}
