package footprint

import "fmt"

// IndexError reports a grid-local point that resolved outside the template.
// It means the rotation and center do not belong together, or the template
// is degenerate.
type IndexError struct {
	Local    Vec2i
	Template Vec2i
	Rotation int
	Size     Vec2i
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("footprint index (%d,%d) outside %dx%d (local=(%d,%d) rot=%d)",
		e.Template.X, e.Template.Y, e.Size.X, e.Size.Y, e.Local.X, e.Local.Y, e.Rotation)
}
