package widget

// Layout is the responsive mode derived from the viewport width
type Layout string

const (
	LayoutMobile  Layout = "mobile"
	LayoutTablet  Layout = "tablet"
	LayoutDesktop Layout = "desktop"
)

// Breakpoints, in columns for a terminal or pixels for a browser
const (
	MobileBreakpoint = 640
	TabletBreakpoint = 1024
)

// LayoutFor maps a width to its layout mode
func LayoutFor(width int) Layout {
	switch {
	case width < MobileBreakpoint:
		return LayoutMobile
	case width < TabletBreakpoint:
		return LayoutTablet
	default:
		return LayoutDesktop
	}
}
