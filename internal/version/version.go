// ABOUTME: Version information for loopsync
// ABOUTME: Reported in the WebSocket hello and the status TUI
package version

const (
	// Version is the current release
	Version = "0.3.0"

	// Product is the product name sent as device info
	Product = "loopsync-go"

	// Manufacturer identifies the software vendor
	Manufacturer = "loopsync"
)
