// ABOUTME: Four-timestamp round-trip probe sample
// ABOUTME: Derives one-way latency and clock offset from a single probe
package sync

// Sample holds the timestamps of one probe, all in milliseconds.
// ReqSentAt and ResReceivedAt are local; ReqReceivedAt and ResSentAt are
// stamped by the server.
type Sample struct {
	ReqSentAt     int64
	ReqReceivedAt int64
	ResSentAt     int64
	ResReceivedAt int64
}

// OnewayLatency is half the round trip minus server processing time.
func (s Sample) OnewayLatency() float64 {
	roundTrip := (s.ResReceivedAt - s.ReqSentAt) - (s.ResSentAt - s.ReqReceivedAt)
	return float64(roundTrip) / 2
}

// Offset is how far the server clock leads the local clock
// (positive = server ahead).
func (s Sample) Offset() float64 {
	expectedReceipt := float64(s.ReqSentAt) + s.OnewayLatency()
	return float64(s.ReqReceivedAt) - expectedReceipt
}

// RoundTrip returns the network round-trip time in milliseconds.
func (s Sample) RoundTrip() float64 {
	return 2 * s.OnewayLatency()
}
