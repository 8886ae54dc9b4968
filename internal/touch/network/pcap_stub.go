//go:build !pcap
// +build !pcap

package network

import (
	"context"
	"fmt"
)

// ReadPCAPFile is the stub used when PCAP support is disabled.
// Build with -tags=pcap to enable PCAP replay.
func ReadPCAPFile(ctx context.Context, pcapFile string, udpPort int, sink EventSink) error {
	return fmt.Errorf("PCAP support not enabled: rebuild with -tags=pcap")
}
