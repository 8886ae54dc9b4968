//go:build pcap
// +build pcap

package network

import (
	"context"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/tactiledata/gesture.report/internal/touch"
	"github.com/tactiledata/gesture.report/internal/touch/l1events"
)

// ReadPCAPFile replays a captured UDP event feed from a PCAP file into
// sink, filtered to the given UDP port. Only available when building
// with the 'pcap' tag.
func ReadPCAPFile(ctx context.Context, pcapFile string, udpPort int, sink EventSink) error {
	handle, err := pcap.OpenOffline(pcapFile)
	if err != nil {
		return fmt.Errorf("open pcap file %s: %w", pcapFile, err)
	}
	defer handle.Close()

	filter := fmt.Sprintf("udp port %d", udpPort)
	if err := handle.SetBPFFilter(filter); err != nil {
		return fmt.Errorf("set bpf filter %q: %w", filter, err)
	}

	source := gopacket.NewPacketSource(handle, handle.LinkType())
	var packets, parseErrors int
	for {
		select {
		case <-ctx.Done():
			touch.Opsf("pcap: stopping after %d packets: %v", packets, ctx.Err())
			return ctx.Err()
		case packet := <-source.Packets():
			if packet == nil {
				touch.Opsf("pcap: done, %d packets (%d undecodable)", packets, parseErrors)
				return nil
			}
			udpLayer := packet.Layer(layers.LayerTypeUDP)
			if udpLayer == nil {
				continue
			}
			packets++
			payload := udpLayer.(*layers.UDP).Payload
			ev, err := l1events.ParseDatagram(payload)
			if err != nil {
				parseErrors++
				continue
			}
			sink.Feed(ev)
		}
	}
}
