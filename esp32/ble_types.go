package esp32

import "net"

// BLERole is the AT+BLEINIT argument.
type BLERole int

const (
	BLERoleClient BLERole = 1
	BLERoleServer BLERole = 2
)

func (r BLERole) String() string {
	switch r {
	case BLERoleClient:
		return "client"
	case BLERoleServer:
		return "server"
	}
	return "none"
}

// AddrType is a BLE address type.
type AddrType int

const (
	AddrPublic AddrType = 0
	AddrRandom AddrType = 1
)

// AdvType is the advertising PDU type.
type AdvType int

const (
	AdvInd        AdvType = 0
	AdvScanInd    AdvType = 2
	AdvNonconnInd AdvType = 3
)

// Advertising channels, combined into AdvertisingParams.ChannelMap.
const (
	AdvChannel37  = 0x01
	AdvChannel38  = 0x02
	AdvChannel39  = 0x04
	AdvChannelAll = 0x07
)

// Advertising filter policies.
const (
	AdvFilterAllowScanAnyConAny = iota
	AdvFilterAllowScanWhitelistConAny
	AdvFilterAllowScanAnyConWhitelist
	AdvFilterAllowScanWhitelistConWhitelist
)

// AdvertisingParams are the arguments of AT+BLEADVPARAM. Intervals are in
// units of 0.625 ms within 0x20..0x4000. PeerAddr is only sent when set.
type AdvertisingParams struct {
	IntervalMin  int
	IntervalMax  int
	Type         AdvType
	OwnAddrType  AddrType
	ChannelMap   int
	FilterPolicy int
	PeerAddrType AddrType
	PeerAddr     net.HardwareAddr
}

// Packet is a characteristic or descriptor write by a connected client.
// Desc is -1 for characteristic writes.
type Packet struct {
	Conn    int
	Service int
	Char    int
	Desc    int
	Data    []byte
}

// ScanResult is one +BLESCAN report.
type ScanResult struct {
	Addr        net.HardwareAddr
	RSSI        int
	AdvData     []byte
	ScanRspData []byte
	AddrType    AddrType
}

// Service is a primary service found by DiscoverServices. UUID is kept as
// the firmware prints it, 16 or 128 bit.
type Service struct {
	Index int
	UUID  string
	Type  int
}

type Characteristic struct {
	Service    int
	Index      int
	UUID       string
	Properties int
}

type Descriptor struct {
	Service int
	Char    int
	Index   int
	UUID    string
}

// ServiceDiscovery is the result of DiscoverServices. Truncated is set when
// the firmware reported more services than were returned.
type ServiceDiscovery struct {
	Services  []Service
	Truncated bool
}

// CharacteristicDiscovery is the result of DiscoverCharacteristics.
type CharacteristicDiscovery struct {
	Characteristics []Characteristic
	Descriptors     []Descriptor
	Truncated       bool
}

// discoveryCapacity bounds each discovery buffer.
const discoveryCapacity = 16

// boundedBuffer keeps the first discoveryCapacity entries of a discovery and
// remembers whether any were dropped. Its storage is reused across
// discoveries.
type boundedBuffer[T any] struct {
	items     []T
	truncated bool
}

func (b *boundedBuffer[T]) reset() {
	if b.items == nil {
		b.items = make([]T, 0, discoveryCapacity)
	}
	b.items = b.items[:0]
	b.truncated = false
}

func (b *boundedBuffer[T]) add(v T) {
	if len(b.items) >= discoveryCapacity {
		b.truncated = true
		return
	}
	b.items = append(b.items, v)
}

// copyOut returns at most limit entries, all of them when limit is not
// positive, and whether entries were left out.
func (b *boundedBuffer[T]) copyOut(limit int) ([]T, bool) {
	n := len(b.items)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]T, n)
	copy(out, b.items)
	return out, b.truncated || n < len(b.items)
}
