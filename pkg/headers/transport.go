package headers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mstream/rtspconn/pkg/base"
)

// TransportProtocol is the transport protocol of a stream.
type TransportProtocol int

const (
	// TransportProtocolUDP is the UDP transport protocol.
	TransportProtocolUDP TransportProtocol = iota

	// TransportProtocolTCP is the TCP (interleaved) transport protocol.
	TransportProtocolTCP
)

// TransportDelivery is the delivery method of a stream.
type TransportDelivery int

const (
	// TransportDeliveryUnicast is the unicast delivery method.
	TransportDeliveryUnicast TransportDelivery = iota

	// TransportDeliveryMulticast is the multicast delivery method.
	TransportDeliveryMulticast
)

// TransportMode is the mode of a stream.
type TransportMode int

const (
	// TransportModePlay is the "play" transport mode.
	TransportModePlay TransportMode = iota

	// TransportModeRecord is the "record" transport mode.
	TransportModeRecord
)

// String implements fmt.Stringer.
func (tm TransportMode) String() string {
	if tm == TransportModePlay {
		return "play"
	}
	return "record"
}

// Transport is a Transport header, the textual form of the negotiated
// transport descriptor.
type Transport struct {
	// protocol of the stream
	Protocol TransportProtocol

	// (optional) delivery method of the stream
	Delivery *TransportDelivery

	// (optional) source IP
	Source *string

	// (optional) destination IP
	Destination *string

	// (optional) TTL
	TTL *uint

	// (optional) ports
	Ports *[2]int

	// (optional) client ports
	ClientPorts *[2]int

	// (optional) server ports
	ServerPorts *[2]int

	// (optional) interleaved channel ids
	InterleavedIDs *[2]int

	// (optional) SSRC of the associated RTP stream
	SSRC *uint32

	// (optional) mode
	Mode *TransportMode
}

func parsePorts(val string) (*[2]int, error) {
	ports := strings.Split(val, "-")

	if len(ports) == 2 {
		port1, err := strconv.Atoi(ports[0])
		if err != nil {
			return nil, fmt.Errorf("invalid ports (%v)", val)
		}

		port2, err := strconv.Atoi(ports[1])
		if err != nil {
			return nil, fmt.Errorf("invalid ports (%v)", val)
		}

		return &[2]int{port1, port2}, nil
	}

	if len(ports) == 1 {
		port1, err := strconv.Atoi(ports[0])
		if err != nil {
			return nil, fmt.Errorf("invalid ports (%v)", val)
		}

		return &[2]int{port1, port1 + 1}, nil
	}

	return nil, fmt.Errorf("invalid ports (%v)", val)
}

// Unmarshal decodes a Transport header.
func (h *Transport) Unmarshal(v base.HeaderValue) error {
	if len(v) == 0 {
		return fmt.Errorf("value not provided")
	}

	if len(v) > 1 {
		return fmt.Errorf("value provided multiple times (%v)", v)
	}

	parts := strings.Split(v[0], ";")

	switch parts[0] {
	case "RTP/AVP", "RTP/AVP/UDP":
		h.Protocol = TransportProtocolUDP

	case "RTP/AVP/TCP":
		h.Protocol = TransportProtocolTCP

	default:
		return fmt.Errorf("invalid protocol (%v)", parts[0])
	}

	for _, part := range parts[1:] {
		switch {
		case part == "unicast":
			d := TransportDeliveryUnicast
			h.Delivery = &d

		case part == "multicast":
			d := TransportDeliveryMulticast
			h.Delivery = &d

		case strings.HasPrefix(part, "source="):
			s := part[len("source="):]
			h.Source = &s

		case strings.HasPrefix(part, "destination="):
			d := part[len("destination="):]
			h.Destination = &d

		case strings.HasPrefix(part, "ttl="):
			tmp, err := strconv.ParseUint(part[len("ttl="):], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid TTL (%v)", part)
			}
			ttl := uint(tmp)
			h.TTL = &ttl

		case strings.HasPrefix(part, "port="):
			ports, err := parsePorts(part[len("port="):])
			if err != nil {
				return err
			}
			h.Ports = ports

		case strings.HasPrefix(part, "client_port="):
			ports, err := parsePorts(part[len("client_port="):])
			if err != nil {
				return err
			}
			h.ClientPorts = ports

		case strings.HasPrefix(part, "server_port="):
			ports, err := parsePorts(part[len("server_port="):])
			if err != nil {
				return err
			}
			h.ServerPorts = ports

		case strings.HasPrefix(part, "interleaved="):
			ids, err := parsePorts(part[len("interleaved="):])
			if err != nil {
				return err
			}
			h.InterleavedIDs = ids

		case strings.HasPrefix(part, "ssrc="):
			tmp, err := strconv.ParseUint(strings.TrimLeft(part[len("ssrc="):], " "), 16, 32)
			if err != nil {
				return fmt.Errorf("invalid SSRC (%v)", part)
			}
			ssrc := uint32(tmp)
			h.SSRC = &ssrc

		case strings.HasPrefix(part, "mode="):
			str := strings.ToLower(part[len("mode="):])
			str = strings.TrimPrefix(str, "\"")
			str = strings.TrimSuffix(str, "\"")

			switch str {
			case "play":
				m := TransportModePlay
				h.Mode = &m

			case "record", "receive":
				m := TransportModeRecord
				h.Mode = &m

			default:
				return fmt.Errorf("invalid transport mode: '%s'", str)
			}
		}
	}

	return nil
}

// Marshal encodes a Transport header.
func (h Transport) Marshal() base.HeaderValue {
	var rets []string

	if h.Protocol == TransportProtocolUDP {
		rets = append(rets, "RTP/AVP")
	} else {
		rets = append(rets, "RTP/AVP/TCP")
	}

	if h.Delivery != nil {
		if *h.Delivery == TransportDeliveryUnicast {
			rets = append(rets, "unicast")
		} else {
			rets = append(rets, "multicast")
		}
	}

	if h.Source != nil {
		rets = append(rets, "source="+*h.Source)
	}

	if h.Destination != nil {
		rets = append(rets, "destination="+*h.Destination)
	}

	if h.TTL != nil {
		rets = append(rets, "ttl="+strconv.FormatUint(uint64(*h.TTL), 10))
	}

	if h.Ports != nil {
		rets = append(rets, "port="+strconv.Itoa(h.Ports[0])+"-"+strconv.Itoa(h.Ports[1]))
	}

	if h.ClientPorts != nil {
		rets = append(rets, "client_port="+strconv.Itoa(h.ClientPorts[0])+"-"+strconv.Itoa(h.ClientPorts[1]))
	}

	if h.ServerPorts != nil {
		rets = append(rets, "server_port="+strconv.Itoa(h.ServerPorts[0])+"-"+strconv.Itoa(h.ServerPorts[1]))
	}

	if h.InterleavedIDs != nil {
		rets = append(rets, "interleaved="+strconv.Itoa(h.InterleavedIDs[0])+"-"+strconv.Itoa(h.InterleavedIDs[1]))
	}

	if h.SSRC != nil {
		rets = append(rets, "ssrc="+strings.ToUpper(strconv.FormatUint(uint64(*h.SSRC), 16)))
	}

	if h.Mode != nil {
		rets = append(rets, "mode="+h.Mode.String())
	}

	return base.HeaderValue{strings.Join(rets, ";")}
}
