package socks5

import (
	"fmt"
	"strings"
)

// Address is a parsed SOCKS5 destination or bound address: one of the
// three RFC 1928 address encodings plus a 16-bit port.
type Address struct {
	Type  byte   // ATYPIPv4, ATYPDomain, or ATYPIPv6
	Value []byte // raw wire bytes: 4 for IPv4, 16 for IPv6, L for Domain
	Port  uint16
}

// ParseAddress validates raw against atyp and returns the Address it
// encodes. raw must contain exactly the address bytes (no port, no length
// prefix for domains).
func ParseAddress(atyp byte, raw []byte) (Address, error) {
	switch atyp {
	case ATYPIPv4:
		if len(raw) != 4 {
			return Address{}, badLength("ipv4 address must be 4 bytes")
		}
	case ATYPIPv6:
		if len(raw) != 16 {
			return Address{}, badLength("ipv6 address must be 16 bytes")
		}
	case ATYPDomain:
		if len(raw) == 0 || len(raw) > 255 {
			return Address{}, badLength("domain name must be 1..255 bytes")
		}
	default:
		return Address{}, badAtyp(fmt.Sprintf("unsupported atyp %#x", atyp))
	}
	value := make([]byte, len(raw))
	copy(value, raw)
	return Address{Type: atyp, Value: value}, nil
}

// Text renders the address in its canonical textual host form: dotted
// decimal for IPv4, eight unabbreviated lowercase-hex groups for IPv6 (per
// this module's address model — deliberately not net.IP.String(), which
// abbreviates), and the raw bytes as a string for domain names.
func (a Address) Text() string {
	switch a.Type {
	case ATYPIPv4:
		return fmt.Sprintf("%d.%d.%d.%d", a.Value[0], a.Value[1], a.Value[2], a.Value[3])
	case ATYPIPv6:
		groups := make([]string, 8)
		for i := 0; i < 8; i++ {
			groups[i] = fmt.Sprintf("%04x", uint16(a.Value[2*i])<<8|uint16(a.Value[2*i+1]))
		}
		return strings.Join(groups, ":")
	case ATYPDomain:
		return string(a.Value)
	default:
		return ""
	}
}

// AppendWire appends the wire-format encoding of the address (discriminator
// byte, then length-prefixed value for domains, then the raw value for
// IPv4/IPv6) to buf and returns the extended slice. The port is not
// included; callers append it separately since request and reply frames
// both carry the port immediately after the address.
func (a Address) AppendWire(buf []byte) []byte {
	buf = append(buf, a.Type)
	if a.Type == ATYPDomain {
		buf = append(buf, byte(len(a.Value)))
	}
	return append(buf, a.Value...)
}

// AddressFromHost builds an Address from a textual host and the atyp it
// should be encoded as. For IPv4/IPv6 host must already be in the exact
// dotted/unabbreviated textual form Text would produce; AddressFromHost is
// the inverse of ParseAddress+Text.
func AddressFromHost(atyp byte, host string) (Address, error) {
	switch atyp {
	case ATYPIPv4:
		var a, b, c, d byte
		if n, err := fmt.Sscanf(host, "%d.%d.%d.%d", &a, &b, &c, &d); err != nil || n != 4 {
			return Address{}, badLength("malformed ipv4 text address")
		}
		return Address{Type: ATYPIPv4, Value: []byte{a, b, c, d}}, nil
	case ATYPIPv6:
		parts := strings.Split(host, ":")
		if len(parts) != 8 {
			return Address{}, badLength("malformed ipv6 text address")
		}
		value := make([]byte, 16)
		for i, p := range parts {
			var group uint16
			if n, err := fmt.Sscanf(p, "%x", &group); err != nil || n != 1 {
				return Address{}, badLength("malformed ipv6 text address")
			}
			value[2*i] = byte(group >> 8)
			value[2*i+1] = byte(group)
		}
		return Address{Type: ATYPIPv6, Value: value}, nil
	case ATYPDomain:
		if len(host) == 0 || len(host) > 255 {
			return Address{}, badLength("domain name must be 1..255 bytes")
		}
		return Address{Type: ATYPDomain, Value: []byte(host)}, nil
	default:
		return Address{}, badAtyp(fmt.Sprintf("unsupported atyp %#x", atyp))
	}
}
