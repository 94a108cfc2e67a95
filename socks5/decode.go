package socks5

// Greeting is the client's opening method-negotiation frame.
type Greeting struct {
	Methods []byte
}

// DecodeGreeting decodes a Greeting from buf. It requires
// len(buf) >= 2+buf[1] and returns the number of bytes consumed.
func DecodeGreeting(buf []byte) (Greeting, int, error) {
	if len(buf) < 2 {
		return Greeting{}, 0, shortBuffer("need version and nmethods")
	}
	if buf[0] != Version {
		return Greeting{}, 0, badVersion("greeting version mismatch")
	}
	nmethods := int(buf[1])
	total := 2 + nmethods
	if len(buf) < total {
		return Greeting{}, 0, shortBuffer("need nmethods bytes of methods")
	}
	methods := make([]byte, nmethods)
	copy(methods, buf[2:total])
	return Greeting{Methods: methods}, total, nil
}

// AuthRequest is the RFC 1929 username/password sub-negotiation frame.
type AuthRequest struct {
	Username string
	Password string
}

// DecodeAuthRequest decodes an AuthRequest from buf.
func DecodeAuthRequest(buf []byte) (AuthRequest, int, error) {
	if len(buf) < 2 {
		return AuthRequest{}, 0, shortBuffer("need version and ulen")
	}
	if buf[0] != UserPassVersion {
		return AuthRequest{}, 0, badVersion("sub-negotiation version mismatch")
	}
	ulen := int(buf[1])
	if len(buf) < 2+ulen+1 {
		return AuthRequest{}, 0, shortBuffer("need uname and plen")
	}
	plen := int(buf[2+ulen])
	total := 2 + ulen + 1 + plen
	if len(buf) < total {
		return AuthRequest{}, 0, shortBuffer("need passwd")
	}
	return AuthRequest{
		Username: string(buf[2 : 2+ulen]),
		Password: string(buf[3+ulen : total]),
	}, total, nil
}

// ConnectRequest is the client's RFC 1928 request frame. Despite the name
// it carries any of the three commands; only CmdConnect is accepted by
// the session state machine, but the codec decodes all three so the
// state machine can produce COMMAND_NOT_SUPPORTED itself.
type ConnectRequest struct {
	Cmd      byte
	Reserved byte
	Dst      Address
	Port     uint16
}

// DecodeConnectRequest decodes a ConnectRequest from buf. Its length
// depends on Dst.Type: 4+2 for IPv4, 1+L+2 for a domain name, 16+2 for
// IPv6, on top of the 4-byte fixed header.
func DecodeConnectRequest(buf []byte) (ConnectRequest, int, error) {
	if len(buf) < 4 {
		return ConnectRequest{}, 0, shortBuffer("need version, cmd, rsv, atyp")
	}
	if buf[0] != Version {
		return ConnectRequest{}, 0, badVersion("request version mismatch")
	}
	atyp := buf[3]
	var addrLen int
	switch atyp {
	case ATYPIPv4:
		addrLen = 4
	case ATYPIPv6:
		addrLen = 16
	case ATYPDomain:
		if len(buf) < 5 {
			return ConnectRequest{}, 0, shortBuffer("need domain length byte")
		}
		addrLen = 1 + int(buf[4])
	default:
		return ConnectRequest{}, 0, badAtyp("unsupported address type")
	}
	total := 4 + addrLen + 2
	if len(buf) < total {
		return ConnectRequest{}, 0, shortBuffer("need address and port")
	}

	var dstRaw []byte
	if atyp == ATYPDomain {
		dstRaw = buf[5 : 5+int(buf[4])]
	} else {
		dstRaw = buf[4 : 4+addrLen]
	}
	dst, err := ParseAddress(atyp, dstRaw)
	if err != nil {
		return ConnectRequest{}, 0, err
	}
	port := uint16(buf[total-2])<<8 | uint16(buf[total-1])

	return ConnectRequest{
		Cmd:      buf[1],
		Reserved: buf[2],
		Dst:      dst,
		Port:     port,
	}, total, nil
}
