package tracker

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/anivanovic/gotrack"
)

const protocolID uint64 = 0x41727101980

const (
	actionConnect uint32 = iota
	actionAnnounce
	actionScrape
	actionError
)

const (
	connectRequestSize   = 16
	announceRequestSize  = 98
	connectResponseSize  = 16
	announceResponseSize = 20
	headerSize           = 8
	peerSize             = 6
)

// BEP15 wire layouts, encoded big endian with encoding/binary.
type (
	connectRequest struct {
		ProtocolID    uint64
		Action        uint32
		TransactionID uint32
	}

	announceRequest struct {
		ConnectionID  uint64
		Action        uint32
		TransactionID uint32
		InfoHash      gotrack.InfoHash
		PeerID        gotrack.PeerID
		Downloaded    uint64
		Left          uint64
		Uploaded      uint64
		Event         uint32
		IP            uint32
		Key           uint32
		NumWant       int32
		Port          uint16
	}

	responseHeader struct {
		Action        uint32
		TransactionID uint32
	}

	connectResponse struct {
		Action        uint32
		TransactionID uint32
		ConnectionID  uint64
	}

	announceResponse struct {
		Action        uint32
		TransactionID uint32
		Interval      uint32
		Leechers      uint32
		Seeders       uint32
	}
)

func encodePacket(v any) ([]byte, error) {
	return binary.Append(nil, binary.BigEndian, v)
}

func decodeHeader(data []byte) (responseHeader, error) {
	var h responseHeader
	if len(data) < headerSize {
		return h, fmt.Errorf("%w: packet of %d bytes", ErrProtocolMismatch, len(data))
	}
	_, err := binary.Decode(data, binary.BigEndian, &h)
	return h, err
}

func decodeConnect(data []byte) (connectResponse, error) {
	var res connectResponse
	if len(data) < connectResponseSize {
		return res, fmt.Errorf("%w: connect response of %d bytes", ErrProtocolMismatch, len(data))
	}
	_, err := binary.Decode(data, binary.BigEndian, &res)
	return res, err
}

// decodeAnnounce parses announce response. Peer block must consist of whole
// 6 byte records, otherwise nothing is returned.
func decodeAnnounce(data []byte) (announceResponse, []netip.AddrPort, error) {
	var res announceResponse
	if len(data) < announceResponseSize {
		return res, nil, fmt.Errorf("%w: announce response of %d bytes", ErrProtocolMismatch, len(data))
	}
	if _, err := binary.Decode(data, binary.BigEndian, &res); err != nil {
		return res, nil, err
	}

	peers, err := parseCompactPeers(data[announceResponseSize:])
	if err != nil {
		return res, nil, err
	}
	return res, peers, nil
}

func parseCompactPeers(b []byte) ([]netip.AddrPort, error) {
	if len(b)%peerSize != 0 {
		return nil, fmt.Errorf("%w: peer block of %d bytes is not a multiple of %d",
			ErrMalformedResponse, len(b), peerSize)
	}

	peers := make([]netip.AddrPort, 0, len(b)/peerSize)
	for i := 0; i < len(b); i += peerSize {
		addr := netip.AddrFrom4([4]byte(b[i : i+4]))
		port := binary.BigEndian.Uint16(b[i+4 : i+6])
		peers = append(peers, netip.AddrPortFrom(addr, port))
	}
	return peers, nil
}
