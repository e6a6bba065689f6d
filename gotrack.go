package gotrack

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// clientIdPrefix follows the Azureus-style convention from BEP20.
var clientIdPrefix = [8]byte{'-', 'G', 'T', '0', '1', '0', '0', '-'}

type (
	// InfoHash is the SHA-1 digest identifying a torrent to trackers and peers.
	InfoHash [20]byte

	// PeerID identifies this client for the lifetime of the process.
	PeerID [20]byte

	// AnnounceData holds transfer counters sent with every announce.
	AnnounceData struct {
		Downloaded uint64
		Uploaded   uint64
		Left       uint64
		Port       uint16
	}

	// Event is the announce event code from BEP15.
	Event uint32
)

const (
	EventNone Event = iota
	EventCompleted
	EventStarted
	EventStopped
)

func (e Event) String() string {
	switch e {
	case EventNone:
		return "none"
	case EventCompleted:
		return "completed"
	case EventStarted:
		return "started"
	case EventStopped:
		return "stopped"
	default:
		return fmt.Sprintf("event(%d)", uint32(e))
	}
}

func (h InfoHash) String() string {
	return hex.EncodeToString(h[:])
}

func (p PeerID) String() string {
	return string(p[:len(clientIdPrefix)]) + hex.EncodeToString(p[len(clientIdPrefix):])
}

// NewPeerID creates client id with the client prefix followed by random bytes.
func NewPeerID() (PeerID, error) {
	var id PeerID
	copy(id[:], clientIdPrefix[:])
	if _, err := rand.Read(id[len(clientIdPrefix):]); err != nil {
		return PeerID{}, fmt.Errorf("generate peer id: %w", err)
	}
	return id, nil
}
