// Package aevip implements the AevIP dispatch protocol: signed task packets,
// tile partitioning across nodes, polling result collection and failover.
package aevip

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"aevrt/pkg/task"
)

// ErrBadSignature marks a packet whose HMAC check failed.
var ErrBadSignature = errors.New("aevip: bad packet signature")

const (
	// PacketTypeTask / PacketTypeResult are the wire packet discriminators.
	PacketTypeTask   = "aevrt_task"
	PacketTypeResult = "aevrt_result"

	// SignatureHeader carries the hex HMAC-SHA256 of the request body.
	SignatureHeader = "X-AevIP-Signature"

	// ReceivePath is the node endpoint task packets are POSTed to.
	ReceivePath = "/aevip/receive"
	// ResultPath is the polling endpoint, suffixed with the task id.
	ResultPath = "/aevip/result/"
)

// WireOptions travels inside the packet and bounds execution on the worker.
type WireOptions struct {
	TimeoutMS int64 `json:"timeout_ms,omitempty"`
	Priority  int   `json:"priority,omitempty"`
}

// Packet is the wire unit sent to a node. The HMAC is computed over the JSON
// serialization of this struct; the sender POSTs exactly the bytes it signed
// so receivers verify against the raw request body.
type Packet struct {
	PacketType string      `json:"packet_type"`
	TaskID     string      `json:"task_id"`
	Tiles      []task.Tile `json:"tiles"`
	Options    WireOptions `json:"options"`
	Timestamp  int64       `json:"timestamp"`
	Sender     string      `json:"sender"`
}

// ResultEnvelope is the polling response.
type ResultEnvelope struct {
	PacketType string        `json:"packet_type"`
	TaskID     string        `json:"task_id"`
	Status     string        `json:"status"` // "pending" | "complete"
	Results    []task.Result `json:"results,omitempty"`
}

const (
	StatusPending  = "pending"
	StatusComplete = "complete"
)

// Encode serializes the packet and signs it with the shared secret.
func (p Packet) Encode(secret string) (body []byte, signature string, err error) {
	body, err = json.Marshal(p)
	if err != nil {
		return nil, "", fmt.Errorf("marshal packet: %w", err)
	}
	return body, Sign(body, secret), nil
}

// Decode verifies the signature against the raw body and unmarshals the
// packet. Returns ErrBadSignature before touching the payload.
func Decode(body []byte, secret, signature string) (Packet, error) {
	var p Packet
	if !Verify(body, secret, signature) {
		return p, ErrBadSignature
	}
	if err := json.Unmarshal(body, &p); err != nil {
		return p, fmt.Errorf("unmarshal packet: %w", err)
	}
	return p, nil
}

// Sign computes the hex HMAC-SHA256 of body under secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature against the raw body in constant time.
func Verify(body []byte, secret, signature string) bool {
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}
