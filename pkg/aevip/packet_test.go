package aevip

import (
	"testing"

	"aevrt/pkg/task"
)

func samplePacket() Packet {
	return Packet{
		PacketType: PacketTypeTask,
		TaskID:     "task-1",
		Tiles: []task.Tile{
			{Index: 0, TaskID: "task-1", Type: task.TypeLanguage},
			{Index: 1, TaskID: "task-1", Type: task.TypeLanguage},
		},
		Options:   WireOptions{TimeoutMS: 60000, Priority: 2},
		Timestamp: 1700000000000,
		Sender:    "node-a",
	}
}

func TestEncodeSignVerify(t *testing.T) {
	body, sig, err := samplePacket().Encode("secret")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !Verify(body, "secret", sig) {
		t.Fatal("signature must verify against the exact signed bytes")
	}
	if Verify(body, "other", sig) {
		t.Fatal("wrong secret must not verify")
	}

	tampered := append([]byte(nil), body...)
	tampered[0] ^= 0x01
	if Verify(tampered, "secret", sig) {
		t.Fatal("tampered body must not verify")
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	b1, s1, err := samplePacket().Encode("secret")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	b2, s2, err := samplePacket().Encode("secret")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(b1) != string(b2) || s1 != s2 {
		t.Fatal("identical packets must serialize and sign identically")
	}
}

func TestVerifyRejectsMalformedSignature(t *testing.T) {
	body, _, err := samplePacket().Encode("secret")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if Verify(body, "secret", "not-hex") {
		t.Fatal("non-hex signature must not verify")
	}
	if Verify(body, "secret", "") {
		t.Fatal("empty signature must not verify")
	}
}
