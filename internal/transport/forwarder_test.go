// Copyright 2026 The WebX Router Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"testing"
	"time"

	"github.com/go-zeromq/zmq4"
)

// TestRelay_PreservesFramesVerbatim exercises the relay's core contract
// (§8 round-trip property): every frame received with a given secret
// prefix is emitted unchanged and in order. PAIR sockets are used rather
// than PUB/SUB to avoid the "slow joiner" subscription race, since the
// behavior under test is Relay.run's frame handling, not the forwarder's
// bind/subscribe wiring (covered by InstructionForwarder.Run/MessageCollector.Run
// against the real socket types used in production).
func TestRelay_PreservesFramesVerbatim(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feederIn := zmq4.NewPair(ctx)
	defer feederIn.Close()
	relayIn := zmq4.NewPair(ctx)
	defer relayIn.Close()

	relayOut := zmq4.NewPair(ctx)
	defer relayOut.Close()
	collectorOut := zmq4.NewPair(ctx)
	defer collectorOut.Close()

	const inAddr = "tcp://127.0.0.1:28551"
	const outAddr = "tcp://127.0.0.1:28552"

	if err := relayIn.Listen(inAddr); err != nil {
		t.Fatalf("relayIn.Listen failed: %v", err)
	}
	if err := relayOut.Listen(outAddr); err != nil {
		t.Fatalf("relayOut.Listen failed: %v", err)
	}

	if err := dialWithRetry(feederIn, inAddr); err != nil {
		t.Fatalf("feederIn.Dial failed: %v", err)
	}
	if err := dialWithRetry(collectorOut, outAddr); err != nil {
		t.Fatalf("collectorOut.Dial failed: %v", err)
	}

	relay := newRelay("test", nil)
	done := make(chan error, 1)
	go func() { done <- relay.run(ctx, relayIn, relayOut) }()

	secret := "0123456789abcdef0123456789abcdef"
	payload := []byte("cmd-data")
	if err := feederIn.Send(zmq4.NewMsgFrom([]byte(secret), payload)); err != nil {
		t.Fatalf("feederIn.Send failed: %v", err)
	}

	recvCtx, recvCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer recvCancel()

	msg, err := recvWithTimeout(recvCtx, collectorOut)
	if err != nil {
		t.Fatalf("collectorOut.Recv failed: %v", err)
	}

	if len(msg.Frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(msg.Frames))
	}
	if string(msg.Frames[0]) != secret {
		t.Errorf("expected prefix %q, got %q", secret, msg.Frames[0])
	}
	if string(msg.Frames[1]) != string(payload) {
		t.Errorf("expected payload %q, got %q", payload, msg.Frames[1])
	}

	cancel()
	<-done
}

func dialWithRetry(socket zmq4.Socket, addr string) error {
	var err error
	for i := 0; i < 20; i++ {
		if err = socket.Dial(addr); err == nil {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return err
}

func recvWithTimeout(ctx context.Context, socket zmq4.Socket) (zmq4.Msg, error) {
	type result struct {
		msg zmq4.Msg
		err error
	}
	ch := make(chan result, 1)
	go func() {
		msg, err := socket.Recv()
		ch <- result{msg, err}
	}()

	select {
	case r := <-ch:
		return r.msg, r.err
	case <-ctx.Done():
		return zmq4.Msg{}, ctx.Err()
	}
}
