// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"runtime"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/privsep/lib/codec"
	"github.com/bureau-foundation/privsep/lib/testutil"
)

const testTimeout = 5 * time.Second

// testMessage carries a descriptor when Kind is "file".
type testMessage struct {
	Kind string   `cbor:"kind"`
	Text string   `cbor:"text,omitempty"`
	Data []byte   `cbor:"data,omitempty"`
	File *os.File `cbor:"-"`
}

func (m testMessage) ExtractDescriptor() (*os.File, bool) {
	return m.File, m.Kind == "file"
}

func (m *testMessage) AttachDescriptor(queue *DescriptorQueue) error {
	if m.Kind != "file" {
		return nil
	}
	file, err := queue.TakeFile("received-file")
	if err != nil {
		return err
	}
	m.File = file
	return nil
}

// encodeFrame builds the wire form of message by hand.
func encodeFrame(t *testing.T, message testMessage) []byte {
	t.Helper()
	payload, err := codec.Marshal(message)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	frame := make([]byte, PrefixSize+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[PrefixSize:], payload)
	return frame
}

// rawPair returns a bare socket for writing frames by hand and a
// Channel on the other end.
func rawPair(t *testing.T, logger *testutil.LogCapture) (*net.UnixConn, *Channel) {
	t.Helper()
	left, right := testutil.SocketPair(t)
	var channel *Channel
	var err error
	if logger != nil {
		channel, err = New(right, logger.Logger())
	} else {
		channel, err = New(right, nil)
	}
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { channel.Close() })
	return left, channel
}

func channelPair(t *testing.T) (*Channel, *Channel) {
	t.Helper()
	left, right, err := Pair(nil)
	if err != nil {
		t.Fatalf("Pair: %v", err)
	}
	t.Cleanup(func() {
		left.Close()
		right.Close()
	})
	return left, right
}

func receiveAsync(ctx context.Context, channel *Channel) (<-chan error, *testMessage) {
	var message testMessage
	errs := make(chan error, 1)
	go func() { errs <- channel.Receive(ctx, &message) }()
	return errs, &message
}

func TestRoundTrip(t *testing.T) {
	left, right := channelPair(t)
	ctx := context.Background()

	sent := testMessage{Kind: "data", Text: testutil.UniqueID("hello"), Data: []byte{0, 1, 2, 255}}
	if err := left.Send(ctx, &sent); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var received testMessage
	if err := right.Receive(ctx, &received); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if received.Kind != sent.Kind || received.Text != sent.Text || !bytes.Equal(received.Data, sent.Data) {
		t.Errorf("received %+v, want %+v", received, sent)
	}
	if received.File != nil {
		t.Errorf("non-carrying message received a file")
	}
}

func TestDescriptorTransfer(t *testing.T) {
	left, right := channelPair(t)
	ctx := context.Background()

	const content = "contents behind the descriptor"
	file := testutil.TempFileWithContent(t, content)

	if err := left.Send(ctx, &testMessage{Kind: "file", File: file}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	// The sender keeps its own copy.
	if _, err := file.Stat(); err != nil {
		t.Errorf("sender's file unusable after Send: %v", err)
	}

	var received testMessage
	if err := right.Receive(ctx, &received); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if received.File == nil {
		t.Fatal("received file message without a file")
	}
	defer received.File.Close()

	data, err := io.ReadAll(received.File)
	if err != nil {
		t.Fatalf("reading received file: %v", err)
	}
	if string(data) != content {
		t.Errorf("received file content = %q, want %q", data, content)
	}

	flags, err := unix.FcntlInt(received.File.Fd(), unix.F_GETFD, 0)
	if err != nil {
		t.Fatalf("F_GETFD: %v", err)
	}
	if flags&unix.FD_CLOEXEC == 0 {
		t.Error("received descriptor is not close-on-exec")
	}
}

func TestDescriptorsAreDeliveredInOrder(t *testing.T) {
	left, right := channelPair(t)
	ctx := context.Background()

	contents := []string{"first", "second", "third"}
	for _, content := range contents {
		file := testutil.TempFileWithContent(t, content)
		if err := left.Send(ctx, &testMessage{Kind: "file", Text: content, File: file}); err != nil {
			t.Fatalf("Send(%s): %v", content, err)
		}
	}

	for _, want := range contents {
		var received testMessage
		if err := right.Receive(ctx, &received); err != nil {
			t.Fatalf("Receive: %v", err)
		}
		data, err := io.ReadAll(received.File)
		received.File.Close()
		if err != nil {
			t.Fatalf("reading %s: %v", want, err)
		}
		if received.Text != want || string(data) != want {
			t.Errorf("got text %q with file %q, want %q", received.Text, data, want)
		}
	}
}

func TestSendCarryingMessageWithoutFile(t *testing.T) {
	left, right := channelPair(t)
	ctx := context.Background()

	err := left.Send(ctx, &testMessage{Kind: "file"})
	if !errors.Is(err, ErrMissingDescriptor) {
		t.Fatalf("Send error = %v, want ErrMissingDescriptor", err)
	}

	// Nothing was written, so the channel is still usable.
	if err := left.Send(ctx, &testMessage{Kind: "data", Text: "after"}); err != nil {
		t.Fatalf("Send after rejected message: %v", err)
	}
	var received testMessage
	if err := right.Receive(ctx, &received); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if received.Text != "after" {
		t.Errorf("received %q, want %q", received.Text, "after")
	}
}

// maxSizeData returns a Data length whose encoded message is exactly
// MaxPayloadSize bytes.
func maxSizeData(t *testing.T) int {
	t.Helper()
	const guess = 4000
	payload, err := codec.Marshal(testMessage{Kind: "data", Data: make([]byte, guess)})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	size := guess + MaxPayloadSize - len(payload)
	payload, err = codec.Marshal(testMessage{Kind: "data", Data: make([]byte, size)})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if len(payload) != MaxPayloadSize {
		t.Fatalf("sized payload is %d bytes, want %d", len(payload), MaxPayloadSize)
	}
	return size
}

// TestSendPartialWrites shrinks the send buffer below one frame so each
// frame leaves in several sendmsg calls. The descriptor rides the first
// of them only, and every frame arrives intact.
func TestSendPartialWrites(t *testing.T) {
	left, right := testutil.SocketPair(t)
	if err := left.SetWriteBuffer(1); err != nil {
		t.Fatalf("SetWriteBuffer: %v", err)
	}
	sender, err := New(left, nil)
	if err != nil {
		t.Fatalf("New(sender): %v", err)
	}
	receiver, err := New(right, nil)
	if err != nil {
		t.Fatalf("New(receiver): %v", err)
	}
	t.Cleanup(func() {
		sender.Close()
		receiver.Close()
	})

	const content = "carried across a split frame"
	const frames = 8
	size := maxSizeData(t)
	file := testutil.TempFileWithContent(t, content)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	sent := make(chan error, 1)
	go func() {
		for i := 0; i < frames; i++ {
			message := testMessage{Kind: "data", Data: bytes.Repeat([]byte{byte(i + 1)}, size)}
			if i == 0 {
				message.Kind = "file"
				message.File = file
			}
			if err := sender.Send(ctx, &message); err != nil {
				sent <- fmt.Errorf("Send(%d): %w", i, err)
				return
			}
		}
		sent <- nil
	}()

	// With nobody reading, the sender must stall part way through.
	if runtime.GOOS == "linux" {
		select {
		case err := <-sent:
			t.Fatalf("all %d frames fit in the send buffer (err %v)", frames, err)
		case <-time.After(100 * time.Millisecond):
		}
	}

	for i := 0; i < frames; i++ {
		var received testMessage
		if err := receiver.Receive(ctx, &received); err != nil {
			t.Fatalf("Receive(%d): %v", i, err)
		}
		if !bytes.Equal(received.Data, bytes.Repeat([]byte{byte(i + 1)}, size)) {
			t.Fatalf("frame %d arrived with corrupted data (%d bytes)", i, len(received.Data))
		}
		if i == 0 {
			if received.File == nil {
				t.Fatal("first frame arrived without its descriptor")
			}
			data, err := io.ReadAll(received.File)
			received.File.Close()
			if err != nil || string(data) != content {
				t.Errorf("received file reads %q (err %v), want %q", data, err, content)
			}
		} else if received.File != nil {
			t.Errorf("frame %d carried a file", i)
		}
	}

	if err := testutil.RequireError(t, sent, testTimeout, "sender finishing"); err != nil {
		t.Fatal(err)
	}
	if pending := receiver.receiver.PendingDescriptors(); pending != 0 {
		t.Errorf("PendingDescriptors = %d after all frames, want 0 (descriptor sent more than once)", pending)
	}
}

func TestFrameSizeLimit(t *testing.T) {
	left, right := channelPair(t)
	ctx := context.Background()
	size := maxSizeData(t)

	err := left.Send(ctx, &testMessage{Kind: "data", Data: make([]byte, size+1)})
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("oversized Send error = %v, want ErrFrameTooLarge", err)
	}
	var tooLarge *FrameTooLargeError
	if !errors.As(err, &tooLarge) {
		t.Fatalf("oversized Send error %T is not *FrameTooLargeError", err)
	}
	if tooLarge.Direction != Transmit || tooLarge.Size != MaxPayloadSize+1 || tooLarge.Limit != MaxPayloadSize {
		t.Errorf("FrameTooLargeError = %+v", tooLarge)
	}

	exact := bytes.Repeat([]byte{0xab}, size)
	if err := left.Send(ctx, &testMessage{Kind: "data", Data: exact}); err != nil {
		t.Fatalf("Send at capacity: %v", err)
	}
	if err := left.Send(ctx, &testMessage{Kind: "data", Text: "small"}); err != nil {
		t.Fatalf("Send after rejected frame: %v", err)
	}

	// The rejected frame never reached the socket: the first thing the
	// peer sees is the full-capacity frame.
	var first, second testMessage
	if err := right.Receive(ctx, &first); err != nil {
		t.Fatalf("Receive at capacity: %v", err)
	}
	if !bytes.Equal(first.Data, exact) {
		t.Errorf("first frame carries %d bytes, want the %d-byte frame", len(first.Data), len(exact))
	}
	if err := right.Receive(ctx, &second); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if second.Text != "small" {
		t.Errorf("second frame text = %q, want %q", second.Text, "small")
	}
}

func TestReceiveOversizedPrefix(t *testing.T) {
	raw, channel := rawPair(t, nil)
	ctx := context.Background()

	prefix := make([]byte, PrefixSize)
	binary.BigEndian.PutUint32(prefix, 5000)
	if _, err := raw.Write(prefix); err != nil {
		t.Fatalf("Write: %v", err)
	}

	var message testMessage
	err := channel.Receive(ctx, &message)
	var tooLarge *FrameTooLargeError
	if !errors.As(err, &tooLarge) {
		t.Fatalf("Receive error = %v, want *FrameTooLargeError", err)
	}
	if tooLarge.Direction != Receive || tooLarge.Size != 5000+PrefixSize || tooLarge.Limit != BufferSize {
		t.Errorf("FrameTooLargeError = %+v", tooLarge)
	}

	// The stream cannot be resynchronized; the error sticks even once
	// valid frames follow.
	if _, err := raw.Write(encodeFrame(t, testMessage{Kind: "data"})); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := channel.Receive(ctx, &message); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("second Receive error = %v, want ErrFrameTooLarge", err)
	}
}

func TestReceiveFragmentedFrame(t *testing.T) {
	raw, channel := rawPair(t, nil)

	want := testMessage{Kind: "data", Text: testutil.UniqueID("fragmented")}
	frame := encodeFrame(t, want)

	errs, received := receiveAsync(context.Background(), channel)
	for i := range frame {
		if _, err := raw.Write(frame[i : i+1]); err != nil {
			t.Fatalf("Write byte %d: %v", i, err)
		}
		time.Sleep(time.Millisecond) //nolint:realclock forces separate reads
	}

	if err := testutil.RequireError(t, errs, testTimeout, "fragmented receive"); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if received.Text != want.Text {
		t.Errorf("received %q, want %q", received.Text, want.Text)
	}
}

func TestReceivePipelinedFrames(t *testing.T) {
	raw, channel := rawPair(t, nil)
	ctx := context.Background()

	first := testMessage{Kind: "data", Text: "first"}
	second := testMessage{Kind: "data", Text: "second"}
	batch := append(encodeFrame(t, first), encodeFrame(t, second)...)
	if _, err := raw.Write(batch); err != nil {
		t.Fatalf("Write: %v", err)
	}

	for _, want := range []testMessage{first, second} {
		var received testMessage
		if err := channel.Receive(ctx, &received); err != nil {
			t.Fatalf("Receive: %v", err)
		}
		if received.Text != want.Text {
			t.Errorf("received %q, want %q", received.Text, want.Text)
		}
	}
}

func TestReceiveCleanShutdown(t *testing.T) {
	raw, channel := rawPair(t, nil)

	if _, err := raw.Write(encodeFrame(t, testMessage{Kind: "data", Text: "last"})); err != nil {
		t.Fatalf("Write: %v", err)
	}
	raw.Close()

	var message testMessage
	if err := channel.Receive(context.Background(), &message); err != nil {
		t.Fatalf("Receive before shutdown: %v", err)
	}
	err := channel.Receive(context.Background(), &message)
	if !errors.Is(err, io.EOF) {
		t.Errorf("Receive after clean shutdown = %v, want io.EOF", err)
	}
	if !errors.Is(err, ErrConnectionClosedPrematurely) {
		t.Errorf("Receive after clean shutdown = %v, want ErrConnectionClosedPrematurely", err)
	}
	if !IsPeerGone(err) {
		t.Errorf("IsPeerGone(%v) = false", err)
	}
}

func TestReceiveTruncatedFrame(t *testing.T) {
	raw, channel := rawPair(t, nil)

	frame := encodeFrame(t, testMessage{Kind: "data", Text: "never completed"})
	partial := frame[:len(frame)/2]
	if _, err := raw.Write(partial); err != nil {
		t.Fatalf("Write: %v", err)
	}
	raw.Close()

	var message testMessage
	err := channel.Receive(context.Background(), &message)
	if !errors.Is(err, ErrConnectionClosedPrematurely) {
		t.Fatalf("Receive error = %v, want ErrConnectionClosedPrematurely", err)
	}
	if errors.Is(err, io.EOF) {
		t.Errorf("truncated frame reported as clean EOF: %v", err)
	}
	var closed *ClosedError
	if !errors.As(err, &closed) || closed.Buffered != len(partial) {
		t.Errorf("ClosedError = %+v, want Buffered %d", closed, len(partial))
	}
}

func TestReceiveMissingDescriptor(t *testing.T) {
	raw, channel := rawPair(t, nil)

	if _, err := raw.Write(encodeFrame(t, testMessage{Kind: "file"})); err != nil {
		t.Fatalf("Write: %v", err)
	}
	var message testMessage
	err := channel.Receive(context.Background(), &message)
	if !errors.Is(err, ErrMissingDescriptor) {
		t.Errorf("Receive error = %v, want ErrMissingDescriptor", err)
	}
}

func TestReceiveUndecodablePayload(t *testing.T) {
	raw, channel := rawPair(t, nil)

	// A CBOR text string where a map is expected.
	payload := []byte{0x63, 'a', 'b', 'c'}
	frame := binary.BigEndian.AppendUint32(nil, uint32(len(payload)))
	frame = append(frame, payload...)
	if _, err := raw.Write(frame); err != nil {
		t.Fatalf("Write: %v", err)
	}

	var message testMessage
	err := channel.Receive(context.Background(), &message)
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("Receive error = %v, want *DecodeError", err)
	}
	if decodeErr.Length != len(payload) {
		t.Errorf("DecodeError.Length = %d, want %d", decodeErr.Length, len(payload))
	}
	if decodeErr.Malformed {
		t.Error("a well-formed item of the wrong shape was reported as malformed CBOR")
	}
}

func TestReceiveMalformedPayload(t *testing.T) {
	var logs testutil.LogCapture
	raw, channel := rawPair(t, &logs)

	// A text string header promising five bytes, followed by two.
	payload := []byte{0x65, 'a', 'b'}
	frame := binary.BigEndian.AppendUint32(nil, uint32(len(payload)))
	frame = append(frame, payload...)
	if _, err := raw.Write(frame); err != nil {
		t.Fatalf("Write: %v", err)
	}

	var message testMessage
	err := channel.Receive(context.Background(), &message)
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("Receive error = %v, want *DecodeError", err)
	}
	if !decodeErr.Malformed {
		t.Errorf("DecodeError.Malformed = false for %x", payload)
	}
	if !logs.Contains("malformed CBOR") {
		t.Errorf("expected the malformed payload in the debug log, got:\n%s", logs.String())
	}
	// Sticky.
	if again := channel.Receive(context.Background(), &message); again != err {
		t.Errorf("second Receive = %v, want the same error %v", again, err)
	}
}

func TestUnclaimedDescriptorsAreClosed(t *testing.T) {
	var logs testutil.LogCapture
	raw, channel := rawPair(t, &logs)

	reader, writer, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer reader.Close()

	// A non-carrying message with a descriptor attached anyway.
	frame := encodeFrame(t, testMessage{Kind: "data", Text: "stray"})
	if _, _, err := raw.WriteMsgUnix(frame, unix.UnixRights(int(writer.Fd())), nil); err != nil {
		t.Fatalf("WriteMsgUnix: %v", err)
	}
	writer.Close()

	var message testMessage
	if err := channel.Receive(context.Background(), &message); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if message.Text != "stray" {
		t.Errorf("received %q, want %q", message.Text, "stray")
	}
	if !logs.Contains("does not carry one") {
		t.Errorf("expected a warning about the unclaimed descriptor, got:\n%s", logs.String())
	}
	if pending := channel.receiver.PendingDescriptors(); pending != 1 {
		t.Fatalf("PendingDescriptors = %d, want 1", pending)
	}

	if err := channel.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := channel.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	// The queued copy was the last write end; once it is closed the
	// read end sees EOF.
	done := make(chan error, 1)
	go func() {
		_, err := io.ReadAll(reader)
		done <- err
	}()
	if err := testutil.RequireError(t, done, testTimeout, "pipe EOF after Close"); err != nil {
		t.Errorf("reading pipe: %v", err)
	}
}

func TestReceiveResumesAfterCancellation(t *testing.T) {
	raw, channel := rawPair(t, nil)

	want := testMessage{Kind: "data", Text: testutil.UniqueID("resumed")}
	frame := encodeFrame(t, want)
	if _, err := raw.Write(frame[:PrefixSize+3]); err != nil {
		t.Fatalf("Write: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	var message testMessage
	if err := channel.Receive(ctx, &message); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("cancelled Receive error = %v, want context.DeadlineExceeded", err)
	}

	if _, err := raw.Write(frame[PrefixSize+3:]); err != nil {
		t.Fatalf("Write: %v", err)
	}
	errs, received := receiveAsync(context.Background(), channel)
	if err := testutil.RequireError(t, errs, testTimeout, "resumed receive"); err != nil {
		t.Fatalf("Receive after cancellation: %v", err)
	}
	if received.Text != want.Text {
		t.Errorf("received %q, want %q", received.Text, want.Text)
	}
}

func TestSendCancelledBeforeWrite(t *testing.T) {
	left, right := channelPair(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := left.Send(ctx, &testMessage{Kind: "data"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Send error = %v, want context.Canceled", err)
	}

	if err := left.Send(context.Background(), &testMessage{Kind: "data", Text: "after"}); err != nil {
		t.Fatalf("Send after cancellation: %v", err)
	}
	var received testMessage
	if err := right.Receive(context.Background(), &received); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if received.Text != "after" {
		t.Errorf("received %q, want %q", received.Text, "after")
	}
}

func TestCloseInterruptsBlockedReceive(t *testing.T) {
	_, right := channelPair(t)
	_, receiver := right.Split()

	var message testMessage
	errs := make(chan error, 1)
	go func() { errs <- receiver.Receive(context.Background(), &message) }()

	time.Sleep(20 * time.Millisecond) //nolint:realclock let Receive park
	if err := receiver.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	err := testutil.RequireError(t, errs, testTimeout, "interrupted receive")
	if !errors.Is(err, net.ErrClosed) {
		t.Errorf("Receive after Close = %v, want net.ErrClosed", err)
	}
	if err := receiver.Receive(context.Background(), &message); !errors.Is(err, net.ErrClosed) {
		t.Errorf("Receive on closed receiver = %v, want net.ErrClosed", err)
	}
}

func TestSplitHalvesRunConcurrently(t *testing.T) {
	left, right := channelPair(t)
	leftSender, leftReceiver := left.Split()
	rightSender, rightReceiver := right.Split()
	ctx := context.Background()

	const count = 200
	sendAll := func(sender *Sender, prefix string) <-chan error {
		errs := make(chan error, 1)
		go func() {
			for i := range count {
				message := testMessage{Kind: "data", Text: prefix, Data: binary.BigEndian.AppendUint32(nil, uint32(i))}
				if err := sender.Send(ctx, &message); err != nil {
					errs <- err
					return
				}
			}
			errs <- nil
		}()
		return errs
	}
	receiveAll := func(receiver *Receiver, prefix string) <-chan error {
		errs := make(chan error, 1)
		go func() {
			for i := range count {
				var message testMessage
				if err := receiver.Receive(ctx, &message); err != nil {
					errs <- err
					return
				}
				if message.Text != prefix || binary.BigEndian.Uint32(message.Data) != uint32(i) {
					errs <- errors.New("out of order: " + message.Text)
					return
				}
			}
			errs <- nil
		}()
		return errs
	}

	results := []<-chan error{
		sendAll(leftSender, "left"),
		sendAll(rightSender, "right"),
		receiveAll(rightReceiver, "left"),
		receiveAll(leftReceiver, "right"),
	}
	for _, result := range results {
		if err := testutil.RequireError(t, result, testTimeout, "concurrent traffic"); err != nil {
			t.Errorf("concurrent traffic: %v", err)
		}
	}
}

func TestPump(t *testing.T) {
	left, right := channelPair(t)
	sender, _ := left.Split()
	_, receiver := right.Split()
	ctx := context.Background()

	out := make(chan testMessage)
	done := make(chan error, 1)
	go func() { done <- Pump[testMessage](ctx, receiver, out) }()

	for _, text := range []string{"one", "two"} {
		if err := sender.Send(ctx, &testMessage{Kind: "data", Text: text}); err != nil {
			t.Fatalf("Send: %v", err)
		}
		message := testutil.RequireReceive(t, out, testTimeout, "pumped message")
		if message.Text != text {
			t.Errorf("pumped %q, want %q", message.Text, text)
		}
	}

	sender.Close()
	err := testutil.RequireError(t, done, testTimeout, "pump exit")
	if !errors.Is(err, io.EOF) {
		t.Errorf("Pump returned %v, want io.EOF", err)
	}
}

func TestFromDescriptorRejectsNonSocket(t *testing.T) {
	reader, writer, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer writer.Close()

	descriptor, err := unix.Dup(int(reader.Fd()))
	reader.Close()
	if err != nil {
		t.Fatalf("Dup: %v", err)
	}
	if _, err := FromDescriptor(descriptor, nil); err == nil {
		t.Fatal("FromDescriptor accepted a pipe")
	}
	// The rejected descriptor was closed.
	if _, err := unix.FcntlInt(uintptr(descriptor), unix.F_GETFD, 0); err != unix.EBADF {
		t.Errorf("descriptor %d still open after rejection (err=%v)", descriptor, err)
	}
}

func TestFromDescriptorRejectsClosedDescriptor(t *testing.T) {
	// A high number nothing in the test binary has opened.
	descriptor := -1
	for candidate := 900; candidate < 1000; candidate++ {
		if _, err := unix.FcntlInt(uintptr(candidate), unix.F_GETFD, 0); err == unix.EBADF {
			descriptor = candidate
			break
		}
	}
	if descriptor < 0 {
		t.Skip("no unused descriptor number in [900, 1000)")
	}

	_, err := FromDescriptor(descriptor, nil)
	if err == nil {
		t.Fatal("FromDescriptor accepted a closed descriptor")
	}
	if !errors.Is(err, unix.EBADF) {
		t.Errorf("FromDescriptor error = %v, want EBADF", err)
	}
}
