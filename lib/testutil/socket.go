// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"io"
	"net"
	"os"
	"testing"

	"golang.org/x/sys/unix"
)

// SocketPair returns both ends of a connected Unix stream socket pair.
// Both are closed when the test completes; closing them earlier is
// fine.
func SocketPair(t *testing.T) (*net.UnixConn, *net.UnixConn) {
	t.Helper()

	descriptors, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	unix.CloseOnExec(descriptors[0])
	unix.CloseOnExec(descriptors[1])

	left := fileConn(t, descriptors[0], "test-socket-left")
	right := fileConn(t, descriptors[1], "test-socket-right")
	t.Cleanup(func() {
		left.Close()
		right.Close()
	})
	return left, right
}

func fileConn(t *testing.T, descriptor int, name string) *net.UnixConn {
	t.Helper()

	file := os.NewFile(uintptr(descriptor), name)
	defer file.Close()

	conn, err := net.FileConn(file)
	if err != nil {
		t.Fatalf("converting %s to net.Conn: %v", name, err)
	}
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		conn.Close()
		t.Fatalf("%s is %T, not *net.UnixConn", name, conn)
	}
	return unixConn
}

// TempFileWithContent returns an anonymous file containing content,
// seeked back to offset zero so a reader of a duplicated descriptor
// sees the bytes from the start. The file is closed at test cleanup.
func TempFileWithContent(t *testing.T, content string) *os.File {
	t.Helper()

	file, err := os.CreateTemp(t.TempDir(), "descriptor-*")
	if err != nil {
		t.Fatalf("creating temp file: %v", err)
	}
	t.Cleanup(func() { file.Close() })

	if _, err := file.WriteString(content); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("seeking temp file: %v", err)
	}
	if err := os.Remove(file.Name()); err != nil {
		t.Fatalf("unlinking temp file: %v", err)
	}
	return file
}
