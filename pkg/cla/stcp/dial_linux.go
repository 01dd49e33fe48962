// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

//go:build linux

package stcp

import (
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Linux-specific socket options are configured for the client's TCP
// connection to detect abrupt connection losses, e.g., nodes moving out of
// range. The values are based on the Linux tcp(7) manual page.

// dialControl is the net.Dialer's Control function to set the socket options.
func dialControl(_, _ string, rawConn syscall.RawConn) (err error) {
	const (
		// TCP_KEEPCNT, keepalive probes before dropping the connection.
		dialTcpKeepCnt int = 1

		// TCP_KEEPIDLE, idle seconds before sending keepalive probes.
		dialTcpKeepIdle int = 5

		// TCP_KEEPINTVL, seconds between keepalive probes.
		dialTcpKeepIntvl int = 3

		// TCP_USER_TIMEOUT, milliseconds transmitted data may remain unacknowledged.
		dialTcpUserTimeout int = 2000
	)

	opts := map[int]int{
		unix.TCP_KEEPCNT:      dialTcpKeepCnt,
		unix.TCP_KEEPIDLE:     dialTcpKeepIdle,
		unix.TCP_KEEPINTVL:    dialTcpKeepIntvl,
		unix.TCP_USER_TIMEOUT: dialTcpUserTimeout,
	}

	ctrlErr := rawConn.Control(func(fd uintptr) {
		if err = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
			return
		}
		for opt, value := range opts {
			if err = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, opt, value); err != nil {
				return
			}
		}
	})
	if err == nil {
		err = ctrlErr
	}
	return
}

// dial a new TCP connection with socket options set.
func dial(address string) (net.Conn, error) {
	dialer := &net.Dialer{
		Timeout:   time.Second,
		KeepAlive: -1,
		Control:   dialControl,
	}
	return dialer.Dial("tcp", address)
}
