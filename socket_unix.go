/*
 * Copyright 2025 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

package ioloop

import (
	"net"

	"golang.org/x/sys/unix"
)

// newAsyncTCPSocket creates a non-blocking TCP socket ready to be associated
// with a reactor or proactor adapter.
func newAsyncTCPSocket(family AddressFamily) (Handle, error) {
	domain := unix.AF_INET
	if family == AddressFamilyIPv6 {
		domain = unix.AF_INET6
	}
	fd, err := unix.Socket(domain, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return 0, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return 0, err
	}
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	return Handle(fd), nil
}

func closeHandle(h Handle) error {
	return unix.Close(int(h))
}

// bindAndListen binds h to addr (nil means "any address, any port") and
// marks it as a listening socket, returning the address the kernel actually
// bound (relevant when addr's port is 0). SO_REUSEADDR is already set by
// newAsyncTCPSocket.
func bindAndListen(h Handle, addr *net.TCPAddr, backlog int) (*net.TCPAddr, error) {
	sa, err := tcpAddrToSockaddr(addr)
	if err != nil {
		return nil, err
	}
	if err := unix.Bind(int(h), sa); err != nil {
		return nil, err
	}
	if err := unix.Listen(int(h), backlog); err != nil {
		return nil, err
	}
	bound, err := unix.Getsockname(int(h))
	if err != nil {
		return nil, err
	}
	return sockaddrToTCPAddr(bound), nil
}

func sockaddrToTCPAddr(sa unix.Sockaddr) *net.TCPAddr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		ip := append(net.IP(nil), sa.Addr[:]...)
		return &net.TCPAddr{IP: ip, Port: sa.Port}
	case *unix.SockaddrInet6:
		ip := append(net.IP(nil), sa.Addr[:]...)
		return &net.TCPAddr{IP: ip, Port: sa.Port}
	default:
		return nil
	}
}

func tcpAddrToSockaddr(addr *net.TCPAddr) (unix.Sockaddr, error) {
	if addr == nil || addr.IP.To4() != nil {
		sa := &unix.SockaddrInet4{Port: addrPort(addr)}
		if addr != nil {
			copy(sa.Addr[:], addr.IP.To4())
		}
		return sa, nil
	}
	sa := &unix.SockaddrInet6{Port: addrPort(addr)}
	copy(sa.Addr[:], addr.IP.To16())
	return sa, nil
}

func addrPort(addr *net.TCPAddr) int {
	if addr == nil {
		return 0
	}
	return addr.Port
}
