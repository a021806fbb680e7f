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

//go:build windows

package ioloop

import (
	"net"

	"golang.org/x/sys/windows"
)

// newAsyncTCPSocket creates a TCP socket suitable for overlapped I/O and
// association with an IOCP adapter. Overlapped sockets on Windows stay in
// blocking mode; asynchrony comes from issuing operations with an
// OVERLAPPED, not from FIONBIO.
func newAsyncTCPSocket(family AddressFamily) (Handle, error) {
	domain := windows.AF_INET
	if family == AddressFamilyIPv6 {
		domain = windows.AF_INET6
	}
	fd, err := windows.WSASocket(int32(domain), windows.SOCK_STREAM, int32(windows.IPPROTO_TCP), nil, 0, windows.WSA_FLAG_OVERLAPPED)
	if err != nil {
		return 0, err
	}
	return Handle(fd), nil
}

func closeHandle(h Handle) error {
	return windows.Closesocket(windows.Handle(h))
}

// bindAndListen binds h to addr (nil means "any address, any port") and
// marks it as a listening socket, returning the address the kernel actually
// bound (relevant when addr's port is 0).
func bindAndListen(h Handle, addr *net.TCPAddr, backlog int) (*net.TCPAddr, error) {
	sa, err := tcpAddrToSockaddr(addr)
	if err != nil {
		return nil, err
	}
	s := windows.Handle(h)
	if err := windows.Bind(s, sa); err != nil {
		return nil, err
	}
	if err := windows.Listen(s, backlog); err != nil {
		return nil, err
	}
	bound, err := windows.Getsockname(s)
	if err != nil {
		return nil, err
	}
	return sockaddrToTCPAddr(bound), nil
}

func sockaddrToTCPAddr(sa windows.Sockaddr) *net.TCPAddr {
	switch sa := sa.(type) {
	case *windows.SockaddrInet4:
		ip := append(net.IP(nil), sa.Addr[:]...)
		return &net.TCPAddr{IP: ip, Port: sa.Port}
	case *windows.SockaddrInet6:
		ip := append(net.IP(nil), sa.Addr[:]...)
		return &net.TCPAddr{IP: ip, Port: sa.Port}
	default:
		return nil
	}
}

func tcpAddrToSockaddr(addr *net.TCPAddr) (windows.Sockaddr, error) {
	if addr == nil || addr.IP.To4() != nil {
		sa := &windows.SockaddrInet4{Port: addrPort(addr)}
		if addr != nil {
			copy(sa.Addr[:], addr.IP.To4())
		}
		return sa, nil
	}
	sa := &windows.SockaddrInet6{Port: addrPort(addr)}
	copy(sa.Addr[:], addr.IP.To16())
	return sa, nil
}

func addrPort(addr *net.TCPAddr) int {
	if addr == nil {
		return 0
	}
	return addr.Port
}
