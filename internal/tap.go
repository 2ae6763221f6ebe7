//go:build linux && !baremetal && !tinygo

package internal

import (
	"errors"
	"fmt"
	"math/bits"
	"net"
	"net/netip"
	"os/exec"

	"golang.org/x/sys/unix"
)

// Tap is a Linux TAP interface exchanging raw Ethernet frames with the kernel.
type Tap struct {
	fd   int // points to /dev/net/tun device.
	name string
}

// NewTap creates the TAP interface name. If ip is valid the interface is
// brought up and assigned the prefix using the ip command.
func NewTap(name string, ip netip.Prefix) (*Tap, error) {
	if len(name) >= unix.IFNAMSIZ {
		return nil, errors.New("name too large")
	}
	fd, err := unix.Open("/dev/net/tun", unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open tun device: %w", err)
	}
	ifr, err := unix.NewIfreq(name)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	ifr.SetUint16(unix.IFF_TAP | unix.IFF_NO_PI)
	err = unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("creating tap interface: %w", err)
	}
	if ip.IsValid() {
		err = exec.Command("ip", "link", "set", "dev", name, "up").Run()
		if err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("failed to set ip link: %w", err)
		}
		err = exec.Command("ip", "addr", "add", ip.String(), "dev", name).Run()
		if err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("failed to assign IP address: %w", err)
		}
	}
	return &Tap{fd: fd, name: name}, nil
}

// Name returns the interface name.
func (tap *Tap) Name() string { return tap.name }

// Read reads a single Ethernet frame into b.
func (tap *Tap) Read(b []byte) (int, error) {
	return unix.Read(tap.fd, b)
}

// Write writes a single Ethernet frame.
func (tap *Tap) Write(b []byte) (int, error) {
	return unix.Write(tap.fd, b)
}

func (tap *Tap) Close() error {
	return unix.Close(tap.fd)
}

// MTU returns the interface MTU as reported by the kernel.
func (tap *Tap) MTU() (int, error) {
	var mtu int
	err := tap.withSock(unix.SIOCGIFMTU, func(ifr *unix.Ifreq) error {
		mtu = int(ifr.Uint32())
		return nil
	})
	return mtu, err
}

// HardwareAddress6 returns the kernel side hardware address of the interface.
func (tap *Tap) HardwareAddress6() (hw [6]byte, err error) {
	iface, err := net.InterfaceByName(tap.name)
	if err != nil {
		return hw, err
	} else if len(iface.HardwareAddr) != 6 {
		return hw, fmt.Errorf("expected 6 byte hardware address, got %d", len(iface.HardwareAddr))
	}
	return [6]byte(iface.HardwareAddr), nil
}

// IPMask returns the kernel side address and prefix of the interface.
func (tap *Tap) IPMask() (netip.Prefix, error) {
	var addr, mask netip.Addr
	err := tap.withSock(unix.SIOCGIFADDR, func(ifr *unix.Ifreq) (err error) {
		ip, err := ifr.Inet4Addr()
		if err == nil {
			addr = netip.AddrFrom4([4]byte(ip))
		}
		return err
	})
	if err != nil {
		return netip.Prefix{}, err
	}
	err = tap.withSock(unix.SIOCGIFNETMASK, func(ifr *unix.Ifreq) (err error) {
		ip, err := ifr.Inet4Addr()
		if err == nil {
			mask = netip.AddrFrom4([4]byte(ip))
		}
		return err
	})
	if err != nil {
		return netip.Prefix{}, err
	}
	m := mask.As4()
	cidr := bits.OnesCount32(uint32(m[0])<<24 | uint32(m[1])<<16 | uint32(m[2])<<8 | uint32(m[3]))
	return netip.PrefixFrom(addr, cidr), nil
}

// withSock issues an interface ioctl on a throwaway datagram socket, the
// tun file descriptor does not answer interface queries.
func (tap *Tap) withSock(req uint, fn func(*unix.Ifreq) error) error {
	sock, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("tap socket open: %w", err)
	}
	defer unix.Close(sock)
	ifr, err := unix.NewIfreq(tap.name)
	if err != nil {
		return err
	}
	err = unix.IoctlIfreq(sock, req, ifr)
	if err != nil {
		return err
	}
	return fn(ifr)
}
