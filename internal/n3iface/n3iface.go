// Copyright 2020 hhorai. All rights reserved.
// Use of this source code is governed by a MIT license that can be found
// in the LICENSE file.

// Package n3iface brings up the N3 (NG-U) gateway's TUN device, address,
// default route and policy routing rule, so decapsulated T-PDU payloads
// delivered by gtpu/rx.Rx can be written straight onto the kernel IP stack
// (and PDU session uplink traffic read back off it for gtpu/tx.Tx).
//
// Grounded on the teacher's example/example.go: addTunnel, addIP, addRoute
// and addRuleLocal, generalised from a single hardcoded "gtp-gnbsim"
// interface/ECI-1001 table to a per-PDU-session interface name and routing
// table number.
package n3iface

import (
	"fmt"
	"net"
	"os"

	"github.com/vishvananda/netlink"
)

// Device is one PDU session's TUN device, IP address and policy route.
type Device struct {
	Name    string
	TableID int
	tun     *netlink.Tuntap
}

// Up creates (or reuses) a TUN device named ifname, assigns addr/masklen to
// it, installs a default route into the per-device routing table, and adds
// a "from addr lookup table" policy rule so uplink traffic originating from
// the UE's PDU session address is routed through it.
func Up(ifname string, addr net.IP, masklen int, tableID int) (*Device, error) {
	tun, err := addTunnel(ifname)
	if err != nil {
		return nil, err
	}
	if err := addIP(ifname, addr, masklen); err != nil {
		return nil, err
	}
	if err := addRoute(tun, tableID); err != nil {
		return nil, err
	}
	if err := addRuleLocal(addr, tableID); err != nil {
		return nil, err
	}
	return &Device{Name: ifname, TableID: tableID, tun: tun}, nil
}

// File returns the TUN device's queue file for raw packet read/write,
// matching the teacher's tun.Fds[0].Read/Write usage in decap/encap.
func (d *Device) File() *os.File {
	return d.tun.Fds[0]
}

// Down removes the TUN device, taking its route and address with it.
func (d *Device) Down() error {
	return netlink.LinkDel(d.tun)
}

func addTunnel(ifname string) (*netlink.Tuntap, error) {
	tun := &netlink.Tuntap{
		LinkAttrs: netlink.LinkAttrs{Name: ifname},
		Mode:      netlink.TUNTAP_MODE_TUN,
		Flags:     netlink.TUNTAP_DEFAULTS | netlink.TUNTAP_NO_PI,
		Queues:    1,
	}
	if err := netlink.LinkAdd(tun); err != nil {
		return nil, fmt.Errorf("n3iface: add tun device %s: %w", ifname, err)
	}
	if err := netlink.LinkSetUp(tun); err != nil {
		return nil, fmt.Errorf("n3iface: set tun device %s up: %w", ifname, err)
	}
	return tun, nil
}

func addIP(ifname string, ip net.IP, masklen int) error {
	link, err := netlink.LinkByName(ifname)
	if err != nil {
		return fmt.Errorf("n3iface: lookup %s: %w", ifname, err)
	}

	addrs, err := netlink.AddrList(link, netlink.FAMILY_ALL)
	if err != nil {
		return fmt.Errorf("n3iface: list addresses on %s: %w", ifname, err)
	}

	netToAdd := &net.IPNet{IP: ip, Mask: net.CIDRMask(masklen, 32)}
	var addr netlink.Addr
	found := false
	for _, a := range addrs {
		if a.Label != ifname {
			continue
		}
		found = true
		if a.IPNet.String() == netToAdd.String() {
			return nil
		}
		addr = a
	}
	if !found {
		addr = netlink.Addr{}
	}

	addr.IPNet = netToAdd
	if err := netlink.AddrAdd(link, &addr); err != nil {
		return fmt.Errorf("n3iface: add address %s to %s: %w", netToAdd, ifname, err)
	}
	return nil
}

func addRoute(tun *netlink.Tuntap, tableID int) error {
	route := &netlink.Route{
		Dst:       &net.IPNet{IP: net.IPv4zero, Mask: net.CIDRMask(0, 32)},
		LinkIndex: tun.Attrs().Index,
		Scope:     netlink.SCOPE_LINK,
		Protocol:  4,
		Priority:  1,
		Table:     tableID,
	}
	if err := netlink.RouteReplace(route); err != nil {
		return fmt.Errorf("n3iface: replace default route in table %d: %w", tableID, err)
	}
	return nil
}

func addRuleLocal(ip net.IP, tableID int) error {
	rules, err := netlink.RuleList(0) // NETLINK_ROUTE
	if err != nil {
		return fmt.Errorf("n3iface: list rules: %w", err)
	}

	mask32 := &net.IPNet{IP: ip, Mask: net.CIDRMask(32, 32)}
	for _, r := range rules {
		if r.Src != nil && r.Src.String() == mask32.String() && r.Table == tableID {
			return nil
		}
	}

	rule := netlink.NewRule()
	rule.Src = mask32
	rule.Table = tableID
	if err := netlink.RuleAdd(rule); err != nil {
		return fmt.Errorf("n3iface: add policy rule for %s: %w", ip, err)
	}
	return nil
}
