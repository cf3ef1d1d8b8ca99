// Copyright 2020 hhorai. All rights reserved.
// Use of this source code is governed by a MIT license that can be found
// in the LICENSE file.

// Command gnb-core wires the GTP-U tunnel engine, RA scheduler and resource
// grid into a runnable gNB user-plane/radio-scheduling core: it loads
// internal/gnbconfig, opens the N3 UDP/2152 listener, registers one
// internal/gtpu/rx.Rx + internal/gtpu/tx.Tx pair per configured tunnel, and
// starts one internal/rasched.Scheduler per configured cell.
//
// Grounded on the teacher's cmd/gnbsim.go / example/example.go for the
// overall "parse flags, build components, run until signalled" shape,
// upgraded from flag+log to pflag+gnblog per SPEC_FULL.md section 1.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oss5g/gnbcore/internal/execctx"
	"github.com/oss5g/gnbcore/internal/gnblog"
	"github.com/oss5g/gnbcore/internal/gnbconfig"
	"github.com/oss5g/gnbcore/internal/gtpu/ambr"
	"github.com/oss5g/gnbcore/internal/gtpu/rx"
	"github.com/oss5g/gnbcore/internal/gtpu/socket"
	"github.com/oss5g/gnbcore/internal/gtpu/tx"
	"github.com/oss5g/gnbcore/internal/metrics"
	"github.com/oss5g/gnbcore/internal/n3iface"
	"github.com/oss5g/gnbcore/internal/prb"
	"github.com/oss5g/gnbcore/internal/rasched"
	"github.com/oss5g/gnbcore/internal/resourcegrid"
	"github.com/oss5g/gnbcore/internal/slotpoint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
)

// tunDevNotifier writes a downlink SDU delivered off the N3 tunnel onto the
// PDU session's TUN device, where the host IP stack routes it on to the UE
// side. dev is nil when the tunnel has no TUN device configured (tests, or
// a gtpu-codec-only deployment), in which case delivery is logged only.
type tunDevNotifier struct {
	log *gnblog.Logger
	dev *n3iface.Device
}

func (n *tunDevNotifier) OnNewSDU(payload []byte, qfi uint8) {
	if n.dev == nil {
		n.log.Info("delivering SDU (no TUN device configured)", "len", len(payload), "qfi", qfi)
		return
	}
	if _, err := n.dev.File().Write(payload); err != nil {
		n.log.Error("failed to write SDU to TUN device", "err", err)
	}
}

// uplinkPump reads IP packets off dev and hands each to transmitter as an
// uplink SDU, mirroring the teacher's encap goroutine.
func uplinkPump(dev *n3iface.Device, transmitter *tx.Tx, qfi uint8, log *gnblog.Logger) {
	buf := make([]byte, 2048)
	for {
		n, err := dev.File().Read(buf)
		if err != nil {
			log.Warn("TUN device read loop exiting", "err", err)
			return
		}
		transmitter.HandleSDU(append([]byte(nil), buf[:n]...), qfi)
	}
}

func main() {
	configPath := pflag.String("config", "/etc/gnb-core/gnb.yaml", "path to the gNB core YAML configuration")
	n3BindOverride := pflag.String("n3-bind", "", "override the configured N3 bind address (host:port)")
	logLevel := pflag.String("log-level", "", "override the configured log level")
	pflag.Parse()

	cfg, err := gnbconfig.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *n3BindOverride != "" {
		cfg.N3BindAddr = *n3BindOverride
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	log := gnblog.New(cfg.LogLevel)
	m := metrics.New(prometheus.DefaultRegisterer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, err := socket.Listen(cfg.N3BindAddr, log)
	if err != nil {
		log.Error("failed to open N3 socket", "err", err)
		os.Exit(1)
	}
	defer conn.Close()
	go func() {
		if err := conn.ListenAndServe(); err != nil {
			log.Warn("N3 socket closed", "err", err)
		}
	}()

	for _, tunCfg := range cfg.Tunnels {
		startTunnel(ctx, conn, tunCfg, log, m)
	}

	for _, cellCfg := range cfg.Cells {
		startCell(ctx, cellCfg, log, m)
	}

	http.Handle("/metrics", metrics.Handler())
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server exited", "err", err)
		}
	}()

	log.Info("gnb-core started", "n3_bind", cfg.N3BindAddr, "metrics_addr", cfg.MetricsAddr, "nof_cells", len(cfg.Cells), "nof_tunnels", len(cfg.Tunnels))
	waitForSignal()
	log.Info("shutting down")
	_ = metricsSrv.Close()
}

func startTunnel(ctx context.Context, conn *socket.Conn, tunCfg gnbconfig.Tunnel, log *gnblog.Logger, m *metrics.Metrics) {
	exec := execctx.New(ctx, 256)
	var limiter *ambr.Limiter
	if !tunCfg.IgnoreUEAMBR {
		limiter = ambr.New(tunCfg.AMBRBitsPerSec, tunCfg.AMBRBurstBytes)
	}

	var dev *n3iface.Device
	if tunCfg.IFName != "" {
		d, err := n3iface.Up(tunCfg.IFName, net.ParseIP(tunCfg.UEAddr), tunCfg.UEAddrMaskLen, tunCfg.RouteTable)
		if err != nil {
			log.Error("failed to bring up N3 TUN device, tunnel running without one", "if_name", tunCfg.IFName, "err", err)
		} else {
			dev = d
		}
	}

	r := rx.New(rx.Config{
		TEID:        tunCfg.TEID,
		TReordering: tunCfg.TReordering,
		IgnoreAMBR:  tunCfg.IgnoreUEAMBR,
		WarnOnDrop:  true,
	}, exec, limiter, &tunDevNotifier{log: log, dev: dev}, log, m)
	conn.RegisterTunnel(tunCfg.TEID, r)

	if conn.PeerAddr() == nil {
		if peer, err := net.ResolveUDPAddr("udp", net.JoinHostPort(tunCfg.PeerAddr, socket.Port)); err == nil {
			conn.SetPeer(peer)
		} else {
			log.Error("failed to resolve N3 peer address", "peer_addr", tunCfg.PeerAddr, "err", err)
		}
	}

	transmitter := tx.NewTx(tunCfg.PeerTEID, conn, log, m)
	if dev != nil {
		go uplinkPump(dev, transmitter, tunCfg.DefaultQFI, log)
	}

	echo := tx.NewEchoTx(conn, log)
	conn.SetPathManager(tx.NewPathManager(echo, log))
}

// startCell builds a cell's resource grid and RA scheduler and drives
// RunSlot off a ticker paced by the cell's numerology slot duration. There
// is no PRACH indication source wired in yet (PHY is out of scope), so each
// tick currently finds no pending RARs to allocate — but the scheduler
// itself is live and reachable, not constructed and discarded.
func startCell(ctx context.Context, cellCfg gnbconfig.Cell, log *gnblog.Logger, m *metrics.Metrics) {
	pdschSlots := func(slotpoint.Point) bool { return true }
	puschSlots := func(slotpoint.Point) bool { return true }
	ring := resourcegrid.NewRing(prb.MaxPRBs, prb.MaxPRBs, pdschSlots, puschSlots)

	candidates := make([]rasched.PUSCHCandidate, len(cellCfg.PUSCHCandidates))
	for i, c := range cellCfg.PUSCHCandidates {
		candidates[i] = rasched.PUSCHCandidate{K2: c.K2}
	}

	sched := rasched.New(rasched.Config{
		CellIndex:         cellCfg.Index,
		NofSlotsPerFrame:  cellCfg.NofSlotsPerFrame,
		PRACHDuration:     cellCfg.PRACHDuration,
		RaRespWindowSlots: cellCfg.RaRespWindowSlots,
		Numerology:        cellCfg.Numerology,
		PUSCHCandidates:   candidates,
	}, ring, log, m)

	slotDuration := time.Millisecond >> cellCfg.Numerology
	go runSlotTicker(ctx, sched, slotDuration)
}

// runSlotTicker calls RunSlot once per slot period until ctx is cancelled.
func runSlotTicker(ctx context.Context, sched *rasched.Scheduler, slotDuration time.Duration) {
	ticker := time.NewTicker(slotDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sched.RunSlot()
		}
	}
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}
