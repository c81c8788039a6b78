// node.go - top-level mixnode lifecycle.
// Copyright (C) 2017  David Stainton, Yawning Angel.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package mixnode wires every subsystem package into a single running
// node: configuration, key material, the replay guard, the relay
// directory, the delay scheduler, the processing pipeline, the wire
// transport, and the local admin socket. It merges client.go's and
// daemon.go's Client/ClientDaemon split (config-driven New, a single
// Start/Stop/Shutdown lifecycle) into one Mixnode type, since this node
// has no per-account fan-out the way the mail client did.
package mixnode

import (
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/katzenpost/core/log"
	"github.com/op/go-logging"

	"github.com/anonmix/mixnode/admin"
	"github.com/anonmix/mixnode/clock"
	"github.com/anonmix/mixnode/config"
	"github.com/anonmix/mixnode/constants"
	applogging "github.com/anonmix/mixnode/logging"
	"github.com/anonmix/mixnode/metrics"
	"github.com/anonmix/mixnode/pipeline"
	"github.com/anonmix/mixnode/relaytable"
	"github.com/anonmix/mixnode/replay"
	"github.com/anonmix/mixnode/scheduler"
	"github.com/anonmix/mixnode/sphinx"
	"github.com/anonmix/mixnode/transport"
	"github.com/anonmix/mixnode/version"
	"github.com/anonmix/mixnode/vrf"
)

// Mixnode is one running mix relay: the sum of every subsystem package,
// wired together.
type Mixnode struct {
	cfgPath    string
	cfg        *config.Config
	passphrase string

	logBackend *log.Backend
	log        *logging.Logger

	keys    *nodeKeys
	ownID   [16]byte
	replays *replay.EpochGuard
	relays  *relaytable.Table
	metrics *metrics.Registry

	pipe       *pipeline.Pipeline
	sched      *scheduler.DelayScheduler
	dispatcher *pipeline.EgressDispatcher
	limiter    *pipeline.RateLimiter

	ingress *transport.Ingress
	egress  *transport.Egress

	adminServer *admin.Server
	watcher     *config.Watcher

	epochClock *clock.Clock
	rotateDone chan struct{}

	decayClock *clock.Clock
	decayDone  chan struct{}

	throughputDone chan struct{}

	running int32
}

// New loads cfgPath and builds a Mixnode ready to Start. passphrase unseals
// (or seeds) the node's keys.bin.
func New(cfgPath, passphrase string) (*Mixnode, error) {
	cfg, err := config.FromFile(cfgPath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("mixnode: failed to create data_dir: %w", err)
	}

	logBackend, err := applogging.Setup(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	m := &Mixnode{
		cfgPath:    cfgPath,
		cfg:        cfg,
		passphrase: passphrase,
		logBackend: logBackend,
		log:        logBackend.GetLogger("mixnode"),
	}

	m.keys, err = loadOrGenerateKeys(cfg.DataDir, passphrase)
	if err != nil {
		return nil, err
	}
	m.ownID = relayID(m.keys.x25519PK)

	m.replays = replay.NewEpochGuard(cfg.ReplayWindow())
	m.epochClock = clock.New(clockwork.NewRealClock(), cfg.ReplayWindow())
	m.decayClock = clock.New(clockwork.NewRealClock(), cfg.ReplayWindow())
	m.metrics = metrics.New()

	relaysPath := cfg.DataDir + "/relays.bin"
	m.relays, err = relaytable.Open(relaysPath)
	if err != nil {
		return nil, err
	}

	m.sched = scheduler.New(m.release, logBackend, "egress")
	m.limiter = pipeline.NewRateLimiter(float64(cfg.TargetThroughputPPS), cfg.BatchSize)

	m.pipe = pipeline.New(cfg.PoolSize, cfg.MaxQueueDepth, cfg.WorkerThreads, cfg.BatchSize, m.processFrame, logBackend, "ingress")
	m.pipe.OnForward(m.onForward)
	m.pipe.OnDeliver(m.onDeliver)
	m.pipe.OnDrop(m.onDrop)
	m.pipe.OnPoolHit(m.metrics.IncPoolHit)
	m.pipe.OnPoolMiss(m.metrics.IncPoolMiss)
	m.pipe.OnLatency(m.metrics.ObserveLatency)

	m.ingress, err = transport.NewIngress(cfg.ListenAddr, m.pipe, cfg.AcquireTimeout(), m.onFrame, logBackend)
	if err != nil {
		return nil, err
	}
	m.ingress.OnPoolExhausted(func() {
		m.metrics.IncDrop(pipeline.PoolExhausted.String())
	})
	m.egress = transport.NewEgress(m.ingress.Conn())

	m.dispatcher = pipeline.NewEgressDispatcher(m.limiter, m.egress.Send, cfg.EgressTimeout(), logBackend, "egress")
	m.dispatcher.OnRateLimited(func(f pipeline.EgressFrame) {
		m.metrics.IncDrop(pipeline.RateLimited.String())
	})
	m.dispatcher.OnSendError(func(f pipeline.EgressFrame, sendErr error) {
		m.log.Warningf("egress send failed: %s", sendErr)
		m.updateRelayReputation(f.NextHop, false)
	})
	m.dispatcher.OnSendSuccess(func(f pipeline.EgressFrame) {
		m.updateRelayReputation(f.NextHop, true)
	})

	m.adminServer, err = admin.NewServer(cfg.AdminSocketPath, m, logBackend)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// Start launches every background subsystem: the pipeline's worker pool,
// the ingress acceptor, the egress dispatcher, and the admin socket.
func (m *Mixnode) Start() error {
	if !atomic.CompareAndSwapInt32(&m.running, 0, 1) {
		return nil
	}
	m.log.Noticef("starting mixnode %x on %s", m.ownID, m.cfg.ListenAddr)
	m.pipe.Start()
	m.ingress.Start()
	m.dispatcher.Start()
	m.adminServer.Start()

	m.rotateDone = make(chan struct{})
	go m.rotateEpochsLoop()

	m.decayDone = make(chan struct{})
	go m.decayRelaysLoop()

	m.throughputDone = make(chan struct{})
	go m.throughputLoop()

	watcher, err := config.NewWatcher(m.cfgPath, m.cfg, m.logBackend, func(*config.Config) {
		m.log.Notice("configuration reloaded")
	})
	if err != nil {
		m.log.Warningf("config watcher not started: %s", err)
	} else {
		m.watcher = watcher
	}
	return nil
}

// Stop cooperatively drains every subsystem within
// constants.DefaultShutdownWindow and tears the node down.
func (m *Mixnode) Stop() error {
	if !atomic.CompareAndSwapInt32(&m.running, 1, 0) {
		return nil
	}
	m.log.Notice("stopping mixnode")
	close(m.rotateDone)
	close(m.decayDone)
	close(m.throughputDone)
	if m.watcher != nil {
		m.watcher.Close()
	}
	m.adminServer.Shutdown()
	m.ingress.Shutdown()
	m.sched.Shutdown()
	m.dispatcher.Shutdown()

	done := make(chan struct{})
	go func() {
		m.pipe.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(constants.DefaultShutdownWindow):
		m.log.Warning("shutdown window elapsed with workers still draining")
	}
	return m.relays.Close()
}

// Reload re-reads cfgPath and applies any hot-reloadable change, rejecting
// a boot-only field change the way config.Config.Reload always has.
func (m *Mixnode) Reload(cfgPath string) error {
	if cfgPath == "" {
		cfgPath = m.cfgPath
	}
	next, err := config.FromFile(cfgPath)
	if err != nil {
		return err
	}
	return m.cfg.Reload(next)
}

// RotateKeys generates a fresh node keypair set and reseals keys.bin.
func (m *Mixnode) RotateKeys() error {
	keys, err := rotateKeys(m.cfg.DataDir, m.passphrase)
	if err != nil {
		return err
	}
	m.keys = keys
	m.ownID = relayID(m.keys.x25519PK)
	return nil
}

// Metrics satisfies admin.Handler for the get_metrics command.
func (m *Mixnode) Metrics() *admin.Response {
	snap := m.metrics.Snapshot()
	return &admin.Response{OK: true, Metrics: &snap}
}

// RelayTable satisfies admin.Handler for the get_relay_table command.
func (m *Mixnode) RelayTable() *admin.Response {
	snap := m.relays.Current()
	return &admin.Response{OK: true, RelayTable: snap.Entries}
}

// onFrame is the ingress transport's FrameHandler: it gates the wire
// version before any key derivation is attempted, per the header-parse-
// first rule, then hands accepted frames to the pipeline for backpressure-
// aware processing.
func (m *Mixnode) onFrame(buf []byte, from net.Addr) {
	m.metrics.IncPacketsProcessed()

	_, state, err := version.Negotiate(buf[0], version.Local)
	if err != nil || state != version.Accepted {
		m.metrics.IncDrop(pipeline.UnsupportedVersion.String())
		m.releaseIngressBuffer(buf)
		return
	}

	if err := m.pipe.Submit(buf); err != nil {
		m.log.Debugf("ingress frame dropped: %s", err)
		m.releaseIngressBuffer(buf)
	}
}

// releaseIngressBuffer returns buf to the pipeline's pool for a frame
// rejected before it ever reached the worker pool (version gate, full
// queue) — the pipeline only releases buffers for frames it actually
// dequeues and processes.
func (m *Mixnode) releaseIngressBuffer(buf []byte) {
	if len(buf) != constants.PacketLength {
		return
	}
	m.pipe.ReleaseBuffer((*[constants.PacketLength]byte)(buf))
}

// processFrame is the pipeline's Processor: it peels one Sphinx layer
// against the node's X25519 key and the current replay epoch.
func (m *Mixnode) processFrame(frame []byte) (sphinx.Outcome, error) {
	packet, err := sphinx.ParsePacket(frame)
	if err != nil {
		return sphinx.Outcome{Kind: sphinx.KindDrop, Reason: sphinx.DropMalformed}, nil
	}
	return sphinx.Process(packet, m.keys.x25519SK, m.replays.Current())
}

// onForward schedules a successfully-peeled packet for VRF-delayed release
// to its next hop, drawing the delay from the node's Ed25519 VRF key so it
// cannot be predicted or replayed by an observer.
func (m *Mixnode) onForward(outcome sphinx.Outcome) {
	m.metrics.IncPacketsForwarded()
	params := vrf.DelayParams{Mean: m.cfg.MeanDelay(), Min: m.cfg.MinDelay(), Max: m.cfg.MaxDelay()}
	delay, _, _ := vrf.NextDelayForPacket(m.keys.vrfSK, outcome.Frame, params)
	m.sched.Add(delay, outcome.NextHop, outcome.Frame)
}

// onDeliver accounts for a packet that terminated at this node. Local
// delivery semantics (handing Plain to a recipient queue) are out of
// scope for the mix-routing core; the counter still advances so the "no
// leak" invariant's processed+forwarded+delivered+dropped accounting
// holds.
func (m *Mixnode) onDeliver(outcome sphinx.Outcome) {
	m.metrics.IncPacketsDelivered()
}

// onDrop is the pipeline's OnDrop callback, and also doubles as the
// replay-specific counter bump since sphinx.DropReplay surfaces through
// the same path as every other drop reason.
func (m *Mixnode) onDrop(reason string) {
	m.metrics.IncDrop(reason)
	if reason == sphinx.DropReplay.String() {
		m.metrics.IncReplaysDetected()
	}
}

// release is the delay scheduler's release callback: it submits the
// delayed task to the egress dispatcher's rate-limited send queue.
func (m *Mixnode) release(task scheduler.Task) {
	m.dispatcher.Submit(pipeline.EgressFrame{NextHop: task.NextHop, Frame: task.Frame})
}

// rotateEpochsLoop discards the replay guard's tag set once per
// replay_window_secs, so a tag's memory never outlives the window it was
// accepted in. It runs until Stop closes rotateDone.
func (m *Mixnode) rotateEpochsLoop() {
	for {
		select {
		case <-m.rotateDone:
			return
		case <-m.epochClock.Sleeper():
			m.replays.Rotate()
			m.log.Debugf("rotated replay epoch %d", m.replays.EpochCount())
		}
	}
}

// decayRelaysLoop ages every relay's reputation toward zero once per
// replay_window_secs, the same cadence rotateEpochsLoop uses to drive the
// replay guard, and on each tick evicts any relay not seen within
// relay_idle_timeout_secs. It runs until Stop closes decayDone.
func (m *Mixnode) decayRelaysLoop() {
	idleTimeout := m.cfg.RelayIdleTimeout()
	for {
		select {
		case <-m.decayDone:
			return
		case <-m.decayClock.Sleeper():
			if err := m.relays.DecayAll(idleTimeout); err != nil {
				m.log.Warningf("relay table decay failed: %s", err)
				continue
			}
			m.log.Debugf("decayed relay table reputations")
		}
	}
}

// throughputLoop samples packets_processed once a second to feed the
// throughput_pps gauge, the one metric that isn't naturally observed at
// the point a single packet is handled.
func (m *Mixnode) throughputLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	var last uint64
	for {
		select {
		case <-m.throughputDone:
			return
		case <-ticker.C:
			cur := m.metrics.Snapshot().PacketsProcessed
			m.metrics.ObserveThroughput(float64(cur - last))
			last = cur
		}
	}
}

// updateRelayReputation nudges the reputation of the relay at addr once an
// egress send to it has actually succeeded or failed. addr is matched
// against the current relay table snapshot's Address field since
// sphinx.Outcome only carries the wire address, not the relay's ID.
// Unknown addresses (the descriptor has since rotated out of the table)
// are logged and otherwise ignored.
func (m *Mixnode) updateRelayReputation(addr [18]byte, success bool) {
	snap := m.relays.Current()
	for _, e := range snap.Entries {
		if e.Address == addr {
			if err := m.relays.UpdateReputation(e.ID, success); err != nil {
				m.log.Debugf("relay reputation update failed: %s", err)
			}
			return
		}
	}
}
