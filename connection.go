package smbstore

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// poolConfig holds the pool settings taken from the mount config.
type poolConfig struct {
	MaxIdle     int
	MaxOpen     int
	IdleTimeout time.Duration
	ConnTimeout time.Duration
	DialRetry   *RetryPolicy
}

func newPoolConfig(c *MountConfig) poolConfig {
	return poolConfig{
		MaxIdle:     c.MaxIdle,
		MaxOpen:     c.MaxOpen,
		IdleTimeout: c.IdleTimeout,
		ConnTimeout: c.ConnTimeout,
		DialRetry:   c.DialRetry,
	}
}

// connectionPool hands out mounted shares of one endpoint. numOpen counts
// dials in flight as well as established connections, so MaxOpen holds
// while a dial is still running.
type connectionPool struct {
	endpoint Endpoint
	config   poolConfig
	factory  ConnectionFactory
	log      *logrus.Entry

	mu          sync.Mutex
	connections []*pooledConn
	waiters     []chan *pooledConn
	numOpen     int
	closed      bool
}

// pooledConn is a session with its mounted share.
type pooledConn struct {
	session  SMBSession
	share    SMBShare
	lastUsed time.Time
	inUse    bool
	mu       sync.Mutex
}

func newConnectionPool(ep Endpoint, config poolConfig, factory ConnectionFactory, log logrus.FieldLogger) *connectionPool {
	return &connectionPool{
		endpoint:    ep,
		config:      config,
		factory:     factory,
		log:         log.WithField("endpoint", ep.String()),
		connections: make([]*pooledConn, 0, config.MaxOpen),
	}
}

// get returns an idle connection, dials a new one while below MaxOpen, or
// waits up to ConnTimeout for one to be released.
func (p *connectionPool) get(ctx context.Context) (*pooledConn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrConnectionClosed
	}

	if conn := p.takeIdleLocked(time.Now()); conn != nil {
		p.mu.Unlock()
		return conn, nil
	}

	if p.numOpen < p.config.MaxOpen {
		p.numOpen++
		p.mu.Unlock()
		return p.dial(ctx)
	}

	waiter := make(chan *pooledConn, 1)
	p.waiters = append(p.waiters, waiter)
	p.mu.Unlock()

	timer := time.NewTimer(p.config.ConnTimeout)
	defer timer.Stop()

	select {
	case conn := <-waiter:
		if conn == nil {
			return nil, ErrPoolExhausted
		}
		return conn, nil
	case <-ctx.Done():
		p.removeWaiter(waiter)
		return nil, ctx.Err()
	case <-timer.C:
		p.removeWaiter(waiter)
		return nil, ErrPoolExhausted
	}
}

// takeIdleLocked claims the first idle connection that has not expired.
// Expired ones met on the way are closed.
func (p *connectionPool) takeIdleLocked(now time.Time) *pooledConn {
	for i := 0; i < len(p.connections); {
		conn := p.connections[i]
		switch {
		case conn.inUse:
			i++
		case now.Sub(conn.lastUsed) < p.config.IdleTimeout:
			conn.inUse = true
			conn.lastUsed = now
			return conn
		default:
			p.dropLocked(conn)
			p.log.Debug("closed expired connection")
		}
	}
	return nil
}

// dropLocked forgets conn and closes it in the background.
func (p *connectionPool) dropLocked(conn *pooledConn) {
	for i, c := range p.connections {
		if c == conn {
			p.connections = append(p.connections[:i], p.connections[i+1:]...)
			p.numOpen--
			break
		}
	}
	go conn.close()
}

func (p *connectionPool) idleLocked() int {
	n := 0
	for _, c := range p.connections {
		if !c.inUse {
			n++
		}
	}
	return n
}

func (p *connectionPool) removeWaiter(waiter chan *pooledConn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.waiters {
		if w == waiter {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}

// put releases conn. It goes to the oldest waiter if there is one and is
// kept idle unless MaxIdle is reached.
func (p *connectionPool) put(conn *pooledConn) {
	if conn == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		go conn.close()
		return
	}

	conn.lastUsed = time.Now()
	if len(p.waiters) > 0 {
		waiter := p.waiters[0]
		p.waiters = p.waiters[1:]
		waiter <- conn
		return
	}

	if p.idleLocked() >= p.config.MaxIdle {
		p.dropLocked(conn)
		return
	}
	conn.inUse = false
}

// discard drops a connection that failed mid-operation.
func (p *connectionPool) discard(conn *pooledConn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dropLocked(conn)
	p.log.Debug("discarded broken connection")
}

// dial opens a connection for a slot already counted in numOpen, and
// gives the slot back if the dial fails.
func (p *connectionPool) dial(ctx context.Context) (*pooledConn, error) {
	type dialed struct {
		session SMBSession
		share   SMBShare
	}
	d, err := withDialRetry(ctx, p.config.DialRetry, p.log, p.endpoint.String(), func() (dialed, error) {
		session, share, err := p.factory.CreateConnection(p.endpoint, p.config.ConnTimeout)
		return dialed{session: session, share: share}, err
	})

	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		p.numOpen--
		return nil, err
	}

	conn := &pooledConn{session: d.session, share: d.share, lastUsed: time.Now(), inUse: true}
	if p.closed {
		p.numOpen--
		go conn.close()
		return nil, ErrConnectionClosed
	}
	p.connections = append(p.connections, conn)
	p.log.WithField("open", p.numOpen).Debug("opened connection")
	return conn, nil
}

// close unmounts the share and logs the session off.
func (pc *pooledConn) close() {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if pc.share != nil {
		_ = pc.share.Umount()
		pc.share = nil
	}
	if pc.session != nil {
		_ = pc.session.Logoff()
		pc.session = nil
	}
}

// Close closes every connection and wakes all waiters with ErrPoolExhausted.
func (p *connectionPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	for _, waiter := range p.waiters {
		close(waiter)
	}
	p.waiters = nil

	for _, conn := range p.connections {
		go conn.close()
	}
	p.connections = nil
	p.numOpen = 0
	return nil
}

// cleanup closes idle connections that outlived IdleTimeout.
func (p *connectionPool) cleanup() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	now := time.Now()
	kept := p.connections[:0]
	for _, conn := range p.connections {
		if !conn.inUse && now.Sub(conn.lastUsed) > p.config.IdleTimeout {
			p.numOpen--
			go conn.close()
			continue
		}
		kept = append(kept, conn)
	}
	p.connections = kept
}

// startCleanup runs cleanup every IdleTimeout/2 until ctx is done.
func (p *connectionPool) startCleanup(ctx context.Context) {
	ticker := time.NewTicker(p.config.IdleTimeout / 2)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}
