package smbstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"

	"github.com/hirochachacha/go-smb2"
	"github.com/sirupsen/logrus"

	"github.com/absfs/smbstore/vfs"
)

var _ Transport = (*smbTransport)(nil)

// smbTransport implements Transport on top of go-smb2 sessions. Every URL
// is decoded into an endpoint (host, port, share, credentials) and a
// share-relative path; each endpoint gets its own connection pool and
// metadata cache.
type smbTransport struct {
	pool    poolConfig
	cache   CacheConfig
	factory ConnectionFactory
	log     logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	endpoints map[string]*endpointState
	closed    bool
}

type endpointState struct {
	pool  *connectionPool
	cache *metadataCache
}

// newSMBTransport creates a transport using the pool, cache and retry
// settings of config. config must already carry its defaults.
func newSMBTransport(config *MountConfig, factory ConnectionFactory, log logrus.FieldLogger) *smbTransport {
	ctx, cancel := context.WithCancel(context.Background())
	return &smbTransport{
		pool:      newPoolConfig(config),
		cache:     config.Cache,
		factory:   factory,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
		endpoints: make(map[string]*endpointState),
	}
}

// endpointKey keys endpoints internally. The password takes part so a
// changed credential never reuses a session; the key is never logged.
func endpointKey(ep Endpoint) string {
	return ep.String() + "\x00" + ep.Password
}

// state returns the pool and cache of an endpoint, creating them on first use.
func (t *smbTransport) state(ep Endpoint) (*endpointState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrConnectionClosed
	}

	key := endpointKey(ep)
	if st, ok := t.endpoints[key]; ok {
		return st, nil
	}

	st := &endpointState{
		pool:  newConnectionPool(ep, t.pool, t.factory, t.log),
		cache: newMetadataCache(t.cache),
	}
	st.pool.startCleanup(t.ctx)
	t.endpoints[key] = st
	return st, nil
}

// lookup returns the state of an endpoint without creating it.
func (t *smbTransport) lookup(ep Endpoint) (*endpointState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.endpoints[endpointKey(ep)]
	return st, ok
}

// run executes fn on a pooled connection of the location's endpoint.
// Failures other than a missing target are reported as diagnostics.
func (t *smbTransport) run(op string, loc location, fn func(SMBShare) error) (*endpointState, error) {
	st, err := t.state(loc.endpoint)
	if err != nil {
		return nil, err
	}

	conn, err := st.pool.get(t.ctx)
	if err != nil {
		t.report(op, loc, err)
		return st, err
	}

	err = convertError(fn(conn.share))
	if err != nil && !isNotExist(err) {
		t.report(op, loc, err)
		if isRetryable(err) {
			st.pool.discard(conn)
			return st, err
		}
	}
	st.pool.put(conn)
	return st, err
}

// report forwards a failure as a diagnostic. The message names the share
// path only; endpoint credentials never enter it.
func (t *smbTransport) report(op string, loc location, err error) {
	code := 0
	var re *smb2.ResponseError
	if errors.As(err, &re) {
		code = int(re.Code)
	}
	ReportDiagnostic(code, fmt.Sprintf("%s //%s/%s%s: %v", op, loc.endpoint.Host, loc.endpoint.Share, loc.path, err))
}

// Stat returns metadata for the URL.
func (t *smbTransport) Stat(rawURL string) (fs.FileInfo, error) {
	loc, err := parseLocation(rawURL)
	if err != nil {
		return nil, err
	}

	if st, ok := t.lookup(loc.endpoint); ok {
		if info, ok := st.cache.getStatInfo(loc.path); ok {
			return info, nil
		}
	}

	var info fs.FileInfo
	st, err := t.run("stat", loc, func(share SMBShare) error {
		stat, err := share.Stat(loc.smbPath())
		if err != nil {
			return err
		}
		info = &fileInfo{stat: stat, name: loc.base()}
		return nil
	})
	if err != nil {
		return nil, err
	}

	st.cache.putStatInfo(loc.path, info)
	return info, nil
}

// ReadDir lists the immediate children of the URL.
func (t *smbTransport) ReadDir(rawURL string) ([]fs.FileInfo, error) {
	loc, err := parseLocation(rawURL)
	if err != nil {
		return nil, err
	}

	if st, ok := t.lookup(loc.endpoint); ok {
		if entries, ok := st.cache.getDirEntries(loc.path); ok {
			return entries, nil
		}
	}

	var entries []fs.FileInfo
	st, err := t.run("readdir", loc, func(share SMBShare) error {
		var err error
		entries, err = listDir(share, loc.path)
		return err
	})
	if err != nil {
		return nil, err
	}

	st.cache.putDirEntries(loc.path, entries)
	return entries, nil
}

// listDir reads a directory through an open handle.
func listDir(share SMBShare, p string) ([]fs.FileInfo, error) {
	f, err := share.OpenFile(toSMBPath(p), os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	raw, err := f.Readdir(-1)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return withoutDotEntries(raw), nil
}

// Remove removes a file.
func (t *smbTransport) Remove(rawURL string) error {
	loc, err := parseLocation(rawURL)
	if err != nil {
		return err
	}

	st, err := t.run("remove", loc, func(share SMBShare) error {
		return share.Remove(loc.smbPath())
	})
	if st != nil {
		st.cache.invalidate(loc.path)
	}
	return err
}

// RemoveDir removes a directory and everything below it.
func (t *smbTransport) RemoveDir(rawURL string) error {
	loc, err := parseLocation(rawURL)
	if err != nil {
		return err
	}
	if loc.path == separator {
		return ErrInvalidPath
	}

	st, err := t.run("rmdir", loc, func(share SMBShare) error {
		return removeTree(share, loc)
	})
	if st != nil {
		st.cache.invalidateTree(loc.path)
	}
	return err
}

// removeTree removes the children of a directory depth first, then the
// directory itself.
func removeTree(share SMBShare, loc location) error {
	info, err := share.Stat(loc.smbPath())
	if err != nil {
		return err
	}

	if info.IsDir() {
		children, err := listDir(share, loc.path)
		if err != nil {
			return err
		}
		for _, c := range children {
			if err := removeTree(share, loc.child(c.Name())); err != nil {
				return err
			}
		}
	}

	return share.Remove(loc.smbPath())
}

// Mkdir creates a directory.
func (t *smbTransport) Mkdir(rawURL string, perm fs.FileMode) error {
	loc, err := parseLocation(rawURL)
	if err != nil {
		return err
	}

	st, err := t.run("mkdir", loc, func(share SMBShare) error {
		return share.Mkdir(loc.smbPath(), perm)
	})
	if st != nil {
		st.cache.invalidate(loc.path)
	}
	return err
}

// OpenFile opens a file or directory. The returned File keeps its pooled
// connection until it is closed.
func (t *smbTransport) OpenFile(rawURL string, flag int, perm fs.FileMode) (vfs.File, error) {
	loc, err := parseLocation(rawURL)
	if err != nil {
		return nil, err
	}

	st, err := t.state(loc.endpoint)
	if err != nil {
		return nil, err
	}

	conn, err := st.pool.get(t.ctx)
	if err != nil {
		t.report("open", loc, err)
		return nil, err
	}

	f, err := conn.share.OpenFile(loc.smbPath(), flag, perm)
	if err != nil {
		st.pool.put(conn)
		err = convertError(err)
		if !isNotExist(err) {
			t.report("open", loc, err)
		}
		return nil, err
	}

	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC) != 0 {
		st.cache.invalidate(loc.path)
	}

	return &File{pool: st.pool, conn: conn, file: f, path: loc.path}, nil
}

// Invalidate drops cached metadata for the URL.
func (t *smbTransport) Invalidate(rawURL string) {
	loc, err := parseLocation(rawURL)
	if err != nil {
		return
	}
	if st, ok := t.lookup(loc.endpoint); ok {
		st.cache.invalidate(loc.path)
	}
}

// Close closes every endpoint's connection pool.
func (t *smbTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	t.cancel()

	for _, st := range t.endpoints {
		st.pool.Close()
	}
	t.endpoints = nil
	return nil
}
