package smbstore

import (
	"context"
	"fmt"
	"io/fs"
	"net"
	"strconv"
	"time"

	"github.com/hirochachacha/go-smb2"
)

// realSMBSession wraps a go-smb2 Session to implement SMBSession.
type realSMBSession struct {
	session *smb2.Session
	conn    net.Conn
}

// Mount mounts a share and returns an SMBShare interface.
func (s *realSMBSession) Mount(shareName string) (SMBShare, error) {
	share, err := s.session.Mount(shareName)
	if err != nil {
		return nil, err
	}
	return &realSMBShare{share: share}, nil
}

// Logoff ends the session and closes the underlying connection.
func (s *realSMBSession) Logoff() error {
	err := s.session.Logoff()
	s.conn.Close()
	return err
}

// realSMBShare wraps a go-smb2 Share to implement SMBShare.
type realSMBShare struct {
	share *smb2.Share
}

func (sh *realSMBShare) OpenFile(name string, flag int, perm fs.FileMode) (SMBFile, error) {
	file, err := sh.share.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return file, nil
}

func (sh *realSMBShare) Stat(name string) (fs.FileInfo, error) {
	return sh.share.Stat(name)
}

func (sh *realSMBShare) Mkdir(name string, perm fs.FileMode) error {
	return sh.share.Mkdir(name, perm)
}

func (sh *realSMBShare) Remove(name string) error {
	return sh.share.Remove(name)
}

func (sh *realSMBShare) Umount() error {
	return sh.share.Umount()
}

// RealConnectionFactory implements ConnectionFactory using real SMB connections.
type RealConnectionFactory struct{}

// CreateConnection creates a real SMB connection.
func (f *RealConnectionFactory) CreateConnection(ep Endpoint, timeout time.Duration) (SMBSession, SMBShare, error) {
	addr := net.JoinHostPort(ep.Host, strconv.Itoa(ep.Port))

	dialer := &net.Dialer{Timeout: timeout}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	d := &smb2.Dialer{
		Initiator: &smb2.NTLMInitiator{
			User:     ep.User,
			Password: ep.Password,
			Domain:   ep.Domain,
		},
	}

	session, err := d.Dial(netConn)
	if err != nil {
		netConn.Close()
		return nil, nil, fmt.Errorf("SMB session setup with %s failed: %w", addr, err)
	}

	share, err := session.Mount(ep.Share)
	if err != nil {
		_ = session.Logoff()
		netConn.Close()
		return nil, nil, fmt.Errorf("failed to mount share %s: %w", ep.Share, err)
	}

	return &realSMBSession{session: session, conn: netConn}, &realSMBShare{share: share}, nil
}
