package sftpserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/8gudbits/QuickServe/internal/auth"
	"github.com/8gudbits/QuickServe/internal/db"
	"github.com/8gudbits/QuickServe/internal/fsutil"
	"github.com/8gudbits/QuickServe/internal/scpserver"
)

type Options struct {
	Addr        string
	Auth        *auth.Manager
	Sandbox     *fsutil.Sandbox
	HostKeyPath string
	Logger      *slog.Logger
}

// ListenAndServe answers SSH connections carrying sftp subsystem or scp
// exec requests until the context is done. Authentication is password
// only; the manager prehashes and applies the brute-force guard.
func ListenAndServe(ctx context.Context, opt Options) error {
	if opt.Auth == nil || opt.Sandbox == nil {
		return errors.New("auth manager and sandbox are required")
	}
	if opt.Addr == "" {
		return errors.New("addr is required")
	}
	if opt.HostKeyPath == "" {
		return errors.New("host key path is required")
	}
	logger := opt.Logger
	if logger == nil {
		logger = slog.Default()
	}

	hostSigner, err := loadSigner(opt.HostKeyPath)
	if err != nil {
		return err
	}

	conf := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			u, err := opt.Auth.Authenticate(ctx, c.User(), string(pass))
			if err != nil {
				return nil, errors.New("invalid credentials")
			}
			return &ssh.Permissions{Extensions: map[string]string{"user_id": intToString(u.ID)}}, nil
		},
	}
	conf.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", opt.Addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		c, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}
		go handleConn(opt.Auth.DB, opt.Sandbox, conf, c, logger)
	}
}

func handleConn(d *db.DB, sb *fsutil.Sandbox, conf *ssh.ServerConfig, netConn net.Conn, logger *slog.Logger) {
	defer netConn.Close()
	_ = netConn.SetDeadline(time.Now().Add(30 * time.Second))
	serverConn, chans, reqs, err := ssh.NewServerConn(netConn, conf)
	if err != nil {
		return
	}
	defer serverConn.Close()
	_ = netConn.SetDeadline(time.Time{})

	go ssh.DiscardRequests(reqs)

	id, err := strconv.ParseInt(serverConn.Permissions.Extensions["user_id"], 10, 64)
	if err != nil {
		return
	}
	u, ok, err := d.GetUserByID(context.Background(), id)
	if err != nil || !ok {
		return
	}

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "unsupported channel")
			continue
		}
		ch, reqs, err := newCh.Accept()
		if err != nil {
			continue
		}
		go func() {
			defer ch.Close()
			for req := range reqs {
				if req.Type == "subsystem" {
					if len(req.Payload) >= 4 && string(req.Payload[4:]) == "sftp" {
						_ = req.Reply(true, nil)
						h := JailedHandlers{Sandbox: sb, User: u}
						s := sftp.NewRequestServer(ch, sftp.Handlers{FileGet: h, FilePut: h, FileCmd: h, FileList: h})
						if err := s.Serve(); err != nil && err != io.EOF {
							logger.Debug("sftp session ended", "user", u.Username, "error", err)
						}
						return
					}
				}
				if req.Type == "exec" {
					var payload struct {
						Command string
					}
					if err := ssh.Unmarshal(req.Payload, &payload); err == nil && scpserver.CanHandle(payload.Command) {
						_ = req.Reply(true, nil)
						_ = scpserver.HandleExec(ch, sb, u, payload.Command)
						return
					}
				}
				_ = req.Reply(false, nil)
			}
		}()
	}
}

func loadSigner(path string) (ssh.Signer, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ssh.ParsePrivateKey(b)
}

func intToString(v int64) string {
	return strconv.FormatInt(v, 10)
}
