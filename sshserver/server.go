package sshserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	gliderssh "github.com/gliderlabs/ssh"
	"golang.org/x/crypto/ssh"

	"pkt.systems/pslog"
	"pkt.systems/scrollback/core"
	"pkt.systems/scrollback/internal/eventbus"
)

// Server exposes scrollback sessions over SSH exec commands.
type Server struct {
	Addr               string
	HostKeyPath        string
	AuthorizedKeysPath string
	Listener           net.Listener
	Registry           *core.Registry
	// Deps supplies decoders, the server-side sink opener and the event sink.
	// Exports to the SSH channel itself bypass Deps.Opener.
	Deps     core.ControllerDeps
	EventBus *eventbus.Bus
	logger   pslog.Logger
	keys     []ssh.PublicKey
}

// ListenAndServe starts the SSH server and shuts down on context cancellation.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.logger == nil {
		s.logger = pslog.Ctx(ctx)
	}
	if s.Registry == nil {
		return errors.New("session registry is required for SSH")
	}
	signer, err := EnsureHostKey(s.HostKeyPath)
	if err != nil {
		return err
	}
	if strings.TrimSpace(s.AuthorizedKeysPath) == "" {
		return errors.New("ssh authorized keys path is required")
	}
	keys, err := LoadAuthorizedKeys(s.AuthorizedKeysPath)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return fmt.Errorf("no authorized keys in %s", s.AuthorizedKeysPath)
	}
	s.keys = keys

	server := &gliderssh.Server{
		Addr:             s.Addr,
		Handler:          s.handleSession,
		PublicKeyHandler: s.handlePublicKey,
	}
	server.AddHostKey(signer)

	errCh := make(chan error, 1)
	go func() {
		if s.Listener != nil {
			errCh <- server.Serve(s.Listener)
			return
		}
		errCh <- server.ListenAndServe()
	}()
	addr := s.Addr
	if s.Listener != nil {
		addr = s.Listener.Addr().String()
	}
	s.logger.Info("ssh server listening", "addr", addr, "authorized_keys", len(keys))

	select {
	case <-ctx.Done():
		_ = server.Close()
		return nil
	case err := <-errCh:
		if errors.Is(err, gliderssh.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handlePublicKey(ctx gliderssh.Context, key gliderssh.PublicKey) bool {
	log := s.logger.With("user", ctx.User(), "remote", remoteAddr(ctx), "fingerprint", ssh.FingerprintSHA256(key))
	for _, allowed := range s.keys {
		if gliderssh.KeysEqual(key, allowed) {
			log.Info("ssh pubkey accepted")
			return true
		}
	}
	log.Warn("ssh pubkey rejected", "reason", "no matching key")
	return false
}

func remoteAddr(ctx gliderssh.Context) string {
	if ctx == nil || ctx.RemoteAddr() == nil {
		return ""
	}
	return ctx.RemoteAddr().String()
}

func (s *Server) handleSession(sess gliderssh.Session) {
	log := s.logger.With("user", sess.User(), "remote", sess.RemoteAddr().String())
	if sshSession := sess.Context().SessionID(); sshSession != "" {
		log = log.With("ssh_session", sshSession)
	}
	args := sess.Command()
	if len(args) == 0 {
		log.Info("ssh session rejected", "reason", "command required")
		_, _ = io.WriteString(sess.Stderr(), "usage: ssh <host> list|export|search|tail|events|clear|monitor ...\n")
		_ = sess.Exit(2)
		return
	}
	ctx := pslog.ContextWithLogger(sess.Context(), log)
	log.Info("ssh command start", "command", args[0])

	root := s.newCommandRoot(sess)
	root.SetArgs(args)
	root.SetIn(sess)
	root.SetOut(sess)
	root.SetErr(sess.Stderr())
	if err := root.ExecuteContext(ctx); err != nil {
		log.Warn("ssh command failed", "command", args[0], "err", err)
		_, _ = fmt.Fprintf(sess.Stderr(), "error: %v\n", err)
		_ = sess.Exit(1)
		return
	}
	log.Info("ssh command done", "command", args[0])
	_ = sess.Exit(0)
}
