package remotesink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"pkt.systems/pslog"
	"pkt.systems/scrollback/internal/sink"
)

// Config controls the collector server.
type Config struct {
	// Addr is host:port, or unix:/path for a Unix domain socket.
	Addr string
	// OutputDir receives uploaded exports.
	OutputDir string
	// Compress stores uploads zstd compressed.
	Compress bool
}

// Server implements the Collector service: it stores exports streamed by
// remote scrollback instances under OutputDir.
type Server struct {
	cfg    Config
	logger pslog.Logger
}

// NewServer constructs a collector server.
func NewServer(cfg Config) *Server {
	return &Server{cfg: cfg}
}

// ListenAndServe listens on cfg.Addr and serves until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if strings.TrimSpace(s.cfg.Addr) == "" {
		return errors.New("collector address is required")
	}
	network, address := "tcp", s.cfg.Addr
	if path, ok := strings.CutPrefix(s.cfg.Addr, "unix:"); ok {
		network, address = "unix", path
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		_ = os.Remove(path)
	}
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

// Serve serves on an existing listener until ctx is canceled.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	if s.logger == nil {
		s.logger = pslog.Ctx(ctx)
	}
	if strings.TrimSpace(s.cfg.OutputDir) == "" {
		_ = listener.Close()
		return errors.New("collector output dir is required")
	}
	if err := os.MkdirAll(s.cfg.OutputDir, 0o700); err != nil {
		_ = listener.Close()
		return err
	}
	grpcServer := grpc.NewServer()
	grpcServer.RegisterService(&collectorServiceDesc, s)
	s.logger.Info("collector grpc listening", "addr", listener.Addr().String(), "output_dir", s.cfg.OutputDir)

	errCh := make(chan error, 1)
	go func() {
		errCh <- grpcServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		grpcServer.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}

// Upload stores one client-streamed export.
func (s *Server) Upload(stream grpc.ServerStream) error {
	md, _ := metadata.FromIncomingContext(stream.Context())
	name := firstValue(md, mdName)
	path, err := s.resolve(name)
	if err != nil {
		s.log(stream.Context()).Warn("collector upload rejected", "name", name, "err", err)
		return status.Errorf(codes.InvalidArgument, "invalid name: %v", err)
	}
	log := s.log(stream.Context()).With("name", name, "format", firstValue(md, mdFormat))
	started := time.Now()
	file, err := sink.CreateAtomic(path, s.cfg.Compress || strings.HasSuffix(path, ".zst"))
	if err != nil {
		log.Error("collector upload failed", "err", err)
		return status.Errorf(codes.Internal, "create failed: %v", err)
	}
	var total int64
	for {
		chunk := new(wrapperspb.BytesValue)
		if err := stream.RecvMsg(chunk); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			file.Abort()
			log.Warn("collector upload aborted", "bytes", total, "err", err)
			return err
		}
		n, err := file.Write(chunk.GetValue())
		total += int64(n)
		if err != nil {
			file.Abort()
			log.Error("collector upload failed", "bytes", total, "err", err)
			return status.Errorf(codes.Internal, "write failed: %v", err)
		}
	}
	if err := file.Commit(); err != nil {
		log.Error("collector upload failed", "bytes", total, "err", err)
		return status.Errorf(codes.Internal, "commit failed: %v", err)
	}
	log.Info("collector upload stored", "path", path, "bytes", total, "duration", time.Since(started))
	return stream.SendMsg(wrapperspb.Int64(total))
}

func (s *Server) resolve(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("name is required")
	}
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("name %q escapes the output dir", name)
	}
	return filepath.Join(s.cfg.OutputDir, clean), nil
}

func (s *Server) log(ctx context.Context) pslog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return pslog.Ctx(ctx)
}

func firstValue(md metadata.MD, key string) string {
	values := md.Get(key)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
