package remotesink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"pkt.systems/pslog"
	"pkt.systems/scrollback/core"
	"pkt.systems/scrollback/internal/sink"
	"pkt.systems/scrollback/schema"
)

const uploadChunkSize = 32 * 1024

// Opener streams exports to a remote collector addressed as
// grpc://host:port/name.
type Opener struct {
	dialOpts []grpc.DialOption
}

var _ core.SinkOpener = (*Opener)(nil)

// NewOpener constructs an opener. Without options connections are plaintext.
func NewOpener(opts ...grpc.DialOption) *Opener {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	return &Opener{dialOpts: opts}
}

// Open implements core.SinkOpener.
func (o *Opener) Open(_ context.Context, dest schema.Destination) (core.Sink, error) {
	target, name, err := ParseURL(dest.URL)
	if err != nil {
		return nil, err
	}
	conn, err := grpc.NewClient(target, o.dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", schema.ErrInvalidDestination, err)
	}
	format := dest.Format
	return sink.NewFuncSink("grpc", func(ctx context.Context, src *sink.Reader) error {
		defer conn.Close()
		return upload(ctx, conn, name, format, src)
	}), nil
}

func upload(ctx context.Context, conn *grpc.ClientConn, name string, format schema.Format, src io.Reader) error {
	log := pslog.Ctx(ctx).With("target", conn.Target(), "name", name)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ctx = metadata.AppendToOutgoingContext(ctx, mdName, name, mdFormat, string(format))
	stream, err := conn.NewStream(ctx, &uploadStreamDesc, uploadMethod)
	if err != nil {
		log.Warn("collector upload start failed", "err", err)
		return err
	}
	var sent int64
	buf := make([]byte, uploadChunkSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if sendErr := stream.SendMsg(newChunk(bytes.Clone(buf[:n]))); sendErr != nil {
				// The server's status surfaces through RecvMsg.
				if errors.Is(sendErr, io.EOF) {
					break
				}
				return sendErr
			}
			sent += int64(n)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	reply := new(wrapperspb.Int64Value)
	if err := stream.RecvMsg(reply); err != nil {
		log.Warn("collector upload failed", "bytes", sent, "err", err)
		return err
	}
	if reply.GetValue() != sent {
		return fmt.Errorf("collector stored %d of %d bytes", reply.GetValue(), sent)
	}
	log.Info("collector upload done", "bytes", sent)
	return nil
}

// ParseURL splits grpc://host:port/name into the dial target and the
// destination name.
func ParseURL(raw string) (target, name string, err error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "grpc" || u.Host == "" {
		return "", "", fmt.Errorf("%w: %s", schema.ErrInvalidDestination, raw)
	}
	name = strings.TrimPrefix(u.Path, "/")
	if name == "" || strings.HasSuffix(name, "/") {
		return "", "", fmt.Errorf("%w: %s needs a destination name", schema.ErrInvalidDestination, raw)
	}
	return u.Host, name, nil
}
