package redisstream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trickstertwo/xflow"
	"github.com/trickstertwo/xlog"
)

var _ xflow.ErrorListener = (*Sink)(nil)

// Sink appends error reports to a Redis Stream.
type Sink struct {
	cfg    Config
	client *redis.Client
	codec  xflow.Codec
	logger *xlog.Logger
	owned  bool

	closeOnce sync.Once
	closed    atomic.Bool

	published     atomic.Uint64
	publishErrors atomic.Uint64
}

// Stats returns sink telemetry.
type Stats struct {
	Published     uint64
	PublishErrors uint64
}

// NewSink dials Redis and verifies the connection.
func NewSink(cfg Config) (*Sink, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := &redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConns: 1,
	}

	if cfg.TLS {
		opts.TLSConfig = &tls.Config{
			MinVersion:    tls.VersionTLS12,
			ServerName:    cfg.TLSServerName,
			Renegotiation: tls.RenegotiateNever,
		}
	}

	client := redis.NewClient(opts)
	if err := ping(client); err != nil {
		_ = client.Close()
		return nil, err
	}

	s, err := NewSinkWithClient(client, cfg)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewSinkWithClient wraps an existing client. The client is not closed by
// Close.
func NewSinkWithClient(client *redis.Client, cfg Config) (*Sink, error) {
	if client == nil {
		return nil, errors.New("redisstream: nil client")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	codec, err := xflow.NewCodec(cfg.Codec)
	if err != nil {
		return nil, err
	}
	return &Sink{
		cfg:    cfg,
		client: client,
		codec:  codec,
		logger: xlog.Default(),
	}, nil
}

// WithLogger replaces the sink logger.
func (s *Sink) WithLogger(l *xlog.Logger) *Sink {
	if l != nil {
		s.logger = l
	}
	return s
}

// OnError implements xflow.ErrorListener. Failures to write are logged and
// counted, never propagated.
func (s *Sink) OnError(r xflow.ErrorReport) {
	if s.closed.Load() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()

	if err := s.Publish(ctx, r); err != nil {
		s.logger.Warn().Err(err).Str("stream", s.cfg.Stream).Msg("redisstream: error report not written")
	}
}

// Publish writes one report with XADD.
func (s *Sink) Publish(ctx context.Context, r xflow.ErrorReport) error {
	vals := map[string]any{
		fieldNodeID:   r.NodeID,
		fieldNodeName: r.NodeName,
		fieldNodeType: r.NodeType,
		fieldMessage:  r.Message,
		fieldAt:       r.At.UnixNano(),
	}
	if r.Envelope != nil {
		vals[fieldMessageID] = r.Envelope.ID
		vals[fieldTopic] = r.Envelope.Topic
		data, err := xflow.EncodePayload(s.codec, r.Envelope)
		if err != nil {
			s.publishErrors.Add(1)
			return fmt.Errorf("redisstream: encode payload: %w", err)
		}
		vals[fieldPayload] = data
	}

	args := &redis.XAddArgs{
		Stream: s.cfg.Stream,
		ID:     "*",
		Values: vals,
	}
	// Approximate trimming to keep stream bounded
	if s.cfg.MaxLenApprox > 0 {
		args.MaxLen = s.cfg.MaxLenApprox
		args.Approx = true
	}

	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		s.publishErrors.Add(1)
		return err
	}
	s.published.Add(1)
	return nil
}

// Read returns up to count reports from the start of the stream, decoded
// back into ErrorReports (Err and Envelope payload are not restored; the
// raw payload bytes are kept in Envelope.Fields["payload"]).
func (s *Sink) Read(ctx context.Context, count int64) ([]xflow.ErrorReport, error) {
	msgs, err := s.client.XRangeN(ctx, s.cfg.Stream, "-", "+", count).Result()
	if err != nil {
		return nil, err
	}
	out := make([]xflow.ErrorReport, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, decodeReport(m.Values))
	}
	return out, nil
}

func decodeReport(vals map[string]any) xflow.ErrorReport {
	r := xflow.ErrorReport{
		NodeID:   asString(vals[fieldNodeID]),
		NodeName: asString(vals[fieldNodeName]),
		NodeType: asString(vals[fieldNodeType]),
		Message:  asString(vals[fieldMessage]),
	}
	if ns, ok := toInt64(vals[fieldAt]); ok {
		r.At = time.Unix(0, ns)
	}
	if id := asString(vals[fieldMessageID]); id != "" {
		r.Envelope = &xflow.Envelope{
			ID:     id,
			Topic:  asString(vals[fieldTopic]),
			Fields: map[string]any{fieldPayload: asString(vals[fieldPayload])},
		}
	}
	return r
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func toInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case string:
		var n int64
		if _, err := fmt.Sscan(t, &n); err == nil {
			return n, true
		}
	}
	return 0, false
}

// Stats returns current sink metrics.
func (s *Sink) Stats() Stats {
	return Stats{
		Published:     s.published.Load(),
		PublishErrors: s.publishErrors.Load(),
	}
}

// Close releases the client when the sink dialed it.
func (s *Sink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if s.owned {
			err = s.client.Close()
		}
	})
	return err
}

func ping(c *redis.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := c.Ping(ctx).Result()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("redis ping timeout: %w", err)
		}
		return err
	}
	if strings.ToUpper(res) != "PONG" {
		return fmt.Errorf("unexpected redis ping result: %s", res)
	}
	return nil
}
