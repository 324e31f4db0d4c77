package transport

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/webtransport-go"
	"golang.org/x/sync/errgroup"

	"github.com/marmot-chat/marmot/internal/logger"
	"github.com/marmot-chat/marmot/internal/metrics"
)

// readyGrace is the delay of the fallback timer Connect starts for
// Ready() (spec §4.3 "Readiness"). Publish does not wait on readiness.
const readyGrace = 500 * time.Millisecond

// backoffMin/backoffMax bound the transport's reconnect backoff (spec §5
// "exponential backoff with a cap (default 1s -> 10s)").
const (
	backoffMin = time.Second
	backoffMax = 10 * time.Second
)

// pendingQueueCapacity bounds the per-track publish queue (spec §4.3).
const pendingQueueCapacity = 256

// MoQBridge is a WebTransport/QUIC-backed Bridge. One uni-directional
// stream carries one named track: the stream's first frame announces the
// track path, every subsequent frame is a length-prefixed opaque payload.
// Grounded on the other_examples WebTransport client's dialer/session
// shape (self-signed TLS dialer, OpenStream/AcceptStream loop), adapted
// from a single fixed control+datagram protocol to MoQ's many independently
// named tracks multiplexed over per-track uni-streams.
type MoQBridge struct {
	url       string
	groupRoot string
	log       logger.Logger

	mu          sync.Mutex
	session     *webtransport.Session
	publishOut  map[string]*webtransport.SendStream
	pending     map[string]*pendingQueue
	subscribers map[string]chan<- Frame

	ready     chan struct{}
	readyOnce sync.Once

	closeOnce sync.Once
	closed    chan struct{}
}

// NewMoQBridge creates a bridge for url scoped to groupRoot (spec §4.4's
// derived "<marmot/...>" track namespace); Connect must be called before use.
func NewMoQBridge(url, groupRoot string, log logger.Logger) *MoQBridge {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &MoQBridge{
		url:         url,
		groupRoot:   groupRoot,
		log:         log,
		publishOut:  make(map[string]*webtransport.SendStream),
		pending:     make(map[string]*pendingQueue),
		subscribers: make(map[string]chan<- Frame),
		ready:       make(chan struct{}),
		closed:      make(chan struct{}),
	}
}

// Connect dials the MoQ relay and starts the accept loop plus a grace
// timer for Ready(). It keeps reconnecting in the background with
// exponential backoff until Close is called.
func (b *MoQBridge) Connect(ctx context.Context) error {
	if err := b.dial(ctx); err != nil {
		return err
	}

	go func() {
		backoff := backoffMin
		for {
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return b.acceptLoop(gctx) })
			_ = g.Wait()

			select {
			case <-b.closed:
				return
			case <-ctx.Done():
				return
			default:
			}

			time.Sleep(backoff)
			if err := b.dial(ctx); err != nil {
				b.log.Warn("moq reconnect failed", logger.Error(err))
				metrics.TransportReconnects.WithLabelValues("failure").Inc()
				backoff = nextBackoff(backoff)
				continue
			}
			metrics.TransportReconnects.WithLabelValues("success").Inc()
			backoff = backoffMin
		}
	}()

	go func() {
		select {
		case <-time.After(readyGrace):
			b.signalReady()
		case <-b.closed:
		}
	}()

	return nil
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > backoffMax {
		return backoffMax
	}
	return d
}

func (b *MoQBridge) dial(ctx context.Context) error {
	d := webtransport.Dialer{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec -- relay cert validation is deployment-specific
		QUICConfig:      &quic.Config{EnableDatagrams: false},
	}

	_, sess, err := d.Dial(ctx, b.url, http.Header{})
	if err != nil {
		return fmt.Errorf("moq dial failed: %w", err)
	}

	b.mu.Lock()
	b.session = sess
	b.publishOut = make(map[string]*webtransport.SendStream)
	b.mu.Unlock()

	b.signalReady()
	return nil
}

func (b *MoQBridge) signalReady() {
	b.readyOnce.Do(func() { close(b.ready) })
}

// Ready implements Bridge. It closes when a session is dialed or when the
// readyGrace timer fires, whichever is first; acceptance of an individual
// publish track by the relay is not observed.
func (b *MoQBridge) Ready() <-chan struct{} { return b.ready }

// acceptLoop reads incoming uni-streams, each carrying one named track,
// and fans frames out to registered subscribers.
func (b *MoQBridge) acceptLoop(ctx context.Context) error {
	b.mu.Lock()
	sess := b.session
	b.mu.Unlock()
	if sess == nil {
		return fmt.Errorf("moq: accept loop started without a session")
	}

	for {
		stream, err := sess.AcceptUniStream(ctx)
		if err != nil {
			return fmt.Errorf("accept uni stream: %w", err)
		}
		go b.readTrack(stream)
	}
}

func (b *MoQBridge) readTrack(stream webtransport.ReceiveStream) {
	path, err := readPathHeader(stream)
	if err != nil {
		b.log.Warn("moq: dropping stream with malformed path header", logger.Error(err))
		return
	}

	for {
		frame, err := readLengthPrefixed(stream)
		if err != nil {
			if err != io.EOF {
				b.log.Warn("moq: track stream read error", logger.String("track", path), logger.Error(err))
			}
			return
		}

		b.mu.Lock()
		out, ok := b.subscribers[path]
		b.mu.Unlock()
		if !ok {
			continue // not subscribed to this track; drop silently
		}

		select {
		case out <- Frame{Track: path, Payload: frame}:
		default:
			metrics.FramesDropped.WithLabelValues("subscriber_backpressure").Inc()
		}
	}
}

// Publish implements Bridge.
func (b *MoQBridge) Publish(ctx context.Context, path string, frame []byte) error {
	b.mu.Lock()
	stream, ok := b.publishOut[path]
	session := b.session
	b.mu.Unlock()

	if !ok {
		if session == nil {
			b.queue(path, frame)
			return nil
		}
		s, err := session.OpenUniStream()
		if err != nil {
			b.queue(path, frame)
			return nil
		}
		if err := writePathHeader(s, path); err != nil {
			b.queue(path, frame)
			return nil
		}
		b.mu.Lock()
		b.publishOut[path] = s
		b.mu.Unlock()
		stream = s

		// The stream for this track has just opened; flush whatever
		// queued up while no stream could be opened (spec §4.3) before
		// this frame.
		if err := b.flushPending(path, stream); err != nil {
			return fmt.Errorf("flush pending queue for %s: %w", path, err)
		}
	}

	if err := writeLengthPrefixed(stream, frame); err != nil {
		return fmt.Errorf("publish to %s: %w", path, err)
	}
	return nil
}

// flushPending writes every frame buffered for path, in arrival order,
// ahead of the frame that triggered the stream open.
func (b *MoQBridge) flushPending(path string, stream *webtransport.SendStream) error {
	b.mu.Lock()
	q, ok := b.pending[path]
	b.mu.Unlock()
	if !ok {
		return nil
	}

	for _, queued := range q.drain() {
		if err := writeLengthPrefixed(stream, queued); err != nil {
			return err
		}
	}
	return nil
}

func (b *MoQBridge) queue(path string, frame []byte) {
	b.mu.Lock()
	q, ok := b.pending[path]
	if !ok {
		q = newPendingQueue(path, pendingQueueCapacity, b.log)
		b.pending[path] = q
	}
	b.mu.Unlock()
	q.push(frame)
}

// SubscribePeer implements Bridge.
func (b *MoQBridge) SubscribePeer(ctx context.Context, pubKeyHex string, out chan<- Frame) error {
	return b.subscribe(WrapperPath(b.groupRoot, pubKeyHex), out)
}

// SubscribePeerAudio implements Bridge.
func (b *MoQBridge) SubscribePeerAudio(ctx context.Context, pubKeyHex, trackLabel string, out chan<- Frame) error {
	return b.subscribe(AudioPath(b.groupRoot, pubKeyHex, trackLabel), out)
}

func (b *MoQBridge) subscribe(path string, out chan<- Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, already := b.subscribers[path]; already {
		return nil // idempotent
	}
	b.subscribers[path] = out
	return nil
}

// Close implements Bridge.
func (b *MoQBridge) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.closed)
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.session != nil {
			err = b.session.CloseWithError(0, "engine shutdown")
			b.session = nil
		}
	})
	return err
}

func writePathHeader(w io.Writer, path string) error {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(path)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := io.WriteString(w, path)
	return err
}

func readPathHeader(r io.Reader) (string, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", err
	}
	n := binary.BigEndian.Uint16(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeLengthPrefixed(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

var _ Bridge = (*MoQBridge)(nil)

func readLengthPrefixed(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
