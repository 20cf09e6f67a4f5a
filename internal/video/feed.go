// Package video relays the vehicle camera's RTSP stream to panel clients
// over WebRTC.
package video

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/pion/rtp"

	"rov-remote/internal/logger"
)

const (
	subscriberBuffer = 500
	maxBackoff       = 30 * time.Second
)

var (
	errNoVideo    = errors.New("camera stream has no video media")
	errFeedClosed = errors.New("camera feed is closed")
)

// Feed pulls RTP packets from the camera and fans them out to subscribers.
type Feed struct {
	url    string
	stopCh chan struct{}

	mu      sync.Mutex
	client  *gortsplib.Client
	stopped bool

	subsMu sync.RWMutex
	subs   map[chan []byte]struct{}
}

// NewFeed validates rtspURL and returns an idle feed.
func NewFeed(rtspURL string) (*Feed, error) {
	if _, err := base.ParseURL(rtspURL); err != nil {
		return nil, err
	}

	return &Feed{
		url:    rtspURL,
		stopCh: make(chan struct{}),
		subs:   make(map[chan []byte]struct{}),
	}, nil
}

// Start connects to the camera and keeps reconnecting after failures
// until Close is called. A failed first attempt is returned and retried in
// the background.
func (f *Feed) Start(ctx context.Context) error {
	ctx = logger.WithName(ctx, "rtsp")
	if err := f.connect(ctx); err != nil {
		go f.reconnect(ctx)
		return err
	}
	return nil
}

// Subscribe returns a channel of marshalled RTP packets and a function
// that cancels the subscription. Packets are dropped for slow readers.
func (f *Feed) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, subscriberBuffer)

	f.subsMu.Lock()
	f.subs[ch] = struct{}{}
	f.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.subsMu.Lock()
			if _, ok := f.subs[ch]; ok {
				delete(f.subs, ch)
				close(ch)
			}
			f.subsMu.Unlock()
		})
	}
}

func (f *Feed) publish(packet []byte) {
	f.subsMu.RLock()
	defer f.subsMu.RUnlock()

	for ch := range f.subs {
		select {
		case ch <- packet:
		default:
		}
	}
}

func (f *Feed) connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.stopped {
		return errFeedClosed
	}

	transport := gortsplib.TransportTCP
	client := &gortsplib.Client{
		Transport:    &transport,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		OnDecodeError: func(err error) {
			logger.WarnKV(ctx, "Decode error", "error", err)
		},
	}

	u, err := base.ParseURL(f.url)
	if err != nil {
		return err
	}

	if err := client.Start(u.Scheme, u.Host); err != nil {
		return err
	}

	desc, _, err := client.Describe(u)
	if err != nil {
		client.Close()
		return err
	}

	media, forma := pickVideo(desc)
	if media == nil {
		client.Close()
		return errNoVideo
	}

	if _, err := client.Setup(desc.BaseURL, media, 0, 0); err != nil {
		client.Close()
		return err
	}

	client.OnPacketRTP(media, forma, func(pkt *rtp.Packet) {
		buf, err := pkt.Marshal()
		if err != nil {
			return
		}
		f.publish(buf)
	})

	if _, err := client.Play(nil); err != nil {
		client.Close()
		return err
	}

	f.client = client
	logger.InfoKV(ctx, "Camera stream playing", "url", f.url)

	go f.monitor(ctx, client)

	return nil
}

// pickVideo prefers H264, then H265, then any video media.
func pickVideo(desc *description.Session) (*description.Media, format.Format) {
	for _, media := range desc.Medias {
		for _, forma := range media.Formats {
			switch forma.(type) {
			case *format.H264, *format.H265:
				return media, forma
			}
		}
	}

	for _, media := range desc.Medias {
		if media.Type == description.MediaTypeVideo && len(media.Formats) > 0 {
			return media, media.Formats[0]
		}
	}

	return nil, nil
}

func (f *Feed) monitor(ctx context.Context, client *gortsplib.Client) {
	err := client.Wait()

	if f.isStopped() {
		return
	}

	logger.WarnKV(ctx, "Camera stream lost", "error", err)
	f.reconnect(ctx)
}

func (f *Feed) reconnect(ctx context.Context) {
	for attempt := 1; ; attempt++ {
		delay := backoffDelay(attempt)
		logger.InfoKV(ctx, "Reconnecting to camera", "attempt", attempt, "delay", delay)

		select {
		case <-f.stopCh:
			return
		case <-time.After(delay):
		}

		if err := f.connect(ctx); err != nil {
			logger.WarnKV(ctx, "Camera reconnect failed", "error", err)
			continue
		}
		return
	}
}

// backoffDelay doubles from one second, capped at maxBackoff.
func backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		return maxBackoff
	}
	return min(time.Duration(1<<uint(attempt-1))*time.Second, maxBackoff)
}

func (f *Feed) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

// Close stops the stream and ends every subscription.
func (f *Feed) Close() error {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return nil
	}
	f.stopped = true
	client := f.client
	f.mu.Unlock()

	close(f.stopCh)

	if client != nil {
		client.Close()
	}

	f.subsMu.Lock()
	for ch := range f.subs {
		delete(f.subs, ch)
		close(ch)
	}
	f.subsMu.Unlock()

	return nil
}
