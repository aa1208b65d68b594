package irc

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log"
	"net"
	"net/textproto"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lrstanley/girc"

	"github.com/mbasaglia/Melanobot-v2-sub002/config"
	"github.com/mbasaglia/Melanobot-v2-sub002/network"
)

// writeTimeout bounds a single socket write
const writeTimeout = 30 * time.Second

// Buffer loops, a goroutine running a loop callback can't wait for its own loop
const (
	loopWriter = "writer"
	loopReader = "reader"
)

// lineBreaks keeps a command on a single line, NUL bytes are not allowed on the wire
var lineBreaks = strings.NewReplacer("\r", " ", "\n", " ", "\x00", "")

// sink is what a Buffer reports to
type sink interface {
	handleMessage(msg network.Message)
	readFailed(err error)
	writeFailed(cmd network.Command, err error)
}

// Buffer owns the socket of a connection.
// It writes queued commands in priority order without exceeding the flood
// control limits and reads lines, handing parsed messages to its sink.
type Buffer struct {
	name  string
	owner sink
	debug bool

	timerMax       time.Duration
	messagePenalty time.Duration
	bytesPenalty   int
	maxLength      int
	connectTimeout time.Duration
	useTLS         bool

	queue *commandQueue

	mu         sync.Mutex
	conn       net.Conn
	floodTimer time.Time
	started    bool
	stopped    bool

	dialMu  sync.Mutex
	writeMu sync.Mutex

	quit     chan struct{}
	stopOnce sync.Once
	writer   sync.WaitGroup
	readers  sync.WaitGroup
	loops    sync.Map // goroutine id -> loopWriter or loopReader

	now   func() time.Time
	sleep func(d time.Duration) bool
	dial  func(ctx context.Context, server network.Server) (net.Conn, error)
}

// newBuffer creates a stopped, disconnected buffer
func newBuffer(owner sink, name string, cfg config.Connection) *Buffer {
	b := &Buffer{
		name:           name,
		owner:          owner,
		debug:          cfg.Debug,
		timerMax:       cfg.Buffer.TimerMaxDuration(),
		messagePenalty: cfg.Buffer.MessagePenaltyDuration(),
		bytesPenalty:   cfg.Buffer.BytesPerSecond(),
		maxLength:      cfg.Buffer.MaxLength,
		connectTimeout: cfg.ConnectTimeoutDuration(),
		useTLS:         cfg.Server.TLS,
		queue:          newCommandQueue(),
		quit:           make(chan struct{}),
		now:            time.Now,
	}
	b.floodTimer = b.now()
	b.sleep = b.sleepUnlessStopped
	b.dial = b.dialServer
	return b
}

// Start launches the outbound loop
func (b *Buffer) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started || b.stopped {
		return
	}
	b.started = true
	b.writer.Add(1)
	go b.runOutput()
}

// Stop closes the socket and terminates both loops, waiting for them to return.
// Called from one of the loops, it doesn't wait for that loop.
func (b *Buffer) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.stopped = true
		b.mu.Unlock()

		close(b.quit)
		b.queue.Close()
		b.Disconnect()
	})

	loop, _ := b.loops.Load(goroutineID())
	if loop != loopWriter {
		b.writer.Wait()
	}
	if loop != loopReader {
		b.readers.Wait()
	}
}

// enterLoop marks the calling goroutine as one of the buffer loops until the returned func runs
func (b *Buffer) enterLoop(loop string) func() {
	id := goroutineID()
	b.loops.Store(id, loop)
	return func() { b.loops.Delete(id) }
}

// Insert queues a command, it is discarded if the buffer is stopped
func (b *Buffer) Insert(cmd network.Command) {
	if !b.queue.Push(cmd) {
		commandsDropped.WithLabelValues(b.name, dropStopped).Inc()
		return
	}
	queueLength.WithLabelValues(b.name).Set(float64(b.queue.Len()))
}

// Connect opens a new socket to server, closing the current one first
func (b *Buffer) Connect(server network.Server) error {
	b.dialMu.Lock()
	defer b.dialMu.Unlock()

	if b.isStopped() {
		return ErrStopped
	}
	if b.Connected() {
		b.Disconnect()
	}

	ctx := context.Background()
	if b.connectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.connectTimeout)
		defer cancel()
	}

	conn, err := b.dial(ctx, server)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", server, err)
	}

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		conn.Close()
		return ErrStopped
	}
	b.conn = conn
	b.floodTimer = b.now()
	b.readers.Add(1)
	b.mu.Unlock()

	go b.runInput(conn)
	return nil
}

// Disconnect closes the socket, it is a no-op when not connected
func (b *Buffer) Disconnect() {
	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	b.mu.Unlock()

	if conn == nil {
		return
	}
	if tcp, ok := conn.(interface{ CloseWrite() error }); ok {
		tcp.CloseWrite()
	}
	if err := conn.Close(); err != nil && b.debug {
		log.Printf("[%s] Error closing socket: %v", b.name, err)
	}
}

// Connected reports whether the socket is open
func (b *Buffer) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

// Write sends a command right away, bypassing the queue but not the flood accounting
func (b *Buffer) Write(cmd network.Command) error {
	return b.writeLine(FormatCommand(cmd))
}

func (b *Buffer) isStopped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopped
}

func (b *Buffer) isCurrent(conn net.Conn) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn == conn && !b.stopped
}

func (b *Buffer) dialServer(ctx context.Context, server network.Server) (net.Conn, error) {
	address := net.JoinHostPort(server.Host, strconv.Itoa(int(server.Port)))
	if b.useTLS {
		dialer := &tls.Dialer{Config: &tls.Config{ServerName: server.Host}}
		return dialer.DialContext(ctx, "tcp", address)
	}
	var dialer net.Dialer
	return dialer.DialContext(ctx, "tcp", address)
}

func (b *Buffer) sleepUnlessStopped(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-b.quit:
		return false
	}
}

func (b *Buffer) runOutput() {
	defer b.writer.Done()
	defer b.enterLoop(loopWriter)()
	for b.process() {
	}
}

// process sends the next command that hasn't expired.
// It returns false once the buffer is stopped.
func (b *Buffer) process() bool {
	for {
		cmd, ok := b.queue.Pop(b.quit)
		if !ok {
			return false
		}
		queueLength.WithLabelValues(b.name).Set(float64(b.queue.Len()))

		if b.expired(cmd) {
			continue
		}
		if !b.throttle() {
			return false
		}
		if b.expired(cmd) {
			continue
		}

		if err := b.Write(cmd); err != nil {
			b.owner.writeFailed(cmd, err)
		}
		return true
	}
}

func (b *Buffer) expired(cmd network.Command) bool {
	if !cmd.Expired(b.now()) {
		return false
	}
	commandsDropped.WithLabelValues(b.name, dropExpired).Inc()
	if b.debug {
		log.Printf("[%s] Dropping expired %s", b.name, cmd.Verb)
	}
	return true
}

// throttle waits until the flood timer is within timerMax of now
func (b *Buffer) throttle() bool {
	b.mu.Lock()
	limit := b.now().Add(b.timerMax)
	var delay time.Duration
	if b.floodTimer.Add(b.messagePenalty).After(limit) {
		delay = max(b.messagePenalty, b.floodTimer.Sub(limit))
	}
	b.mu.Unlock()

	if delay <= 0 {
		return true
	}
	floodDelay.WithLabelValues(b.name).Observe(delay.Seconds())
	return b.sleep(delay)
}

func (b *Buffer) writeLine(line string) error {
	line = lineBreaks.Replace(line)
	if b.maxLength > 0 && len(line) > b.maxLength {
		log.Printf("[%s] Truncating %s", b.name, girc.StripRaw(line))
		linesTruncated.WithLabelValues(b.name).Inc()
		line = line[:b.maxLength-1]
	}

	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	b.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := io.WriteString(conn, line+"\r\n")
	b.writeMu.Unlock()

	if err != nil {
		if !b.isCurrent(conn) {
			return ErrNotConnected
		}
		return fmt.Errorf("write failed: %w", err)
	}

	if b.debug {
		log.Printf("[%s] << %s", b.name, girc.StripRaw(line))
	}
	linesSent.WithLabelValues(b.name).Inc()

	b.mu.Lock()
	now := b.now()
	if b.floodTimer.Before(now) {
		b.floodTimer = now
	}
	b.floodTimer = b.floodTimer.Add(b.messagePenalty)
	if b.bytesPenalty > 0 {
		b.floodTimer = b.floodTimer.Add(time.Duration(len(line)/b.bytesPenalty) * time.Second)
	}
	b.mu.Unlock()

	return nil
}

func (b *Buffer) runInput(conn net.Conn) {
	defer b.readers.Done()
	defer b.enterLoop(loopReader)()

	reader := textproto.NewReader(bufio.NewReader(conn))
	for {
		line, err := reader.ReadLine()
		if err != nil {
			if b.isCurrent(conn) {
				b.owner.readFailed(err)
			}
			return
		}
		if !b.isCurrent(conn) {
			return
		}
		if line == "" {
			continue
		}

		linesReceived.WithLabelValues(b.name).Inc()
		if b.debug {
			log.Printf("[%s] >> %s", b.name, girc.StripRaw(line))
		}

		msg := ParseMessage(line)
		if msg.Verb == "" {
			continue
		}
		b.owner.handleMessage(msg)
	}
}

// goroutineID reads the id of the calling goroutine from its stack header,
// "goroutine 42 [running]:"
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := strings.Fields(strings.TrimPrefix(string(buf[:n]), "goroutine "))
	if len(fields) == 0 {
		return 0
	}
	id, _ := strconv.ParseUint(fields[0], 10, 64)
	return id
}
