// Package worker implements C7: the Worker, a connection-wide send/receive
// pump that turns outgoing messages into wire bytes and dispatches
// incoming frames back to whichever caller is waiting for that message id.
//
// Grounded verbatim on the original Rust worker.rs (ConnectionWorker,
// WorkerAwaitState{awaiting, pending}, send/receive, loop_fn/
// handle_next_msg/loop_handle_incoming), translated into Go's
// goroutine+channel idiom the way lorenz-go-smb2/conn.go (the real
// hirochachacha/go-smb2 client) renders the identical design:
// outstandingRequests map with a mutex, runSender/runReciever goroutines,
// a send/werr channel pair. This Worker follows that async-task model
// rather than the OS-thread-pair variant, per spec.md §9's Design Note.
package worker

import (
	"fmt"
	"sync"

	"github.com/absfs/smb2proto/internal/proto"
	"github.com/absfs/smb2proto/internal/transform"
	"github.com/absfs/smb2proto/internal/transport"
)

// ErrMessageProcessing is recorded as the worker's Err when a notification
// frame (message-id == NotificationMessageID) arrives while the
// Notifications channel buffer is full.
var ErrMessageProcessing = fmt.Errorf("worker: received notification with no listener (MessageProcessing)")

type awaitState struct {
	mu       sync.Mutex
	awaiting map[uint64]chan result
	pending  map[uint64]transform.IncomingMessage
}

type result struct {
	msg transform.IncomingMessage
	err error
}

// Worker owns one connection's send and receive loops.
type Worker struct {
	conn        *transport.Conn
	transformer *transform.Transformer

	state awaitState

	writeCh chan []byte
	writeErr chan error

	notifyCh chan transform.IncomingMessage

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	loopErrMu sync.Mutex
	loopErr   error
}

// Start launches the send and receive goroutines for conn. notifyBuffer
// sizes the channel used for oplock/lease-break notifications.
func Start(conn *transport.Conn, transformer *transform.Transformer, notifyBuffer int) *Worker {
	w := &Worker{
		conn:        conn,
		transformer: transformer,
		state: awaitState{
			awaiting: make(map[uint64]chan result),
			pending:  make(map[uint64]transform.IncomingMessage),
		},
		writeCh:  make(chan []byte, 32),
		writeErr: make(chan error, 1),
		notifyCh: make(chan transform.IncomingMessage, notifyBuffer),
		stopCh:   make(chan struct{}),
	}

	w.wg.Add(2)
	go w.runSender()
	go w.runReceiver()
	return w
}

// Stop terminates both loops and closes the underlying connection. Safe to
// call more than once (e.g. once explicitly and once via test cleanup).
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.conn.Close()
	})
	w.wg.Wait()
}

// Notifications returns the channel oplock/lease-break messages arrive on.
func (w *Worker) Notifications() <-chan transform.IncomingMessage { return w.notifyCh }

// Send transforms msg and writes it to the wire, blocking until the write
// completes (or the worker is stopped).
func (w *Worker) Send(msg transform.OutgoingMessage) error {
	data, err := w.transformer.Outgoing(msg)
	if err != nil {
		return err
	}

	select {
	case w.writeCh <- data:
	case <-w.stopCh:
		return fmt.Errorf("worker: stopped")
	}

	select {
	case err := <-w.writeErr:
		return err
	case <-w.stopCh:
		return fmt.Errorf("worker: stopped")
	}
}

// Receive waits for the response to messageID, either because it is
// already pending (arrived before Receive was called) or by registering a
// wait channel the receive loop will signal.
func (w *Worker) Receive(messageID uint64) (transform.IncomingMessage, error) {
	w.state.mu.Lock()
	if msg, ok := w.state.pending[messageID]; ok {
		delete(w.state.pending, messageID)
		w.state.mu.Unlock()
		return msg, nil
	}
	ch := make(chan result, 1)
	w.state.awaiting[messageID] = ch
	w.state.mu.Unlock()

	select {
	case r := <-ch:
		return r.msg, r.err
	case <-w.stopCh:
		w.state.mu.Lock()
		delete(w.state.awaiting, messageID)
		w.state.mu.Unlock()
		return transform.IncomingMessage{}, fmt.Errorf("worker: stopped while awaiting message %d", messageID)
	}
}

// Err returns the error that terminated the receive loop, if any.
func (w *Worker) Err() error {
	w.loopErrMu.Lock()
	defer w.loopErrMu.Unlock()
	return w.loopErr
}

func (w *Worker) setErr(err error) {
	w.loopErrMu.Lock()
	if w.loopErr == nil {
		w.loopErr = err
	}
	w.loopErrMu.Unlock()
}

func (w *Worker) runSender() {
	defer w.wg.Done()
	for {
		select {
		case <-w.stopCh:
			return
		case pkt := <-w.writeCh:
			err := w.conn.Send(pkt)
			select {
			case w.writeErr <- err:
			case <-w.stopCh:
				return
			}
		}
	}
}

func (w *Worker) runReceiver() {
	defer w.wg.Done()
	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		frame, err := w.conn.Receive()
		if err != nil {
			w.setErr(err)
			w.shutdownAwaiting(err)
			return
		}

		msg, err := w.transformer.Incoming(frame)
		if err != nil {
			w.setErr(err)
			w.shutdownAwaiting(err)
			return
		}

		w.dispatch(msg)
	}
}

func (w *Worker) dispatch(msg transform.IncomingMessage) {
	if msg.Header.MessageID == proto.NotificationMessageID {
		select {
		case w.notifyCh <- msg:
		default:
			w.setErr(ErrMessageProcessing)
		}
		return
	}

	w.state.mu.Lock()
	defer w.state.mu.Unlock()

	if ch, ok := w.state.awaiting[msg.Header.MessageID]; ok {
		delete(w.state.awaiting, msg.Header.MessageID)
		ch <- result{msg: msg}
		return
	}
	w.state.pending[msg.Header.MessageID] = msg
}

func (w *Worker) shutdownAwaiting(err error) {
	w.state.mu.Lock()
	defer w.state.mu.Unlock()
	for id, ch := range w.state.awaiting {
		ch <- result{err: err}
		delete(w.state.awaiting, id)
	}
}
