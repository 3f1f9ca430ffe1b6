package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/anthanhphan/go-docsync/internal/node/domain"
	"github.com/anthanhphan/go-docsync/internal/node/port"
)

// memRepo is an in-memory DocumentRepository.
type memRepo struct {
	mu   sync.Mutex
	docs map[string][]byte
}

func newMemRepo(docs map[string]string) *memRepo {
	r := &memRepo{docs: make(map[string][]byte)}
	for k, v := range docs {
		r.docs[k] = []byte(v)
	}
	return r
}

func (r *memRepo) WriteIfAbsent(_ context.Context, doc domain.Document) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[doc.Name]; ok {
		return false, nil
	}
	r.docs[doc.Name] = append([]byte(nil), doc.Content...)
	return true, nil
}

func (r *memRepo) Read(_ context.Context, name string) (domain.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.docs[name]
	if !ok {
		return domain.Document{}, port.ErrDocumentNotFound
	}
	return domain.Document{Name: name, Content: append([]byte(nil), data...)}, nil
}

func (r *memRepo) List(context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.docs))
	for k := range r.docs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names, nil
}

func (r *memRepo) Root() string { return "mem" }

func (r *memRepo) Get(name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.docs[name]
	return string(data), ok
}

// fakeConn delivers requests straight to a remote handler.
type fakeConn struct {
	nb      domain.Neighbor
	remote  port.RequestHandler
	sendErr error

	mu        sync.Mutex
	observers []port.ResponseObserver
	sent      atomic.Int32

	done chan struct{}
	once sync.Once
}

func newFakeConn(nb domain.Neighbor, remote port.RequestHandler, sendErr error) *fakeConn {
	return &fakeConn{nb: nb, remote: remote, sendErr: sendErr, done: make(chan struct{})}
}

func (c *fakeConn) Neighbor() domain.Neighbor { return c.nb }

func (c *fakeConn) Send(ctx context.Context, req domain.Request) (<-chan domain.Response, error) {
	if !c.IsAlive() {
		return nil, domain.ErrConnectionClosed
	}
	if c.sendErr != nil {
		return nil, c.sendErr
	}
	c.sent.Add(1)

	ch := make(chan domain.Response, 1)
	go func() {
		resp := c.remote.Handle(ctx, req)
		c.mu.Lock()
		observers := append([]port.ResponseObserver(nil), c.observers...)
		c.mu.Unlock()
		for _, o := range observers {
			o(resp)
		}
		ch <- resp
	}()
	return ch, nil
}

func (c *fakeConn) AddObserver(o port.ResponseObserver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

func (c *fakeConn) IsAlive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *fakeConn) Done() <-chan struct{} { return c.done }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// fakeDialer connects to a single simulated remote node.
type fakeDialer struct {
	mu        sync.Mutex
	reachable bool
	remote    port.RequestHandler
	sendErr   error
	conns     []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, nb domain.Neighbor) (port.Connection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.reachable {
		return nil, errors.New("connection refused")
	}
	c := newFakeConn(nb, d.remote, d.sendErr)
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) SetReachable(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reachable = v
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) Last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}
