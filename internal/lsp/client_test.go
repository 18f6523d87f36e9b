package lsp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tidwall/gjson"
)

// fakeTransport is an in-memory Transport scripted by tests. onSend runs
// synchronously for every outbound message and typically serves a canned
// response.
type fakeTransport struct {
	in        chan []byte
	closeOnce sync.Once

	mu     sync.Mutex
	sent   [][]byte
	onSend func(data []byte)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{in: make(chan []byte, 32)}
}

func (t *fakeTransport) Send(data []byte) error {
	t.mu.Lock()
	t.sent = append(t.sent, data)
	hook := t.onSend
	t.mu.Unlock()

	if hook != nil {
		hook(data)
	}
	return nil
}

func (t *fakeTransport) Receive() ([]byte, error) {
	data, ok := <-t.in
	if !ok {
		return nil, ErrShutdown
	}
	return data, nil
}

func (t *fakeTransport) Close() error {
	t.closeOnce.Do(func() { close(t.in) })
	return nil
}

// serve delivers one message from the fake server to the client.
func (t *fakeTransport) serve(msg string) {
	t.in <- []byte(msg)
}

func (t *fakeTransport) sentMessages() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.sent))
	copy(out, t.sent)
	return out
}

// findSent returns the first outbound message with the given method.
func (t *fakeTransport) findSent(method string) []byte {
	for _, msg := range t.sentMessages() {
		if gjson.GetBytes(msg, "method").String() == method {
			return msg
		}
	}
	return nil
}

func (t *fakeTransport) countSent(method string) int {
	n := 0
	for _, msg := range t.sentMessages() {
		if gjson.GetBytes(msg, "method").String() == method {
			n++
		}
	}
	return n
}

// answerLifecycle wires up the minimal server: answer initialize with the
// given capabilities and shutdown with null. extra handles everything else.
func (t *fakeTransport) answerLifecycle(caps string, extra func(id int64, method string, msg []byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onSend = func(data []byte) {
		id := gjson.GetBytes(data, "id")
		method := gjson.GetBytes(data, "method").String()
		if !id.Exists() {
			return
		}
		switch method {
		case "initialize":
			t.serve(fmt.Sprintf(
				`{"jsonrpc":"2.0","id":%d,"result":{"capabilities":%s,"serverInfo":{"name":"fake","version":"0.1"}}}`,
				id.Int(), caps))
		case "shutdown":
			t.serve(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":null}`, id.Int()))
		default:
			if extra != nil {
				extra(id.Int(), method, data)
			}
		}
	}
}

const allCaps = `{
	"textDocumentSync": 1,
	"hoverProvider": true,
	"definitionProvider": true,
	"completionProvider": {"resolveProvider": true},
	"codeActionProvider": true,
	"renameProvider": {"prepareProvider": true},
	"signatureHelpProvider": {}
}`

func startTestClient(t *testing.T, caps string, extra func(id int64, method string, msg []byte), opts ...ClientOption) (*Client, *fakeTransport) {
	t.Helper()

	ft := newFakeTransport()
	ft.answerLifecycle(caps, extra)

	client := NewClient(ft, opts...)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client, ft
}

func TestClientHandshake(t *testing.T) {
	client, ft := startTestClient(t, allCaps, nil)

	if !client.Ready() {
		t.Error("client not ready after Start")
	}
	select {
	case <-client.HandshakeDone():
	default:
		t.Error("handshake channel not closed")
	}

	if info := client.ServerInfo(); info == nil || info.Name != "fake" {
		t.Errorf("ServerInfo = %+v", info)
	}
	if kind := client.SyncKind(); kind != TextDocumentSyncKindFull {
		t.Errorf("SyncKind = %d, want full", kind)
	}
	if !client.SupportsResolve() {
		t.Error("SupportsResolve = false")
	}
	if !client.SupportsPrepareRename() {
		t.Error("SupportsPrepareRename = false")
	}
	if ft.findSent("initialized") == nil {
		t.Error("initialized notification not sent")
	}
}

func TestClientStartTwice(t *testing.T) {
	client, _ := startTestClient(t, allCaps, nil)
	if err := client.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}
}

func TestClientRequestTimeout(t *testing.T) {
	// The extra handler swallows hover requests, so the call must time out.
	client, _ := startTestClient(t, allCaps, func(int64, string, []byte) {},
		WithTimeout(50*time.Millisecond))

	_, err := client.Hover(context.Background(), "file:///a.go", Position{Line: 0, Character: 0})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
}

func TestClientOutOfOrderResponses(t *testing.T) {
	// Hold the first hover response until the second request arrives,
	// then answer in reverse order. Each caller must still get its own
	// result.
	var mu sync.Mutex
	var held []int64

	client, ft := startTestClient(t, allCaps, nil)
	extra := func(id int64, method string, msg []byte) {
		if method != "textDocument/hover" {
			return
		}
		mu.Lock()
		held = append(held, id)
		ready := len(held) == 2
		ids := append([]int64(nil), held...)
		mu.Unlock()

		if ready {
			for i := len(ids) - 1; i >= 0; i-- {
				ft.serve(fmt.Sprintf(
					`{"jsonrpc":"2.0","id":%d,"result":{"contents":"reply-%d"}}`, ids[i], ids[i]))
			}
		}
	}
	ft.mu.Lock()
	prev := ft.onSend
	ft.onSend = func(data []byte) {
		prev(data)
		id := gjson.GetBytes(data, "id")
		if id.Exists() {
			extra(id.Int(), gjson.GetBytes(data, "method").String(), data)
		}
	}
	ft.mu.Unlock()

	type reply struct {
		id  int64
		got string
		err error
	}
	results := make(chan reply, 2)

	for i := 0; i < 2; i++ {
		go func() {
			hover, err := client.Hover(context.Background(), "file:///a.go", Position{})
			r := reply{err: err}
			if hover != nil {
				r.got = gjson.ParseBytes(hover.Contents).String()
			}
			results <- r
		}()
	}

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		r := <-results
		if r.err != nil {
			t.Fatalf("Hover: %v", r.err)
		}
		seen[r.got] = true
	}
	if len(seen) != 2 {
		t.Errorf("responses not correlated per request: %v", seen)
	}
}

func TestClientAutoNullReply(t *testing.T) {
	_, ft := startTestClient(t, allCaps, nil)

	ft.serve(`{"jsonrpc":"2.0","id":99,"method":"workspace/configuration","params":{}}`)

	deadline := time.After(2 * time.Second)
	for {
		for _, msg := range ft.sentMessages() {
			if gjson.GetBytes(msg, "id").Int() == 99 && !gjson.GetBytes(msg, "method").Exists() {
				if gjson.GetBytes(msg, "result").Type != gjson.Null {
					t.Errorf("reply result = %s, want null", msg)
				}
				return
			}
		}
		select {
		case <-deadline:
			t.Fatal("no null reply sent for server request")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestClientPreHandshakeRequestsReturnNil(t *testing.T) {
	client := NewClient(newFakeTransport())

	hover, err := client.Hover(context.Background(), "file:///a.go", Position{})
	if err != nil || hover != nil {
		t.Errorf("Hover before handshake = (%v, %v), want (nil, nil)", hover, err)
	}
	locs, err := client.Definition(context.Background(), "file:///a.go", Position{})
	if err != nil || locs != nil {
		t.Errorf("Definition before handshake = (%v, %v), want (nil, nil)", locs, err)
	}
}

func TestClientCapabilityGate(t *testing.T) {
	client, ft := startTestClient(t, `{"hoverProvider":true}`, nil)

	// Definition is not declared, so no request goes out.
	locs, err := client.Definition(context.Background(), "file:///a.go", Position{})
	if err != nil || locs != nil {
		t.Errorf("Definition = (%v, %v), want (nil, nil)", locs, err)
	}
	if ft.findSent("textDocument/definition") != nil {
		t.Error("definition request sent despite missing capability")
	}
	if client.SupportsResolve() {
		t.Error("SupportsResolve = true without completionProvider")
	}
}

func TestClientCloseFailsPending(t *testing.T) {
	client, _ := startTestClient(t, allCaps, func(int64, string, []byte) {})

	errs := make(chan error, 1)
	go func() {
		_, err := client.Hover(context.Background(), "file:///a.go", Position{})
		errs <- err
	}()

	// Give the request time to register before closing.
	time.Sleep(20 * time.Millisecond)
	client.Close()

	select {
	case err := <-errs:
		if err == nil {
			t.Error("pending request succeeded after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending request not released by Close")
	}
}

func TestClientAutoCloseOnLastDetach(t *testing.T) {
	client, ft := startTestClient(t, allCaps, nil, WithAutoClose())

	s1 := NewDocumentSession(client, "file:///a.go", "go")
	s2 := NewDocumentSession(client, "file:///b.go", "go")

	s1.Close()
	if client.closed.Load() {
		t.Fatal("client closed while a session remained")
	}

	s2.Close()
	if !client.closed.Load() {
		t.Fatal("client not closed after last session detached")
	}
	if ft.findSent("exit") == nil {
		t.Error("exit notification not sent on close")
	}
}

func TestClientCapabilityOverrides(t *testing.T) {
	_, ft := startTestClient(t, allCaps, nil,
		WithCapabilityOverride("textDocument.completion.completionItem.snippetSupport", true))

	init := ft.findSent("initialize")
	if init == nil {
		t.Fatal("initialize not sent")
	}
	path := "params.capabilities.textDocument.completion.completionItem.snippetSupport"
	if !gjson.GetBytes(init, path).Bool() {
		t.Errorf("capability override not applied: %s", init)
	}
}
