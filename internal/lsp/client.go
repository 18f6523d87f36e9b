package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"skiff/internal/config"
	"skiff/internal/log"
)

const defaultRequestTimeout = 10 * time.Second

// Client is the JSON-RPC 2.0 correlation layer over a Transport. One
// Client serves one language server; document sessions attach to it and
// share its connection.
//
// All feature requests are gated on the initialize handshake: before the
// server has confirmed initialization they return nil results without
// error, so callers degrade to "no information" instead of racing the
// handshake.
type Client struct {
	transport Transport
	log       *log.Logger

	rootURI          DocumentURI
	workspaceFolders []WorkspaceFolder
	timeout          time.Duration
	autoClose        bool
	capsOverride     json.RawMessage
	capsTransform    func(ClientCapabilities) ClientCapabilities
	capsPatches      map[string]any
	initOptions      any

	nextID    atomic.Int64
	pendingMu sync.Mutex
	pending   map[int64]chan *rpcResponse

	sessionMu sync.Mutex
	sessions  []*DocumentSession

	started   atomic.Bool
	ready     atomic.Bool
	closed    atomic.Bool
	handshake chan struct{}
	done      chan struct{}

	capsMu     sync.RWMutex
	capsRaw    json.RawMessage
	serverInfo *ServerInfo
}

type rpcResponse struct {
	Result json.RawMessage
	Error  *RPCError
}

// rpcEnvelope is the outgoing wire form. A nil ID makes a notification.
type rpcEnvelope struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// rpcNullReply answers a server-to-client request with a null result.
type rpcNullReply struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
}

// rpcIncoming is the probe for inbound messages. The combination of ID
// and Method distinguishes responses, server requests, and notifications.
type rpcIncoming struct {
	ID     *int64          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRootURI sets the workspace root sent during initialization.
func WithRootURI(uri DocumentURI) ClientOption {
	return func(c *Client) { c.rootURI = uri }
}

// WithWorkspaceFolders sets additional workspace folders.
func WithWorkspaceFolders(folders ...WorkspaceFolder) ClientOption {
	return func(c *Client) { c.workspaceFolders = folders }
}

// WithTimeout sets the per-request timeout. The initialize request gets
// three times this, since servers often index the workspace before
// answering it.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithAutoClose closes the transport when the last document session
// detaches.
func WithAutoClose() ClientOption {
	return func(c *Client) { c.autoClose = true }
}

// WithLogger sets the logger. Defaults to a discard logger.
func WithLogger(l *log.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

// WithCapabilities replaces the default client capabilities wholesale.
func WithCapabilities(caps ClientCapabilities) ClientOption {
	return func(c *Client) {
		data, err := json.Marshal(caps)
		if err == nil {
			c.capsOverride = data
		}
	}
}

// WithCapabilityTransform derives the advertised capabilities from the
// defaults with a caller-supplied function. Runs before any dotted-path
// overrides.
func WithCapabilityTransform(transform func(ClientCapabilities) ClientCapabilities) ClientOption {
	return func(c *Client) { c.capsTransform = transform }
}

// WithCapabilityOverride patches one dotted path in the advertised
// capabilities, e.g.
// WithCapabilityOverride("textDocument.completion.completionItem.snippetSupport", true).
func WithCapabilityOverride(path string, value any) ClientOption {
	return func(c *Client) {
		if c.capsPatches == nil {
			c.capsPatches = make(map[string]any)
		}
		c.capsPatches[path] = value
	}
}

// WithInitializationOptions passes server-specific options through the
// initialize request verbatim.
func WithInitializationOptions(opts any) ClientOption {
	return func(c *Client) { c.initOptions = opts }
}

// OptionsFromConfig converts a loaded client configuration into options.
func OptionsFromConfig(cfg config.ClientConfig) []ClientOption {
	opts := []ClientOption{WithTimeout(cfg.RequestTimeout())}

	if cfg.RootURI != "" {
		opts = append(opts, WithRootURI(DocumentURI(cfg.RootURI)))
	}
	if len(cfg.WorkspaceFolders) > 0 {
		folders := make([]WorkspaceFolder, 0, len(cfg.WorkspaceFolders))
		for _, uri := range cfg.WorkspaceFolders {
			folders = append(folders, WorkspaceFolder{
				URI:  DocumentURI(uri),
				Name: URIToFilePath(DocumentURI(uri)),
			})
		}
		opts = append(opts, WithWorkspaceFolders(folders...))
	}
	if cfg.AutoClose {
		opts = append(opts, WithAutoClose())
	}
	for path, value := range cfg.CapabilityOverrides {
		opts = append(opts, WithCapabilityOverride(path, value))
	}
	if len(cfg.InitializationOptions) > 0 {
		opts = append(opts, WithInitializationOptions(cfg.InitializationOptions))
	}
	return opts
}

// NewClient creates a client over the given transport. Call Start to run
// the read loop and perform the initialize handshake.
func NewClient(transport Transport, opts ...ClientOption) *Client {
	c := &Client{
		transport: transport,
		log:       log.Discard(),
		timeout:   defaultRequestTimeout,
		pending:   make(map[int64]chan *rpcResponse),
		handshake: make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithComponent("lsp.client")
	return c
}

// Start launches the read loop and performs the initialize handshake.
// It blocks until the server has answered initialize or the context or
// handshake deadline expires.
func (c *Client) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	go c.readLoop()

	caps, err := c.buildCapabilities()
	if err != nil {
		return fmt.Errorf("building capabilities: %w", err)
	}

	params := InitializeParams{
		ProcessID:             os.Getpid(),
		RootURI:               c.rootURI,
		Capabilities:          caps,
		InitializationOptions: c.initOptions,
		WorkspaceFolders:      c.workspaceFolders,
	}

	result, err := c.call(ctx, "initialize", params, 3*c.timeout)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	var init InitializeResult
	if err := json.Unmarshal(result, &init); err != nil {
		return fmt.Errorf("%w: initialize result: %v", ErrInvalidResponse, err)
	}

	c.capsMu.Lock()
	c.capsRaw = init.Capabilities
	c.serverInfo = init.ServerInfo
	c.capsMu.Unlock()

	if err := c.notify("initialized", InitializedParams{}); err != nil {
		return fmt.Errorf("initialized: %w", err)
	}

	c.ready.Store(true)
	close(c.handshake)

	if init.ServerInfo != nil {
		c.log.Info("connected to %s %s", init.ServerInfo.Name, init.ServerInfo.Version)
	} else {
		c.log.Info("connected")
	}
	return nil
}

// buildCapabilities marshals the advertised capabilities, applying the
// wholesale override and then any dotted-path patches.
func (c *Client) buildCapabilities() (json.RawMessage, error) {
	caps := c.capsOverride
	if caps == nil {
		defaults := DefaultClientCapabilities()
		if c.capsTransform != nil {
			defaults = c.capsTransform(defaults)
		}
		data, err := json.Marshal(defaults)
		if err != nil {
			return nil, err
		}
		caps = data
	}

	for path, value := range c.capsPatches {
		patched, err := sjson.SetBytes(caps, path, value)
		if err != nil {
			return nil, fmt.Errorf("capability override %q: %w", path, err)
		}
		caps = patched
	}
	return caps, nil
}

// Ready reports whether the initialize handshake has completed.
func (c *Client) Ready() bool { return c.ready.Load() }

// HandshakeDone returns a channel closed once the handshake completes.
func (c *Client) HandshakeDone() <-chan struct{} { return c.handshake }

// ServerInfo returns the server identity from initialization, or nil.
func (c *Client) ServerInfo() *ServerInfo {
	c.capsMu.RLock()
	defer c.capsMu.RUnlock()
	return c.serverInfo
}

// SyncKind returns the server's declared document sync kind.
func (c *Client) SyncKind() TextDocumentSyncKind {
	c.capsMu.RLock()
	defer c.capsMu.RUnlock()
	return SyncKindFromCapabilities(c.capsRaw)
}

// SupportsResolve reports whether the server resolves completion items
// lazily.
func (c *Client) SupportsResolve() bool {
	return c.supports("completionProvider.resolveProvider")
}

// SupportsPrepareRename reports whether the server validates rename
// positions ahead of time.
func (c *Client) SupportsPrepareRename() bool {
	return c.supports("renameProvider.prepareProvider")
}

// supports probes the raw server capabilities at a dotted path. A value
// that exists and is not false counts as support; provider fields may be
// booleans or options objects.
func (c *Client) supports(path string) bool {
	c.capsMu.RLock()
	defer c.capsMu.RUnlock()

	v := gjson.GetBytes(c.capsRaw, path)
	if !v.Exists() {
		return false
	}
	return v.Type != gjson.False && v.Type != gjson.Null
}

// Close shuts the client down. It performs a best-effort shutdown/exit
// exchange, fails all pending requests with ErrShutdown, and closes the
// transport. Safe to call more than once.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	if c.ready.Load() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_, _ = c.call(ctx, "shutdown", nil, time.Second)
		cancel()
		_ = c.notify("exit", nil)
	}

	close(c.done)
	return c.transport.Close()
}

// attach registers a document session for notification fan-out.
func (c *Client) attach(s *DocumentSession) {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	c.sessions = append(c.sessions, s)
}

// detach removes a session from the registry. When the registry empties
// and auto-close is enabled the client shuts down.
func (c *Client) detach(s *DocumentSession) {
	c.sessionMu.Lock()
	for i, cur := range c.sessions {
		if cur == s {
			c.sessions = append(c.sessions[:i], c.sessions[i+1:]...)
			break
		}
	}
	empty := len(c.sessions) == 0
	c.sessionMu.Unlock()

	if empty && c.autoClose {
		_ = c.Close()
	}
}

// call sends a request and blocks for its response, the timeout, context
// cancellation, or client shutdown, whichever comes first.
func (c *Client) call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	select {
	case <-c.done:
		return nil, ErrShutdown
	default:
	}

	id := c.nextID.Add(1)
	ch := make(chan *rpcResponse, 1)

	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	env := rpcEnvelope{JSONRPC: "2.0", ID: &id, Method: method, Params: params}
	data, err := json.Marshal(env)
	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("marshaling %s: %w", method, err)
	}

	if err := c.transport.Send(data); err != nil {
		c.forget(id)
		return nil, fmt.Errorf("sending %s: %w", method, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, fmt.Errorf("%s: %w", method, resp.Error)
		}
		return resp.Result, nil
	case <-timer.C:
		c.forget(id)
		return nil, fmt.Errorf("%s after %v: %w", method, timeout, ErrTimeout)
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrShutdown
	}
}

func (c *Client) forget(id int64) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

// notify sends a notification; no response correlation.
func (c *Client) notify(method string, params any) error {
	env := rpcEnvelope{JSONRPC: "2.0", Method: method, Params: params}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", method, err)
	}
	if err := c.transport.Send(data); err != nil {
		return fmt.Errorf("sending %s: %w", method, err)
	}
	return nil
}

// readLoop receives messages until the transport fails or closes, then
// fails every pending request.
func (c *Client) readLoop() {
	for {
		data, err := c.transport.Receive()
		if err != nil {
			if !c.closed.Load() {
				c.log.Warn("transport closed: %v", err)
			}
			c.failPending()
			return
		}
		c.dispatch(data)
	}
}

// failPending delivers ErrShutdown to every in-flight request.
func (c *Client) failPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		ch <- &rpcResponse{Error: &RPCError{Code: CodeRequestCancelled, Message: "client shut down"}}
		delete(c.pending, id)
	}
}

// dispatch classifies one inbound message by the presence of its ID and
// Method fields and routes it.
func (c *Client) dispatch(data []byte) {
	var msg rpcIncoming
	if err := json.Unmarshal(data, &msg); err != nil {
		c.log.Warn("dropping malformed message: %v", err)
		return
	}

	switch {
	case msg.ID != nil && msg.Method == "":
		c.handleResponse(&msg)
	case msg.ID != nil:
		// Server-to-client request. Nothing here implements any of
		// them, but leaving a request unanswered stalls servers that
		// wait on the reply, so answer null.
		c.log.Debug("auto-replying null to server request %s", msg.Method)
		go c.replyNull(*msg.ID)
	case msg.Method != "":
		c.handleNotification(msg.Method, msg.Params)
	default:
		c.log.Warn("dropping message with neither id nor method")
	}
}

func (c *Client) handleResponse(msg *rpcIncoming) {
	c.pendingMu.Lock()
	ch, ok := c.pending[*msg.ID]
	if ok {
		delete(c.pending, *msg.ID)
	}
	c.pendingMu.Unlock()

	if !ok {
		// Timed out or cancelled before the server answered.
		c.log.Debug("dropping response for unknown request id %d", *msg.ID)
		return
	}
	ch <- &rpcResponse{Result: msg.Result, Error: msg.Error}
}

func (c *Client) replyNull(id int64) {
	data, err := json.Marshal(rpcNullReply{JSONRPC: "2.0", ID: id, Result: json.RawMessage("null")})
	if err != nil {
		return
	}
	if err := c.transport.Send(data); err != nil {
		c.log.Debug("null reply for request %d failed: %v", id, err)
	}
}

// handleNotification fans a server notification out to every attached
// session. Sessions filter by URI themselves; handlers run off the read
// loop so they may issue requests.
func (c *Client) handleNotification(method string, params json.RawMessage) {
	c.sessionMu.Lock()
	sessions := make([]*DocumentSession, len(c.sessions))
	copy(sessions, c.sessions)
	c.sessionMu.Unlock()

	for _, s := range sessions {
		go s.handleNotification(method, params)
	}
}

// --- Feature requests ---
//
// Every method below returns a nil result without error when the
// handshake has not completed or the server lacks the capability.

// Hover requests hover information at a position.
func (c *Client) Hover(ctx context.Context, uri DocumentURI, pos Position) (*Hover, error) {
	if !c.ready.Load() || !c.supports("hoverProvider") {
		return nil, nil
	}

	params := HoverParams{TextDocumentPositionParams: TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
		Position:     pos,
	}}
	result, err := c.call(ctx, "textDocument/hover", params, c.timeout)
	if err != nil {
		return nil, err
	}
	if len(result) == 0 || string(result) == "null" {
		return nil, nil
	}

	var hover Hover
	if err := json.Unmarshal(result, &hover); err != nil {
		return nil, fmt.Errorf("%w: hover: %v", ErrInvalidResponse, err)
	}
	return &hover, nil
}

// Completion requests completion candidates at a position.
func (c *Client) Completion(ctx context.Context, uri DocumentURI, pos Position, cctx *CompletionContext) (*CompletionList, error) {
	if !c.ready.Load() || !c.supports("completionProvider") {
		return nil, nil
	}

	params := CompletionParams{
		TextDocumentPositionParams: TextDocumentPositionParams{
			TextDocument: TextDocumentIdentifier{URI: uri},
			Position:     pos,
		},
		Context: cctx,
	}
	result, err := c.call(ctx, "textDocument/completion", params, c.timeout)
	if err != nil {
		return nil, err
	}
	return ParseCompletionResult(result)
}

// ResolveCompletionItem fills in lazily-computed fields of an item.
func (c *Client) ResolveCompletionItem(ctx context.Context, item CompletionItem) (*CompletionItem, error) {
	if !c.ready.Load() || !c.SupportsResolve() {
		return nil, nil
	}

	result, err := c.call(ctx, "completionItem/resolve", item, c.timeout)
	if err != nil {
		return nil, err
	}
	if len(result) == 0 || string(result) == "null" {
		return nil, nil
	}

	var resolved CompletionItem
	if err := json.Unmarshal(result, &resolved); err != nil {
		return nil, fmt.Errorf("%w: resolved item: %v", ErrInvalidResponse, err)
	}
	return &resolved, nil
}

// Definition requests the definition locations of the symbol at a
// position. Location links collapse to their target selection range.
func (c *Client) Definition(ctx context.Context, uri DocumentURI, pos Position) ([]Location, error) {
	if !c.ready.Load() || !c.supports("definitionProvider") {
		return nil, nil
	}

	params := TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
		Position:     pos,
	}
	result, err := c.call(ctx, "textDocument/definition", params, c.timeout)
	if err != nil {
		return nil, err
	}
	return ParseLocations(result)
}

// CodeActions requests code actions for a range, scoped to the given
// diagnostics.
func (c *Client) CodeActions(ctx context.Context, uri DocumentURI, rng Range, diags []Diagnostic) ([]CodeAction, error) {
	if !c.ready.Load() || !c.supports("codeActionProvider") {
		return nil, nil
	}
	if diags == nil {
		diags = []Diagnostic{}
	}

	params := CodeActionParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
		Range:        rng,
		Context:      CodeActionContext{Diagnostics: diags},
	}
	result, err := c.call(ctx, "textDocument/codeAction", params, c.timeout)
	if err != nil {
		return nil, err
	}
	if len(result) == 0 || string(result) == "null" {
		return nil, nil
	}

	var actions []CodeAction
	if err := json.Unmarshal(result, &actions); err != nil {
		return nil, fmt.Errorf("%w: code actions: %v", ErrInvalidResponse, err)
	}
	return actions, nil
}

// Rename requests a workspace edit renaming the symbol at a position.
func (c *Client) Rename(ctx context.Context, uri DocumentURI, pos Position, newName string) (*WorkspaceEdit, error) {
	if !c.ready.Load() || !c.supports("renameProvider") {
		return nil, nil
	}

	params := RenameParams{
		TextDocumentPositionParams: TextDocumentPositionParams{
			TextDocument: TextDocumentIdentifier{URI: uri},
			Position:     pos,
		},
		NewName: newName,
	}
	result, err := c.call(ctx, "textDocument/rename", params, c.timeout)
	if err != nil {
		return nil, err
	}
	if len(result) == 0 || string(result) == "null" {
		return nil, nil
	}

	var edit WorkspaceEdit
	if err := json.Unmarshal(result, &edit); err != nil {
		return nil, fmt.Errorf("%w: workspace edit: %v", ErrInvalidResponse, err)
	}
	return &edit, nil
}

// PrepareRename asks whether the symbol at a position is renameable.
// A nil result means it is not.
func (c *Client) PrepareRename(ctx context.Context, uri DocumentURI, pos Position) (*PrepareRenameResult, error) {
	if !c.ready.Load() || !c.supports("renameProvider.prepareProvider") {
		return nil, nil
	}

	params := PrepareRenameParams{TextDocumentPositionParams: TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
		Position:     pos,
	}}
	result, err := c.call(ctx, "textDocument/prepareRename", params, c.timeout)
	if err != nil {
		return nil, err
	}
	if len(result) == 0 || string(result) == "null" {
		return nil, nil
	}

	// The result may be a bare range or a {range, placeholder} object.
	var prep PrepareRenameResult
	if gjson.GetBytes(result, "range").Exists() {
		if err := json.Unmarshal(result, &prep); err != nil {
			return nil, fmt.Errorf("%w: prepare rename: %v", ErrInvalidResponse, err)
		}
		return &prep, nil
	}
	if err := json.Unmarshal(result, &prep.Range); err != nil {
		return nil, fmt.Errorf("%w: prepare rename: %v", ErrInvalidResponse, err)
	}
	return &prep, nil
}

// SignatureHelp requests signature information at a call site.
func (c *Client) SignatureHelp(ctx context.Context, uri DocumentURI, pos Position) (*SignatureHelp, error) {
	if !c.ready.Load() || !c.supports("signatureHelpProvider") {
		return nil, nil
	}

	params := SignatureHelpParams{TextDocumentPositionParams: TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
		Position:     pos,
	}}
	result, err := c.call(ctx, "textDocument/signatureHelp", params, c.timeout)
	if err != nil {
		return nil, err
	}
	if len(result) == 0 || string(result) == "null" {
		return nil, nil
	}

	var help SignatureHelp
	if err := json.Unmarshal(result, &help); err != nil {
		return nil, fmt.Errorf("%w: signature help: %v", ErrInvalidResponse, err)
	}
	if len(help.Signatures) == 0 {
		return nil, nil
	}
	return &help, nil
}
