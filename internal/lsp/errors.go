package lsp

import (
	"errors"
	"fmt"
)

// Standard errors returned by the engine.
var (
	// ErrShutdown indicates the client or its transport has been closed.
	ErrShutdown = errors.New("lsp client shut down")

	// ErrAlreadyStarted indicates Start was called twice.
	ErrAlreadyStarted = errors.New("lsp client already started")

	// ErrTimeout indicates a request went unanswered within its deadline.
	ErrTimeout = errors.New("request timed out")

	// ErrNoEdits indicates a workspace edit carried neither changes nor
	// documentChanges.
	ErrNoEdits = errors.New("workspace edit contains no edits")

	// ErrNoSymbolAtPosition indicates rename found nothing renameable.
	ErrNoSymbolAtPosition = errors.New("no renameable symbol at position")

	// ErrDocumentOpen indicates Open was called on an already-open session.
	ErrDocumentOpen = errors.New("document already open")

	// ErrInvalidResponse indicates a response that could not be decoded.
	ErrInvalidResponse = errors.New("invalid response from server")
)

// RPCError represents a JSON-RPC error object from the server.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("rpc error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC and LSP error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeServerNotInitialized = -32002
	CodeRequestCancelled     = -32800
	CodeContentModified      = -32801
	CodeRequestFailed        = -32803
)
