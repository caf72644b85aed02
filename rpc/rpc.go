// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rpc provides a JSON RPC 2 backend status service.
package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/kortschak/jsonrpc2"

	"github.com/kortschak/accel/backend"
)

// Status methods.
const (
	Who   = "who"   // call Message[None] → Message[string] (version)
	State = "state" // call Message[StateRequest] → Message[SysState]
)

// JSON RPC error codes.
const (
	ErrCodeInvalidMessage = 1 // an RPC message is invalid
	// Invalid message sub-codes:
	ErrCodeMessageSyntax       = 11 // syntax
	ErrCodeMessageUnknownField = 12 // unknown field
	ErrCodeShortMessage        = 13 // truncation
	ErrCodeMessageType         = 14 // type mismatch

	ErrCodeInternal = 4 // an internal error happened

	ErrCodeNotFound = 5 // a requested backend was not present
)

// Message is the message passing container.
type Message[T any] struct {
	Time time.Time `json:"time"`
	UID  UID       `json:"uid,omitempty"`
	Body T         `json:"body,omitempty"`
}

// UID is a component's UID.
type UID struct {
	Module  string `json:"module,omitempty"`
	Service string `json:"service,omitempty"`
}

func (u UID) String() string {
	if u.Service == "" {
		return u.Module
	}
	return u.Module + "." + u.Service
}

func (u UID) IsZero() bool {
	return u == UID{}
}

// NewMessage is a convenience Message constructor. It populates the Time
// field and ensures that the sender's UID is included in the message.
func NewMessage[T any](uid UID, body T) *Message[T] {
	return &Message[T]{
		Time: time.Now(),
		UID:  uid,
		Body: body,
	}
}

// None is an empty parameter or response slot.
type None struct{}

// StateRequest is the body of a state call. If Backends is not empty,
// only the named backends are reported.
type StateRequest struct {
	Backends []string `json:"backends,omitempty"`
}

// SysState is the system state returned by a state call.
type SysState struct {
	Version  string           `json:"version"`
	Network  string           `json:"network"`
	Addr     string           `json:"addr"`
	Sock     *string          `json:"sock,omitempty"`
	Backends []backend.Status `json:"backends"`
}

// UnmarshalMessage is a strict equivalent of [json.Unmarshal].
func UnmarshalMessage[T any](data []byte, v *Message[T]) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	err := dec.Decode(v)
	if err != nil {
		return &jsonrpc2.WireError{
			Code:    ErrCodeInvalidMessage,
			Message: err.Error(),
			Data:    encodeErrData(err, data),
		}
	}
	if dec.More() {
		off := dec.InputOffset()
		return &jsonrpc2.WireError{
			Code:    ErrCodeInvalidMessage,
			Message: fmt.Sprintf("invalid character "+quoteChar(data[off])+" after top-level value at offset %d", off),
			Data:    encodeErrData(&json.SyntaxError{Offset: off}, data),
		}
	}
	return nil
}

// encodeErrData return the JSON encoding for an error's extra data.
func encodeErrData(err error, data []byte) json.RawMessage {
	type extra struct {
		Type    int    `json:"type,omitempty"`
		Offset  int64  `json:"offset,omitempty"`
		Message []byte `json:"msg"`
	}
	e := extra{
		Message: data,
	}
	switch err := err.(type) {
	case nil:
		return nil
	case *json.SyntaxError:
		e.Type = ErrCodeMessageSyntax
		e.Offset = err.Offset
	case *json.UnmarshalTypeError:
		e.Type = ErrCodeMessageType
		e.Offset = err.Offset
	default:
		switch {
		case err == io.EOF, err == io.ErrUnexpectedEOF:
			e.Type = ErrCodeShortMessage
		case strings.HasPrefix(err.Error(), "json: unknown field"):
			e.Type = ErrCodeMessageUnknownField
		}
	}
	return wireErrorData(e)
}

// NewError returns an error that will be encoded correctly in the RPC protocol.
func NewError(code int64, message string, data any) error {
	return &jsonrpc2.WireError{
		Code:    code,
		Message: message,
		Data:    wireErrorData(data),
	}
}

func wireErrorData(data any) json.RawMessage {
	if data == nil {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode(data)
	if err != nil {
		b, _ := json.Marshal("!" + err.Error())
		return b
	}
	return bytes.TrimSpace(buf.Bytes())
}

// quoteChar formats c as a quoted character literal.
func quoteChar(c byte) string {
	// special cases - different from quoted strings
	if c == '\'' {
		return `'\''`
	}
	if c == '"' {
		return `'"'`
	}

	// use quoted string with different quotation marks
	s := strconv.Quote(string(c))
	return "'" + s[1:len(s)-1] + "'"
}
