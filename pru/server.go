// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pru

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strings"
)

// server allows to control a PRU subsystem over TCP.
type server struct {
	ctl net.Listener
	msg *log.Logger

	newDevice func(opts ...Option) (*Device, error)

	opts []Option
}

// Serve listens on addr and serves JSON control requests, one
// connection at a time. Each connection opens the device with opts
// and releases it when the connection ends.
func Serve(addr string, opts ...Option) error {
	srv, err := newServer(addr, opts...)
	if err != nil {
		return fmt.Errorf("could not create pru server: %w", err)
	}
	return srv.serve()
}

func newServer(addr string, opts ...Option) (*server, error) {
	ctl, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("could not create pru-ctl server on %q: %w", addr, err)
	}

	srv := &server{
		ctl:       ctl,
		msg:       log.New(os.Stdout, "pru-svc: ", 0),
		newDevice: Open,
		opts:      opts,
	}
	return srv, nil
}

// Command is a control request.
type Command struct {
	Name string           `json:"name"`
	Args *json.RawMessage `json:"args,omitempty"`
}

// Reply is sent back for every request, and pushed once per
// dispatched wait (with Event set).
type Reply struct {
	Msg   string      `json:"msg"`
	Event string      `json:"event,omitempty"`
	Value interface{} `json:"value,omitempty"`
}

// AccessArgs are the arguments of the get and set requests.
type AccessArgs struct {
	Space string `json:"space"` // "shared" or "core"
	Core  int    `json:"core"`
	Width string `json:"width"` // "word" or "byte"
	Index uint32 `json:"index"`
	Value uint32 `json:"value"`
}

func (args AccessArgs) request() (Request, error) {
	width, err := ParseWidth(args.Width)
	if err != nil {
		return Request{}, err
	}
	var space Space
	switch strings.ToLower(args.Space) {
	case "shared", "":
		space = Shared
	case "core", "private":
		space = Private(args.Core)
	default:
		return Request{}, fmt.Errorf("%w: unknown memory space %q", ErrInvalidArgument, args.Space)
	}
	return Request{Space: space, Width: width, Index: args.Index}, nil
}

// BlockArgs are the arguments of the read-block and write-block requests.
type BlockArgs struct {
	Index  uint32 `json:"index"`
	Length uint32 `json:"length,omitempty"`
	Data   []byte `json:"data,omitempty"`
}

// ProgramArgs are the arguments of the load and exec requests.
type ProgramArgs struct {
	Core int    `json:"core"`
	File string `json:"file"`
	Addr uint32 `json:"addr"`
}

func (srv *server) serve() error {
	defer srv.close()

	for {
		conn, err := srv.ctl.Accept()
		if err != nil {
			return fmt.Errorf("could not accept connection: %w", err)
		}

		err = srv.handle(conn)
		if err != nil {
			srv.msg.Printf("could not run PRU session: %+v", err)
			continue
		}
	}
}

func (srv *server) handle(conn net.Conn) error {
	defer conn.Close()
	srv.msg.Printf("serving %v...", conn.RemoteAddr())
	defer srv.msg.Printf("serving %v... [done]", conn.RemoteAddr())

	dev, err := srv.newDevice(srv.opts...)
	if err != nil {
		_ = json.NewEncoder(conn).Encode(Reply{Msg: fmt.Sprintf("%+v", err)})
		return fmt.Errorf("could not open PRU device: %w", err)
	}

	sess := session{
		srv:  srv,
		dev:  dev,
		enc:  json.NewEncoder(conn),
		open: true,
	}
	defer func() {
		if !sess.open {
			return
		}
		err := dev.Close()
		if err != nil {
			srv.msg.Printf("could not close PRU device: %+v", err)
		}
	}()

	var (
		reqs = make(chan Command)
		errc = make(chan error, 1)
		quit = make(chan struct{})
	)
	defer close(quit)

	go func() {
		dec := json.NewDecoder(conn)
		for {
			var req Command
			err := dec.Decode(&req)
			if err != nil {
				errc <- err
				return
			}
			select {
			case reqs <- req:
			case <-quit:
				return
			}
		}
	}()

	for {
		select {
		case err := <-errc:
			if errors.Is(err, io.EOF) {
				return nil
			}
			srv.msg.Printf("could not decode command request: %+v", err)
			sess.reply(err, nil)
			return fmt.Errorf("could not decode command request: %w", err)

		case c := <-dev.Bridge().C():
			dev.Bridge().Dispatch(c)

		case req := <-reqs:
			srv.msg.Printf("received request: name=%q", req.Name)
			if !sess.run(req) {
				return nil
			}
		}
	}
}

func (srv *server) close() {
	_ = srv.ctl.Close()
}

// session is the state of one control connection.
// Its methods run on the connection goroutine only.
type session struct {
	srv  *server
	dev  *Device
	enc  *json.Encoder
	open bool
}

func (sess *session) reply(err error, v interface{}) {
	rep := Reply{Msg: "ok", Value: v}
	if err != nil {
		rep.Msg = fmt.Sprintf("%+v", err)
		rep.Value = nil
	}
	_ = sess.enc.Encode(rep)
}

func (sess *session) push(err error) {
	rep := Reply{Msg: "ok", Event: "interrupt"}
	switch {
	case err == nil:
	case errors.Is(err, ErrCancelled):
		rep.Event = "cancelled"
		rep.Msg = err.Error()
	default:
		rep.Event = "error"
		rep.Msg = fmt.Sprintf("%+v", err)
	}
	_ = sess.enc.Encode(rep)
}

func (sess *session) decode(req Command, v interface{}) error {
	if req.Args == nil {
		return fmt.Errorf("%w: missing %q arguments", ErrInvalidArgument, req.Name)
	}
	err := json.Unmarshal(*req.Args, v)
	if err != nil {
		return fmt.Errorf("could not decode %q payload: %w", req.Name, err)
	}
	return nil
}

// run executes req and reports whether the session goes on.
func (sess *session) run(req Command) bool {
	var (
		dev = sess.dev
		msg = sess.srv.msg
	)

	switch strings.ToLower(req.Name) {
	case "offset":
		sess.reply(nil, dev.SharedOffset())

	case "set-offset":
		var v uint32
		err := sess.decode(req, &v)
		if err == nil {
			dev.SetSharedOffset(v)
		}
		sess.reply(err, nil)

	case "get":
		var args AccessArgs
		err := sess.decode(req, &args)
		if err != nil {
			sess.reply(err, nil)
			return true
		}
		acc, err := args.request()
		if err != nil {
			sess.reply(err, nil)
			return true
		}
		v, err := dev.Get(acc)
		sess.reply(err, v)

	case "set":
		var args AccessArgs
		err := sess.decode(req, &args)
		if err != nil {
			sess.reply(err, nil)
			return true
		}
		acc, err := args.request()
		if err != nil {
			sess.reply(err, nil)
			return true
		}
		sess.reply(dev.Set(acc, args.Value), nil)

	case "read-block":
		var args BlockArgs
		err := sess.decode(req, &args)
		if err != nil {
			sess.reply(err, nil)
			return true
		}
		raw, err := dev.ReadBlock(args.Index, args.Length)
		sess.reply(err, raw)

	case "write-block":
		var args BlockArgs
		err := sess.decode(req, &args)
		if err != nil {
			sess.reply(err, nil)
			return true
		}
		sess.reply(dev.WriteBlock(args.Index, args.Data), nil)

	case "read-legacy":
		words, err := dev.ReadLegacy()
		sess.reply(err, words)

	case "load":
		var args ProgramArgs
		err := sess.decode(req, &args)
		if err == nil {
			err = dev.LoadDataFile(args.Core, args.File)
		}
		sess.reply(err, nil)

	case "exec":
		var args ProgramArgs
		err := sess.decode(req, &args)
		if err == nil {
			err = dev.Execute(args.Core, args.File, args.Addr)
		}
		sess.reply(err, nil)

	case "wait":
		sess.reply(dev.WaitForInterrupt(sess.push), nil)

	case "cancel":
		sess.reply(dev.CancelWait(), nil)

	case "clear":
		evt := uint32(EvtPRU0ToHost)
		if req.Args != nil {
			err := sess.decode(req, &evt)
			if err != nil {
				sess.reply(err, nil)
				return true
			}
		}
		sess.reply(dev.ClearInterrupt(evt), nil)

	case "interrupt":
		sess.reply(dev.Interrupt(), nil)

	case "exit":
		var core int
		if req.Args != nil {
			err := sess.decode(req, &core)
			if err != nil {
				sess.reply(err, nil)
				return true
			}
		}
		err := dev.Exit(core)
		sess.open = false
		sess.reply(err, nil)
		if err != nil {
			msg.Printf("could not exit PRU core-%d: %+v", core, err)
		}
		return false

	default:
		msg.Printf("unknown command name=%q", req.Name)
		sess.reply(fmt.Errorf("unknown command %q", req.Name), nil)
	}
	return true
}
