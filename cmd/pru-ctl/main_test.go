// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	for _, tc := range []struct {
		line string
		name string
		args string
		err  string
	}{
		{line: "offset", name: "offset"},
		{line: "set-offset 0x800", name: "set-offset", args: "2048"},
		{
			line: "get shared word 5",
			name: "get",
			args: `{"space":"shared","core":0,"width":"word","index":5,"value":0}`,
		},
		{
			line: "set core 1 u8 3 0xff",
			name: "set",
			args: `{"space":"core","core":1,"width":"byte","index":3,"value":255}`,
		},
		{line: "read-block 8 64", name: "read-block", args: `{"index":8,"length":64}`},
		{line: "write-block 0 0x010203", name: "write-block", args: `{"index":0,"data":"AQID"}`},
		{line: "read-legacy", name: "read-legacy"},
		{line: "load 1 data.bin", name: "load", args: `{"core":1,"file":"data.bin","addr":0}`},
		{line: "exec 0 prog.bin 4", name: "exec", args: `{"core":0,"file":"prog.bin","addr":4}`},
		{line: "wait", name: "wait"},
		{line: "cancel", name: "cancel"},
		{line: "clear", name: "clear"},
		{line: "clear 20", name: "clear", args: "20"},
		{line: "interrupt", name: "interrupt"},
		{line: "exit 1", name: "exit", args: "1"},
		{line: "EXIT", name: "exit"},
		{line: "boot", err: `unknown command "boot"`},
		{line: "wait 1", err: "takes no argument"},
		{line: "get shared", err: "usage: get"},
		{line: "set shared word 1", err: "usage: set"},
		{line: "get core", err: "missing core number"},
		{line: "get shared dword 1", err: "unknown width"},
		{line: "set-offset -1", err: "could not parse"},
		{line: "write-block 0 zz", err: "could not decode block payload"},
		{line: "load 0 a.bin 3", err: "usage: load"},
		{line: "exit x", err: "could not parse core"},
	} {
		t.Run(tc.line, func(t *testing.T) {
			cmd, err := parse(tc.line)
			if tc.err != "" {
				if err == nil || !strings.Contains(err.Error(), tc.err) {
					t.Fatalf("invalid error: got=%v, want=%q", err, tc.err)
				}
				return
			}
			if err != nil {
				t.Fatalf("could not parse %q: %+v", tc.line, err)
			}
			if cmd.Name != tc.name {
				t.Fatalf("invalid name: got=%q, want=%q", cmd.Name, tc.name)
			}
			switch {
			case tc.args == "" && cmd.Args != nil:
				t.Fatalf("unexpected args: %s", *cmd.Args)
			case tc.args != "" && cmd.Args == nil:
				t.Fatalf("missing args")
			case tc.args != "" && string(*cmd.Args) != tc.args:
				t.Fatalf("invalid args:\ngot= %s\nwant=%s", *cmd.Args, tc.args)
			}
		})
	}
}

func TestDisplay(t *testing.T) {
	r := strings.NewReader(`{"msg":"ok"}
{"msg":"ok","value":42}
{"msg":"ok","event":"interrupt"}
{"msg":"pru: invalid core"}
`)
	w := new(bytes.Buffer)
	display(w, r)

	want := `ok
ok: 42
event: interrupt (ok)
pru: invalid core
`
	if got := w.String(); got != want {
		t.Fatalf("invalid display:\ngot:\n%s\nwant:\n%s", got, want)
	}
}
