// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command pru-ctl is an interactive client for pru-svc.
//
// Example:
//
//	$> pru-ctl -addr beaglebone:9998
//	pru> set shared word 0 0xdeadbeef
//	pru> get shared byte 0
//	pru> exec 0 ./prog.bin
//	pru> wait
package main // import "github.com/go-lpc/pruss/cmd/pru-ctl"

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/go-lpc/pruss/pru"
	"github.com/peterh/liner"
)

func main() {
	addr := flag.String("addr", "localhost:9998", "pru-svc [addr]:port")

	log.SetPrefix("pru-ctl: ")
	log.SetFlags(0)

	flag.Parse()

	err := run(*addr)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(addr string) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("could not dial pru-svc %q: %w", addr, err)
	}
	defer conn.Close()

	go display(os.Stdout, conn)

	term := liner.NewLiner()
	defer term.Close()
	term.SetCtrlCAborts(true)

	enc := json.NewEncoder(conn)
	for {
		line, err := term.Prompt("pru> ")
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
				return nil
			}
			return fmt.Errorf("could not read command: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		term.AppendHistory(line)

		switch line {
		case "quit", "q":
			return nil
		case "help", "h", "?":
			fmt.Println(usage)
			continue
		}

		cmd, err := parse(line)
		if err != nil {
			fmt.Printf("error: %+v\n", err)
			continue
		}

		err = enc.Encode(cmd)
		if err != nil {
			return fmt.Errorf("could not send %q command: %w", cmd.Name, err)
		}
		if cmd.Name == "exit" {
			return nil
		}
	}
}

// display prints the replies and events sent by the server.
func display(w io.Writer, r io.Reader) {
	dec := json.NewDecoder(r)
	for {
		var rep struct {
			Msg   string          `json:"msg"`
			Event string          `json:"event"`
			Value json.RawMessage `json:"value"`
		}
		err := dec.Decode(&rep)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				fmt.Fprintf(w, "could not decode reply: %+v\n", err)
			}
			return
		}
		switch {
		case rep.Event != "":
			fmt.Fprintf(w, "event: %s (%s)\n", rep.Event, rep.Msg)
		case rep.Value != nil:
			fmt.Fprintf(w, "%s: %s\n", rep.Msg, rep.Value)
		default:
			fmt.Fprintf(w, "%s\n", rep.Msg)
		}
	}
}

const usage = `commands:
 offset                          display the shared RAM offset (words)
 set-offset N                    set the shared RAM offset (words)
 get shared|core N word|byte I   read one value
 set shared|core N word|byte I V write one value
 read-block I LEN                read LEN bytes of shared RAM
 write-block I HEX               write hex-encoded bytes to shared RAM
 read-legacy                     read the first 16 shared words
 load CORE FILE                  load FILE into the data RAM of CORE
 exec CORE FILE [ADDR]           run FILE on CORE from ADDR
 wait                            wait for the next PRU interrupt
 cancel                          cancel the pending wait
 clear [EVT]                     acknowledge system event EVT
 interrupt                       send an interrupt to PRU0
 exit [CORE]                     halt CORE and release the device
 quit                            leave pru-ctl`

func parse(line string) (pru.Command, error) {
	toks := strings.Fields(line)
	cmd := pru.Command{Name: strings.ToLower(toks[0])}
	args := toks[1:]

	var v interface{}
	switch cmd.Name {
	case "offset", "read-legacy", "wait", "cancel", "interrupt":
		if len(args) != 0 {
			return cmd, fmt.Errorf("%q takes no argument", cmd.Name)
		}

	case "set-offset":
		if len(args) != 1 {
			return cmd, fmt.Errorf("usage: set-offset N")
		}
		n, err := parseU32(args[0])
		if err != nil {
			return cmd, err
		}
		v = n

	case "get", "set":
		acc, err := parseAccess(cmd.Name, args)
		if err != nil {
			return cmd, err
		}
		v = acc

	case "read-block":
		if len(args) != 2 {
			return cmd, fmt.Errorf("usage: read-block INDEX LENGTH")
		}
		idx, err := parseU32(args[0])
		if err != nil {
			return cmd, err
		}
		n, err := parseU32(args[1])
		if err != nil {
			return cmd, err
		}
		v = pru.BlockArgs{Index: idx, Length: n}

	case "write-block":
		if len(args) != 2 {
			return cmd, fmt.Errorf("usage: write-block INDEX HEX")
		}
		idx, err := parseU32(args[0])
		if err != nil {
			return cmd, err
		}
		raw, err := hex.DecodeString(strings.TrimPrefix(args[1], "0x"))
		if err != nil {
			return cmd, fmt.Errorf("could not decode block payload: %w", err)
		}
		v = pru.BlockArgs{Index: idx, Data: raw}

	case "load", "exec":
		if len(args) < 2 || len(args) > 3 || (cmd.Name == "load" && len(args) != 2) {
			return cmd, fmt.Errorf("usage: load CORE FILE | exec CORE FILE [ADDR]")
		}
		core, err := strconv.Atoi(args[0])
		if err != nil {
			return cmd, fmt.Errorf("could not parse core %q: %w", args[0], err)
		}
		prog := pru.ProgramArgs{Core: core, File: args[1]}
		if len(args) == 3 {
			prog.Addr, err = parseU32(args[2])
			if err != nil {
				return cmd, err
			}
		}
		v = prog

	case "clear":
		if len(args) > 1 {
			return cmd, fmt.Errorf("usage: clear [EVENT]")
		}
		if len(args) == 1 {
			evt, err := parseU32(args[0])
			if err != nil {
				return cmd, err
			}
			v = evt
		}

	case "exit":
		if len(args) > 1 {
			return cmd, fmt.Errorf("usage: exit [CORE]")
		}
		if len(args) == 1 {
			core, err := strconv.Atoi(args[0])
			if err != nil {
				return cmd, fmt.Errorf("could not parse core %q: %w", args[0], err)
			}
			v = core
		}

	default:
		return cmd, fmt.Errorf("unknown command %q", cmd.Name)
	}

	if v != nil {
		raw, err := json.Marshal(v)
		if err != nil {
			return cmd, fmt.Errorf("could not encode %q arguments: %w", cmd.Name, err)
		}
		msg := json.RawMessage(raw)
		cmd.Args = &msg
	}
	return cmd, nil
}

func parseAccess(name string, args []string) (pru.AccessArgs, error) {
	var acc pru.AccessArgs
	if len(args) == 0 {
		return acc, fmt.Errorf("usage: %s shared|core N word|byte INDEX", name)
	}

	acc.Space = strings.ToLower(args[0])
	args = args[1:]
	if acc.Space == "core" {
		if len(args) == 0 {
			return acc, fmt.Errorf("missing core number")
		}
		core, err := strconv.Atoi(args[0])
		if err != nil {
			return acc, fmt.Errorf("could not parse core %q: %w", args[0], err)
		}
		acc.Core = core
		args = args[1:]
	}

	want, help := 2, "usage: get shared|core N word|byte INDEX"
	if name == "set" {
		want, help = 3, "usage: set shared|core N word|byte INDEX VALUE"
	}
	if len(args) != want {
		return acc, errors.New(help)
	}

	w, err := pru.ParseWidth(args[0])
	if err != nil {
		return acc, err
	}
	acc.Width = w.String()

	acc.Index, err = parseU32(args[1])
	if err != nil {
		return acc, err
	}
	if name == "set" {
		acc.Value, err = parseU32(args[2])
		if err != nil {
			return acc, err
		}
	}
	return acc, nil
}

func parseU32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("could not parse %q: %w", s, err)
	}
	return uint32(v), nil
}
