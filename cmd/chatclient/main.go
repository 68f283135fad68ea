// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/nishisan-dev/chat-relay/internal/client"
	"github.com/nishisan-dev/chat-relay/internal/config"
	"github.com/nishisan-dev/chat-relay/internal/logging"
)

func main() {
	configPath := flag.String("config", "/etc/chatrelay/client.yaml", "path to client config file")
	flag.Parse()

	cfg, err := config.LoadClientConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	opts := client.Options{
		PollInterval:    cfg.PollInterval,
		HeartbeatPeriod: cfg.Heartbeat.Interval,
		MissThreshold:   cfg.Heartbeat.MissThreshold,
		Logger:          logger,
	}

	engine, err := client.Connect(cfg.Server.Address, cfg.Client.Name, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to %s: %v\n", cfg.Server.Address, err)
		os.Exit(1)
	}
	fmt.Printf("connected as endpoint #%d to %s\n", engine.SelfID(), cfg.Server.Address)

	go printEvents(engine)

	runREPL(engine)
}

func printEvents(engine *client.Engine) {
	for ev := range engine.Events() {
		switch ev.Kind {
		case client.EventMessage:
			fmt.Printf("\n[from %d] %s\n> ", ev.From, ev.Text)
		case client.EventTime:
			fmt.Printf("\nserver time: %d\n> ", ev.UnixTime)
		case client.EventHost:
			fmt.Printf("\nserver host: %s\n> ", ev.HostName)
		case client.EventRoster:
			fmt.Printf("\nconnected clients:\n")
			for _, r := range ev.Roster {
				fmt.Printf("  #%d %s (%s:%s)\n", r.ID, r.Name, r.IP, r.Port)
			}
			fmt.Print("> ")
		case client.EventSendResult:
			if ev.Success {
				fmt.Printf("\nmessage delivered\n> ")
			} else {
				fmt.Printf("\nmessage failed: %s\n> ", ev.Reason)
			}
		case client.EventDisconnected:
			fmt.Printf("\ndisconnected: %v\n", ev.Err)
			os.Exit(0)
		}
	}
}

func runREPL(engine *client.Engine) {
	printHelp()
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Print("> ")
			continue
		}
		if !dispatchCommand(engine, line) {
			return
		}
		fmt.Print("> ")
	}
}

// dispatchCommand runs one REPL line and reports whether the REPL should
// keep reading.
func dispatchCommand(engine *client.Engine, line string) bool {
	fields := strings.SplitN(line, " ", 2)
	cmd := fields[0]

	switch cmd {
	case "gettime":
		checkErr(engine.GetTime())
	case "gethost":
		checkErr(engine.GetHost())
	case "getcli":
		checkErr(engine.GetClients())
	case "send":
		handleSend(engine, fields)
	case "disconnect":
		checkErr(engine.Disconnect())
		<-engine.Done()
		return false
	case "help":
		printHelp()
	case "exit":
		engine.Close()
		return false
	default:
		fmt.Printf("unknown command %q, type help\n", cmd)
	}
	return true
}

func handleSend(engine *client.Engine, fields []string) {
	if len(fields) != 2 {
		fmt.Println(`usage: send <id> "text"`)
		return
	}
	rest := strings.TrimSpace(fields[1])
	idStr, text, ok := strings.Cut(rest, " ")
	if !ok {
		fmt.Println(`usage: send <id> "text"`)
		return
	}
	id, err := strconv.ParseUint(idStr, 10, 8)
	if err != nil {
		fmt.Printf("invalid receiver id %q: %v\n", idStr, err)
		return
	}
	text = strings.Trim(strings.TrimSpace(text), `"`)
	checkErr(engine.SendMessage(uint8(id), text))
}

func checkErr(err error) {
	if err != nil {
		fmt.Printf("error: %v\n", err)
	}
}

func printHelp() {
	fmt.Println(`commands:
  gettime              request the server's current time
  gethost              request the server's display name
  getcli               request the current roster
  send <id> "text"     relay text to endpoint <id>
  disconnect           clean disconnect and exit
  help                 show this message
  exit                 close the connection immediately and exit`)
}
