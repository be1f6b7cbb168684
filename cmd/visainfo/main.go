// Command visainfo is a small diagnostic front-end for the VISA core:
// it parses a resource string, or runs discovery and lists what it
// finds, without requiring a full C ABI shim.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/sydrvxd/OpenVISA/discovery"
	"github.com/sydrvxd/OpenVISA/resource"
	"github.com/sydrvxd/OpenVISA/session"
)

type options struct {
	Find    string `long:"find" short:"f" description:"run discovery with this glob pattern and list matches" optional:"true" optional-value:"*"`
	Parse   string `long:"parse" short:"p" description:"parse a resource string and print the descriptor"`
	IDN     string `long:"idn" description:"open a resource, send *IDN?, print the reply, and close"`
	Timeout int    `long:"timeout" default:"5" description:"discovery/open timeout in seconds"`
}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	switch {
	case opts.Parse != "":
		runParse(opts.Parse)
	case opts.IDN != "":
		runIDN(opts)
	default:
		runFind(opts)
	}
}

// runIDN exercises the full session stack: parse, open, write, read,
// close against the default Resource Manager's session table.
func runIDN(opts options) {
	desc, err := resource.Parse(opts.IDN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "visainfo: %v\n", err)
		os.Exit(1)
	}

	mgr := session.Default()
	timeout := time.Duration(opts.Timeout) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	handle, err := mgr.Open(ctx, desc, timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "visainfo: open: %v\n", err)
		os.Exit(1)
	}
	defer mgr.Close(handle)

	if _, err := mgr.Write(handle, []byte("*IDN?\n")); err != nil {
		fmt.Fprintf(os.Stderr, "visainfo: write: %v\n", err)
		os.Exit(1)
	}
	buf := make([]byte, 256)
	n, _, err := mgr.Read(handle, buf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "visainfo: read: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(string(buf[:n]))
}

func runParse(s string) {
	desc, err := resource.Parse(s)
	if err != nil {
		fmt.Fprintf(os.Stderr, "visainfo: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("kind:       %s\n", desc.Kind)
	fmt.Printf("board:      %d\n", desc.Board)
	switch desc.Kind.String() {
	case "TCPIP":
		fmt.Printf("host:       %s\n", desc.Host)
		fmt.Printf("port:       %d\n", desc.Port)
		fmt.Printf("device:     %s\n", desc.Device)
		fmt.Printf("is-socket:  %v\n", desc.IsSocket)
		fmt.Printf("is-hislip:  %v\n", desc.IsHiSLIP)
	case "USB":
		fmt.Printf("vendor-id:  0x%04X\n", desc.VendorID)
		fmt.Printf("product-id: 0x%04X\n", desc.ProductID)
		fmt.Printf("serial:     %s\n", desc.Serial)
		fmt.Printf("interface:  %d\n", desc.InterfaceNum)
	case "ASRL":
		fmt.Printf("port:       %d\n", desc.ASRLPort)
	case "GPIB":
		fmt.Printf("primary:    %d\n", desc.Primary)
		fmt.Printf("secondary:  %d\n", desc.Secondary)
	}
}

func runFind(opts options) {
	pattern := opts.Find
	if pattern == "" {
		pattern = "*"
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(opts.Timeout)*time.Second)
	defer cancel()

	results, err := discovery.Find(ctx, pattern)
	if err != nil {
		fmt.Fprintf(os.Stderr, "visainfo: %v\n", err)
		os.Exit(1)
	}
	for _, r := range results {
		fmt.Println(r)
	}
}
