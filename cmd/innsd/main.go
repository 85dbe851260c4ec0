// Command innsd is an administrative/benchmark CLI for the storage and
// history subsystems, grounded on brimstore-valuesstore/main.go's
// go-flags option struct and positional-test-name dispatch, adapted
// from raw key/value benchmarking to article store/retrieve/cancel and
// cancel-lock generation.
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/InterNetNews/inncore/canlock"
	"github.com/InterNetNews/inncore/timehash"
	"github.com/InterNetNews/inncore/token"
)

type optsStruct struct {
	Spool      string `long:"spool" description:"Root directory for the timehash spool" default:"./spool"`
	Class      uint8  `long:"class" description:"Storage class byte for writes" default:"0"`
	Admin      bool   `long:"admin" description:"generate an admin-mode cancel-lock (message-id only, no agent identity)"`
	Positional struct {
		Command string   `description:"store|retrieve|cancel|cancel-lock"`
		Args    []string `description:"command arguments"`
	} `positional-args:"yes" required:"yes"`
}

var opts optsStruct
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		args = append(args, "-h")
	}
	if _, err := parser.ParseArgs(args); err != nil {
		os.Exit(1)
	}
	switch opts.Positional.Command {
	case "store":
		cmdStore()
	case "retrieve":
		cmdRetrieve()
	case "cancel":
		cmdCancel()
	case "cancel-lock":
		cmdCancelLock()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", opts.Positional.Command)
		os.Exit(1)
	}
}

func openBackend() *timehash.Backend {
	b, err := timehash.Open(opts.Spool)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return b
}

// cmdStore reads an article from stdin and stores it, printing the
// resulting token's textual form.
func cmdStore() {
	b := openBackend()
	data, err := readAllStdin()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	tok, err := b.Store(data, opts.Class, time.Now())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(tok.Encode())
}

// cmdRetrieve reads a token argument and writes the full article to
// stdout.
func cmdRetrieve() {
	if len(opts.Positional.Args) < 1 {
		fmt.Fprintln(os.Stderr, "retrieve requires a token argument")
		os.Exit(1)
	}
	tok, err := token.DecodeToken(opts.Positional.Args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	b := openBackend()
	data, err := b.Retrieve(tok, timehash.All)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Stdout.Write(data)
}

// cmdCancel reads a token argument and removes the article.
func cmdCancel() {
	if len(opts.Positional.Args) < 1 {
		fmt.Fprintln(os.Stderr, "cancel requires a token argument")
		os.Exit(1)
	}
	tok, err := token.DecodeToken(opts.Positional.Args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	b := openBackend()
	if err := b.Cancel(tok); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// cmdCancelLock prints the Cancel-Lock/Cancel-Key pair for a
// message-id, reading the shared secret from INNSD_SECRET (a single
// secret, for ad hoc use outside a full inn-secrets.conf deployment),
// grounded on control/gencancel.c's standalone mode. With --admin, it
// generates the admin-mode pair (message-id only); otherwise it
// requires an agent identity and generates the user-mode pair.
func cmdCancelLock() {
	secret := os.Getenv("INNSD_SECRET")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "INNSD_SECRET is not set")
		os.Exit(1)
	}
	if opts.Admin {
		if len(opts.Positional.Args) < 1 {
			fmt.Fprintln(os.Stderr, "cancel-lock --admin requires <message-id>")
			os.Exit(1)
		}
		k := canlock.New([]string{secret}, nil)
		msgID := opts.Positional.Args[0]
		fmt.Println("Cancel-Lock:", k.CancelLockAdmin(msgID))
		fmt.Println("Cancel-Key:", k.CancelKeyAdmin(msgID))
		return
	}
	if len(opts.Positional.Args) < 2 {
		fmt.Fprintln(os.Stderr, "cancel-lock requires <message-id> <agent-identity>")
		os.Exit(1)
	}
	k := canlock.New(nil, []string{secret})
	msgID, identity := opts.Positional.Args[0], opts.Positional.Args[1]
	fmt.Println("Cancel-Lock:", k.CancelLockUser(msgID, identity))
	fmt.Println("Cancel-Key:", k.CancelKeyUser(msgID, identity))
}

func readAllStdin() ([]byte, error) {
	buf := make([]byte, 0, 64*1024)
	chunk := make([]byte, 64*1024)
	for {
		n, err := os.Stdin.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			if err == io.EOF {
				return buf, nil
			}
			return buf, err
		}
	}
}
