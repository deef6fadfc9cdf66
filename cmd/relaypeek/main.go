// Command relaypeek is a single-binary smoke client: connect to one or more
// relays, subscribe to a filter, print matching events as they arrive. It
// exists to exercise the library packages end to end, in the same register
// as the teacher's thin cmd/ entrypoints over its library code.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/fatih/color"

	"codeberg.org/nostrcore/relaysdk/client"
	"codeberg.org/nostrcore/relaysdk/context"
	"codeberg.org/nostrcore/relaysdk/filter"
	"codeberg.org/nostrcore/relaysdk/log"
	"codeberg.org/nostrcore/relaysdk/relay"
)

type args struct {
	Relays  []string `arg:"--relay,separate" help:"relay URL to connect to, repeatable"`
	Kinds   []int    `arg:"--kind,separate" help:"kind to subscribe to, repeatable; default 1"`
	Authors []string `arg:"--author,separate" help:"hex pubkey to restrict to, repeatable"`
	Timeout int      `arg:"--timeout" default:"10" help:"seconds to stay connected before exiting"`
}

func main() {
	var a args
	arg.MustParse(&a)
	if len(a.Relays) == 0 {
		a.Relays = []string{"wss://relay.damus.io"}
	}

	c := client.New(client.Options{})
	for _, url := range a.Relays {
		c.AddRelay(url, relay.DefaultFlags)
	}

	ctx, cancel := signal.NotifyContext(context.Bg(), os.Interrupt)
	defer cancel()
	c.Connect(ctx)
	defer c.Shutdown()

	f := filter.New()
	if len(a.Kinds) == 0 {
		f.Kinds = f.Kinds.Append(1)
	}
	for _, k := range a.Kinds {
		f.Kinds = f.Kinds.Append(uint16(k))
	}
	for _, pk := range a.Authors {
		f.Authors = f.Authors.Append(hexOrEmpty(pk))
	}

	_, events := c.Subscribe(ctx, f)
	deadline := time.After(time.Duration(a.Timeout) * time.Second)
	green := color.New(color.FgGreen).SprintFunc()
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			fmt.Printf(
				"%s kind=%d author=%s content=%s\n",
				green(ev.IdHex()[:8]), ev.Kind.K,
				ev.PubkeyHex()[:8], truncate(ev.ContentString(), 80),
			)
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func hexOrEmpty(s string) []byte {
	s = strings.TrimSpace(s)
	b := make([]byte, len(s)/2)
	for i := range b {
		var v int
		if _, err := fmt.Sscanf(s[i*2:i*2+2], "%02x", &v); err != nil {
			log.D.F("relaypeek: bad hex pubkey %q", s)
			return nil
		}
		b[i] = byte(v)
	}
	return b
}
