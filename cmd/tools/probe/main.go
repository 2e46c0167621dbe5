// Command probe sends synthetic utterances to a running server and prints the
// transcripts it returns.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"net"
	"os"
	"time"

	"github.com/nupi-ai/plugin-stt-whisper-socket/internal/frame"
)

const sampleRate = 16000

func main() {
	var (
		addr       = flag.String("addr", "127.0.0.1:11199", "server address")
		duration   = flag.Duration("duration", time.Second, "length of each utterance")
		freq       = flag.Float64("freq", 0, "sine frequency in Hz (silence when 0)")
		utterances = flag.Int("n", 1, "number of utterances to send on one connection")
		pause      = flag.Duration("pause", time.Second, "pause between utterances; must exceed the server idle timeout")
		wait       = flag.Duration("wait", 30*time.Second, "time to wait for each transcript")
	)
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "probe: dial %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer conn.Close()

	payload := frame.Encode(synthesize(*duration, *freq))
	reply := make([]byte, 64*1024)
	for i := 0; i < *utterances; i++ {
		if i > 0 {
			time.Sleep(*pause)
		}
		start := time.Now()
		if _, err := conn.Write(payload); err != nil {
			fmt.Fprintf(os.Stderr, "probe: write: %v\n", err)
			os.Exit(1)
		}
		_ = conn.SetReadDeadline(time.Now().Add(*wait))
		n, err := conn.Read(reply)
		var netErr net.Error
		switch {
		case errors.As(err, &netErr) && netErr.Timeout():
			// Empty transcripts produce no reply.
			fmt.Printf("utterance %d: no transcript after %s\n", i+1, *wait)
			continue
		case err != nil:
			fmt.Fprintf(os.Stderr, "probe: read: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("utterance %d (%s): %q\n", i+1, time.Since(start).Round(time.Millisecond), reply[:n])
	}
}

func synthesize(d time.Duration, freq float64) frame.Frame {
	n := int(d.Seconds() * sampleRate)
	samples := make(frame.Frame, n)
	if freq <= 0 {
		return samples
	}
	for i := range samples {
		samples[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/sampleRate))
	}
	return samples
}
