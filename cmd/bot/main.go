package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pixelcanvas.io/internal/client"
	"pixelcanvas.io/internal/protocol"
	"pixelcanvas.io/internal/sim/chunk"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/ws", "ws url")
		worldID  = flag.String("world", "", "world id (default: server default world)")
		name     = flag.String("name", "bot", "nickname")
		compact  = flag.Bool("compact", true, "request compact chunk encoding")
		radius   = flag.Float64("radius", 256, "camera sweep radius in world pixels")
		paintHz  = flag.Float64("paint_hz", 4, "pixel placement rate")
		login    = flag.String("login", "", "quick-auth as key:secret (optional)")
		duration = flag.Duration("duration", 0, "stop after this long (0 = until interrupted)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if *duration > 0 {
		var cancelT context.CancelFunc
		ctx, cancelT = context.WithTimeout(ctx, *duration)
		defer cancelT()
	}

	opts := client.Options{
		World:    *worldID,
		Nickname: *name,
		Compact:  *compact,
		MaxQueue: 64,
		Logger:   logger,
		OnChat: func(m protocol.ChatMsg) {
			logger.Printf("chat %s: %s", m.Nickname, m.Text)
		},
	}
	if k, s, ok := splitLogin(*login); ok {
		opts.Logins = map[string]string{k: s}
	}

	dialCtx, cancelDial := context.WithTimeout(ctx, 10*time.Second)
	conn, err := client.Dial(dialCtx, *url, opts)
	cancelDial()
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	w := conn.Welcome()
	logger.Printf("WELCOME world=%s player_id=%d flush_hz=%d read_only=%v players=%d", w.World, w.PlayerID, w.FlushHz, w.ReadOnly, len(w.Players))

	run(ctx, conn, logger, *radius, *paintHz, w.ReadOnly)
}

// run sweeps the camera around the origin and paints a pixel at a random
// visible point at paintHz.
func run(ctx context.Context, conn *client.Conn, logger *log.Logger, radius, paintHz float64, readOnly bool) {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	palette := []chunk.Color{
		{0, 0, 0}, {255, 0, 0}, {0, 160, 0}, {0, 0, 255},
		{255, 200, 0}, {255, 0, 255}, {0, 200, 200},
	}

	cam := client.Camera{Width: 640, Height: 480, Zoom: 1}
	sweep := time.NewTicker(200 * time.Millisecond)
	defer sweep.Stop()

	var paintC <-chan time.Time
	if paintHz > 0 && !readOnly {
		paint := time.NewTicker(time.Duration(float64(time.Second) / paintHz))
		defer paint.Stop()
		paintC = paint.C
	}
	report := time.NewTicker(10 * time.Second)
	defer report.Stop()

	var (
		phase   float64
		placed  int
		limited int
		rect    client.Rect
	)
	for {
		select {
		case <-ctx.Done():
			logger.Printf("stopping placed=%d limited=%d", placed, limited)
			return
		case <-conn.Done():
			logger.Printf("disconnected: %v", conn.Err())
			return
		case <-sweep.C:
			phase += 0.05
			cx := radius * math.Cos(phase)
			cy := radius * math.Sin(phase)
			cam.X = cx - cam.Width/2
			cam.Y = cy - cam.Height/2
			_ = conn.Move(cx, cy)
			rect = conn.SetCamera(cam)
		case <-paintC:
			if rect.Right <= rect.Left || rect.Bottom <= rect.Top {
				continue
			}
			x := float64(rect.Left*chunk.Size + r.Intn((rect.Right-rect.Left)*chunk.Size))
			y := float64(rect.Top*chunk.Size + r.Intn((rect.Bottom-rect.Top)*chunk.Size))
			err := conn.SetPixel(x, y, palette[r.Intn(len(palette))])
			switch {
			case err == nil:
				placed++
			case errors.Is(err, client.ErrLocalQuota):
				limited++
			default:
				logger.Printf("set pixel: %v", err)
				return
			}
		case <-report.C:
			c := conn.Cache()
			logger.Printf("cached=%d pending=%d placed=%d limited=%d players=%d", c.Len(), c.Pending(), placed, limited, len(conn.Players()))
		}
	}
}

func splitLogin(s string) (key, secret string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			return s[:i], s[i+1:], i > 0 && i < len(s)-1
		}
	}
	return "", "", false
}
