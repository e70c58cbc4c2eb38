// pair runs two clients in one process against a shared SQLite file and
// prints their state until they are connected and have chatted.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/LingByte/LingMeet/pkg/controller"
	"github.com/LingByte/LingMeet/pkg/identity"
	"github.com/LingByte/LingMeet/pkg/logger"
	"github.com/LingByte/LingMeet/pkg/store"
	"github.com/LingByte/LingMeet/pkg/webrtc/rtcmedia"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

func main() {
	dsn := flag.String("dsn", "file:pair_demo?mode=memory&cache=shared", "sqlite DSN shared by both clients")
	timeout := flag.Duration("timeout", 60*time.Second, "give up after this long")
	flag.Parse()

	logger.Init(&logger.LogConfig{
		Level:    "info",
		Filename: "logs/pair.log",
		MaxAge:   7,
	}, "development")
	defer logger.Sync()

	db, err := store.Open("sqlite", *dsn, gormlogger.Silent)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	if err := store.Migrate(db); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	notifier := store.NewLocalNotifier()
	defer notifier.Close()
	st := store.NewGormStore(db, notifier)

	// loopback only, so the demo works without network access
	opt := rtcmedia.DefaultWebRTCOption()
	opt.ICEServers = nil
	opt.IncludeLoopback = true

	newClient := func(name string) *controller.Controller {
		return controller.New(st, rtcmedia.SyntheticSource{Option: opt}, controller.PionPeers(opt, logger.Named(name+".peer")), controller.Options{
			Constraints: rtcmedia.Constraints{Audio: true},
			Identity:    identity.UUIDGenerator{},
			Logger:      logger.Named(name),
		})
	}
	alice, bob := newClient("alice"), newClient("bob")
	defer alice.Close()
	defer bob.Close()

	go watch("alice", alice)
	go watch("bob", bob)

	if err := alice.Start(); err != nil {
		log.Fatalf("alice start: %v", err)
	}
	if err := bob.Start(); err != nil {
		log.Fatalf("bob start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := waitChat(ctx, alice, bob); err != nil {
		log.Fatalf("not connected: %v", err)
	}
	if err := alice.SendMessage("hello from alice"); err != nil {
		log.Fatalf("send: %v", err)
	}
	time.Sleep(time.Second)
	for _, m := range bob.Snapshot().Messages {
		logger.Info("bob received", zap.String("text", m.Text), zap.String("direction", string(m.Direction)))
	}
}

func waitChat(ctx context.Context, cs ...*controller.Controller) error {
	t := time.NewTicker(100 * time.Millisecond)
	defer t.Stop()
	for {
		ready := true
		for _, c := range cs {
			snap := c.Snapshot()
			ready = ready && snap.State == controller.StateConnected && snap.ChatOpen
		}
		if ready {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func watch(name string, c *controller.Controller) {
	snaps, cancel := c.Subscribe()
	defer cancel()
	last := controller.State("")
	for snap := range snaps {
		if snap.State == last {
			continue
		}
		last = snap.State
		logger.Info("state", zap.String("client", name), zap.String("state", string(snap.State)),
			zap.String("handle", snap.Handle), zap.String("room", snap.Room), zap.String("role", string(snap.Role)))
	}
}
