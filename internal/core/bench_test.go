package core

import (
	"context"
	"fmt"
	"testing"

	"github.com/campuslink/campuslink-server/internal/store"
)

func benchmarkContextBroadcast(b *testing.B, recipients int) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	chat := store.ChatContext{Kind: store.ContextCluster, ID: 1}
	hub := NewHub(newMemStore(), nil, testLogger(), 0)
	go hub.Run(ctx)

	sender := NewClient("sender", 1, "sender", "")
	hub.RegisterClient(sender)
	sender.Commands <- &Command{Kind: CommandJoinContext, Context: chat}

	clients := make([]*Client, 0, recipients)
	for i := range recipients {
		c := NewClient(fmt.Sprintf("c%d", i), int64(i+2), "client", "")
		hub.RegisterClient(c)
		c.Commands <- &Command{Kind: CommandJoinContext, Context: chat}
		clients = append(clients, c)
	}

	// Drain events for all but the first recipient to avoid channel backpressure.
	target := clients[0]
	for _, c := range clients[1:] {
		go func(cl *Client) {
			for range cl.Events {
			}
		}(c)
	}
	go func() {
		for range sender.Events {
		}
	}()

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		sender.Commands <- &Command{Kind: CommandSendMessage, Context: chat, Body: "payload"}
		for {
			if ev := <-target.Events; ev.Kind == EventMessageInserted {
				break
			}
		}
	}
}

func BenchmarkContextBroadcast_10(b *testing.B)  { benchmarkContextBroadcast(b, 10) }
func BenchmarkContextBroadcast_100(b *testing.B) { benchmarkContextBroadcast(b, 100) }
func BenchmarkContextBroadcast_500(b *testing.B) { benchmarkContextBroadcast(b, 500) }
