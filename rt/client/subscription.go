package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/propagentic/dispatch/feed"
	"github.com/propagentic/dispatch/rt"
)

// Subscribe subscribes to a feed topic and returns a channel of events.
// The channel is closed when the client disconnects or Unsubscribe is
// called.
//
// Topics follow the dispatch feed convention:
//   - "job:<jobID>"             — Events for a specific job
//   - "contractor:<id>"         — Events for jobs held by a contractor
//   - "landlord:<id>"           — Events for a landlord's jobs
//   - "tenant:<id>"             — Events for a tenant's jobs
//   - "pool"                    — Open-pool membership changes
//   - "firehose"                — Everything
func (c *Client) Subscribe(ctx context.Context, channel string) (<-chan *feed.Event, error) {
	ch := make(chan *feed.Event, 64)
	c.subs.Store(channel, ch)

	_, err := c.request(ctx, rt.MethodSubscribe, rt.SubscribeRequest{
		Channel: channel,
	})
	if err != nil {
		c.subs.Delete(channel)
		close(ch)
		return nil, fmt.Errorf("subscribe to %q: %w", channel, err)
	}

	return ch, nil
}

// Unsubscribe removes a subscription.
func (c *Client) Unsubscribe(ctx context.Context, channel string) error {
	_, err := c.request(ctx, rt.MethodUnsubscribe, rt.UnsubscribeRequest{
		Channel: channel,
	})

	// Close and remove the local channel regardless.
	if val, ok := c.subs.LoadAndDelete(channel); ok {
		ch := val.(chan *feed.Event) //nolint:errcheck // subs map always stores chan *feed.Event
		close(ch)
	}

	return err
}

// WatchJob subscribes to events for a specific job. This is a
// convenience method that subscribes to "job:<jobID>".
func (c *Client) WatchJob(ctx context.Context, jobID string) (<-chan *feed.Event, error) {
	return c.Subscribe(ctx, "job:"+jobID)
}

// AddCredits replenishes flow-control credits for this connection's
// event feed. The server stops delivering events when credits run out.
func (c *Client) AddCredits(n int) error {
	return c.writeFrame(&rt.Frame{
		ID:        rt.GenerateFrameID(),
		Type:      rt.FramePing,
		Credits:   n,
		Timestamp: time.Now().UTC(),
	})
}

// Stats retrieves broker and connection statistics from the server.
func (c *Client) Stats(ctx context.Context) (json.RawMessage, error) {
	resp, err := c.request(ctx, rt.MethodStats, nil)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}
