// Package client connects a process to a router.
//
// A Client publishes and subscribes to topics, invokes services owned by
// other clients and serves its own. All traffic shares one WebSocket; the
// connect handshake runs inside Dial.
//
// Basic usage:
//
//	c, err := client.Dial(ctx, client.DefaultConfig("ws://localhost:8080/ws"), logger)
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	c.Subscribe("prices", func(t *message.Topic) {
//	    fmt.Println(t.Payload.String())
//	})
//	out, err := c.Invoke(ctx, "echo", message.BufferFromString(`{"n":1}`))
package client
