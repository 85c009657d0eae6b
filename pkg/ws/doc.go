// Package ws provides a distributed real-time messaging server on top of WebSocket.
//
// # Features
//
//   - Post-connection authentication with timeout and explicit state machine
//   - Validated room membership and multi-session user index
//   - Dual-mode local fanout: native topic publish or per-connection delivery
//   - Passive application-level heartbeat
//   - Horizontal scaling through a shared message bus with self-delivery dedup
//   - Optional per-connection end-to-end encryption
//   - Type-safe application event routing with Go generics
//   - Metrics interface and structured logging
//
// # Basic Usage
//
//	srv, err := ws.New(
//	    ws.WithAuthenticate(func(ctx context.Context, c *ws.Connection, data json.RawMessage) (*ws.AuthResult, error) {
//	        var req struct{ Token string `json:"token"` }
//	        if err := json.Unmarshal(data, &req); err != nil {
//	            return nil, err
//	        }
//	        userID, err := verify(req.Token)
//	        if err != nil {
//	            return nil, err
//	        }
//	        return &ws.AuthResult{UserID: userID}, nil
//	    }),
//	    ws.WithValidateRoom(func(ctx context.Context, c *ws.Connection, rooms []string) ([]string, error) {
//	        return rooms, nil
//	    }),
//	    ws.WithDefaultRooms("lobby"),
//	    ws.WithCheckOriginWhitelist([]string{"https://example.com"}),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := srv.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer srv.Shutdown(context.Background())
//
//	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
//	    _ = srv.HandleUpgrade(w, r)
//	})
//
// # Protocol
//
// Every frame is a JSON envelope:
//
//	{"event": "chat", "data": {...}, "id": "optional request id"}
//
// A new connection must send "authenticate" within AuthTimeout (default 5s)
// or it is closed with 4001. Until then every other event is answered with
// an "error" event. After "connected" the client may send "join" / "leave"
// with {"rooms": [...]}, "heartbeat", or any application event registered
// with Handle.
//
// Close codes:
//
//	1001 server shutting down
//	4001 authentication timeout
//	4002 heartbeat timeout
//	4003 authentication failed
//	4004 encryption required
//
// # Heartbeat
//
// The server never pings. Any inbound frame refreshes the connection's
// activity time; authenticated connections idle for longer than
// HeartbeatTimeout are closed with 4002 by a sweep every HeartbeatInterval.
//
// # Application Events
//
//	type ChatRequest struct {
//	    Room string `json:"room"`
//	    Text string `json:"text"`
//	}
//
//	ws.Handle(srv, "chat", func(ctx context.Context, c *ws.Connection, req *ChatRequest) (*struct{}, error) {
//	    return nil, srv.SendToRoom(ctx, req.Room, "chat", req, c.ID())
//	})
//
// Handlers must be registered before Start. Errors created with
// ProtocolError are sent to the client verbatim; any other error is
// reported as "internal error".
//
// # Delivery
//
// Without an outbound transform and without exclusions a send is a single
// native topic publish. With either, the server iterates the members and
// sends to each connection, bounded by DeliveryConcurrency for rooms and
// broadcasts.
//
//	srv.SendToClient(ctx, connID, "notice", data)
//	srv.SendToUser(ctx, userID, "notice", data)
//	srv.SendToRoom(ctx, "lobby", "chat", data, senderConnID)
//	srv.Broadcast(ctx, "maintenance", data)
//
// # Scaling Out
//
// With a bus client every send is also published to the bus; peers deliver
// it to their own connections and drop messages that carry their own server
// id.
//
//	client, _ := bus.New(busConfig)
//	srv, _ := ws.New(ws.WithAuthenticate(auth), ws.WithBus(client))
//
// Processes without connections publish through an Emitter:
//
//	em, _ := ws.NewEmitter(client)
//	defer em.Close()
//	em.ToUser(ctx, "u1", "invoice.paid", invoice)
//
// # Encryption
//
// WithEncryption installs a handshake that runs right after authentication
// and an outbound transform that seals every message for that connection.
// Encrypted connections leave all native topics and only receive messages
// through per-connection delivery. See package e2e for a ready
// implementation.
package ws
