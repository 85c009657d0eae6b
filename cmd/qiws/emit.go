package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tokmz/qiws/pkg/bus"
	"github.com/tokmz/qiws/pkg/logger"
	"github.com/tokmz/qiws/pkg/ws"
)

// emitTarget emit 命令的投递目标，只能指定一个
type emitTarget struct {
	client    string
	user      string
	room      string
	broadcast bool
}

func (t emitTarget) validate() error {
	n := 0
	for _, set := range []bool{t.client != "", t.user != "", t.room != "", t.broadcast} {
		if set {
			n++
		}
	}
	if n != 1 {
		return fmt.Errorf("exactly one of --client, --user, --room or --broadcast is required")
	}
	return nil
}

func emitCmd(configPath *string) *cobra.Command {
	var (
		target  emitTarget
		event   string
		data    string
		exclude []string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "emit",
		Short: "Publish an event to connected clients through the bus",
		Long: `Publish an event through the configured bus without serving connections.

Every server instance on the same bus delivers it to its matching clients.
Data is sent as JSON when it parses, otherwise as a JSON string.`,
		Example: `  qiws emit --room lobby --event chat --data '{"text":"hi"}'
  qiws emit --user u1 --event notice --data 'maintenance at 22:00' --exclude conn-1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := target.validate(); err != nil {
				return err
			}
			if target.client != "" && len(exclude) > 0 {
				return fmt.Errorf("--exclude does not apply to --client")
			}

			s, _, err := loadSettings(*configPath)
			if err != nil {
				return err
			}
			if !s.Bus.Enabled || s.Bus.Driver == bus.DriverMemory {
				return fmt.Errorf("emit needs a shared bus: set bus.enabled and a redis, amqp or kafka driver")
			}

			log, err := logger.New(&s.Log)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			client, err := bus.New(&s.Bus.Config)
			if err != nil {
				return err
			}
			defer client.Close()

			emitter, err := ws.NewEmitter(client,
				ws.WithEmitterPrefix(s.WS.Bus.Prefix),
				ws.WithEmitterLogger(log),
			)
			if err != nil {
				return err
			}
			defer emitter.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			if err := emit(ctx, emitter, target, event, payload(data), exclude); err != nil {
				return err
			}
			success("published %q", event)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&target.client, "client", "", "deliver to one connection id")
	flags.StringVar(&target.user, "user", "", "deliver to every session of a user")
	flags.StringVar(&target.room, "room", "", "deliver to a room")
	flags.BoolVar(&target.broadcast, "broadcast", false, "deliver to every authenticated connection")
	flags.StringVarP(&event, "event", "e", "", "event name")
	flags.StringVarP(&data, "data", "d", "", "event data")
	flags.StringSliceVar(&exclude, "exclude", nil, "connection ids to skip")
	flags.DurationVar(&timeout, "timeout", 5*time.Second, "publish timeout")
	_ = cmd.MarkFlagRequired("event")

	return cmd
}

// emitter 发布接口
type emitter interface {
	ToClient(ctx context.Context, connID, event string, data any) error
	ToUser(ctx context.Context, userID, event string, data any, exclude ...string) error
	ToRoom(ctx context.Context, room, event string, data any, exclude ...string) error
	Broadcast(ctx context.Context, event string, data any, exclude ...string) error
}

func emit(ctx context.Context, e emitter, t emitTarget, event string, data any, exclude []string) error {
	switch {
	case t.client != "":
		return e.ToClient(ctx, t.client, event, data)
	case t.user != "":
		return e.ToUser(ctx, t.user, event, data, exclude...)
	case t.room != "":
		return e.ToRoom(ctx, t.room, event, data, exclude...)
	default:
		return e.Broadcast(ctx, event, data, exclude...)
	}
}

// payload 合法 JSON 原样发送，否则作为字符串
func payload(data string) any {
	if data == "" {
		return nil
	}
	if json.Valid([]byte(data)) {
		return json.RawMessage(data)
	}
	return data
}
