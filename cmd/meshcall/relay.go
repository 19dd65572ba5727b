package main

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/1ureka/meshcall/internal/config"
	"github.com/1ureka/meshcall/internal/relay"
	"github.com/1ureka/meshcall/internal/util"
)

func newRelayCmd() *cobra.Command {
	var opts config.RelayOptions

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the broadcast relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadRelay(opts)
			if err != nil {
				return err
			}

			serverOpts := relay.Options{
				Addr:           cfg.Addr,
				AllowedOrigins: cfg.AllowedOrigins,
			}

			if cfg.UseRedis {
				client := redis.NewClient(&redis.Options{
					Addr:     cfg.Redis.Addr,
					Password: cfg.Redis.Password,
				})
				defer client.Close()

				if err := client.Ping(cmd.Context()).Err(); err != nil {
					return fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
				}
				serverOpts.Bridge = relay.NewRedisBridge(client)
				util.LogInfo("fan-out bridged through redis at %s", cfg.Redis.Addr)
			}

			return relay.NewServer(serverOpts).Run(cmd.Context())
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Port, "port", "", "Listen port (env PORT, default 8080)")
	f.StringVar(&opts.AllowedOrigins, "allowed-origins", "", "Comma-separated browser origins (env ALLOWED_ORIGINS)")
	f.BoolVar(&opts.UseRedis, "redis", false, "Bridge fan-out through redis so several relays share topics")
	f.StringVar(&opts.RedisAddr, "redis-addr", "", "Redis address (env REDIS_ADDR)")
	f.StringVar(&opts.RedisPassword, "redis-password", "", "Redis password (env REDIS_PASSWORD)")

	return cmd
}
