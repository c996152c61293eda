////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package cmd

import (
	"bufio"
	"context"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/spf13/viper"

	"gitlab.com/elite-erp/chatcore/channels"
	"gitlab.com/elite-erp/chatcore/channels/storage"
	"gitlab.com/elite-erp/chatcore/identity"
	"gitlab.com/elite-erp/chatcore/rest"
	"gitlab.com/elite-erp/chatcore/socket"
)

// chatCmd joins one channel and runs an interactive terminal chat in it.
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Joins a channel and chats in it from the terminal",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(
			context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		channelParams, err := channels.GetParameters(
			viper.GetString(channelParamsFlag))
		if err != nil {
			jww.FATAL.Panicf("[CHAT] Invalid channel params: %+v", err)
		}
		socketParams, err := socket.GetParameters(
			viper.GetString(socketParamsFlag))
		if err != nil {
			jww.FATAL.Panicf("[CHAT] Invalid socket params: %+v", err)
		}

		user, err := loadIdentity()
		if err != nil {
			jww.FATAL.Panicf("[CHAT] %+v", err)
		}
		jww.INFO.Printf("[CHAT] User: %s (%s)", user.Name, user.ID)

		server := viper.GetString(serverFlag)
		token := viper.GetString(tokenFlag)

		restParams := rest.GetDefaultParams()
		restParams.BaseURL = server
		restParams.Team = viper.GetString(teamFlag)
		restParams.Token = token
		restParams.Timeout = channelParams.FetchTimeout
		restClient, err := rest.NewClient(restParams)
		if err != nil {
			jww.FATAL.Panicf("[CHAT] Failed to create REST client: %+v", err)
		}

		store, err := storage.NewEventModel(viper.GetString(dbPathFlag))
		if err != nil {
			jww.FATAL.Panicf("[CHAT] Failed to open local store: %+v", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				jww.ERROR.Printf("[CHAT] Failed to close store: %+v", err)
			}
		}()

		liveURL, err := wsURL(server, viper.GetString(wsPathFlag))
		if err != nil {
			jww.FATAL.Panicf("[CHAT] %+v", err)
		}
		live, err := socket.Dial(ctx, liveURL, token, socketParams)
		if err != nil {
			jww.FATAL.Panicf("[CHAT] %+v", err)
		}
		defer func() {
			if err := live.Close(); err != nil {
				jww.ERROR.Printf("[CHAT] Failed to close connection: %+v", err)
			}
		}()

		registry := prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector())
		if addr := viper.GetString(metricsAddrFlag); addr != "" {
			go serveMetrics(addr, registry)
		}

		out := &syncWriter{w: os.Stdout}
		m, err := channels.NewManager(channelParams, channels.Dependencies{
			Fetcher:    storage.NewFallbackFetcher(restClient, store),
			Live:       live,
			Files:      restClient,
			Identity:   user,
			Events:     newTerminal(out, store),
			Registerer: registry,
		})
		if err != nil {
			jww.FATAL.Panicf("[CHAT] Failed to create channel manager: %+v",
				err)
		}

		channel := channels.Channel{
			ID:        channels.ChannelID(viper.GetInt64(channelIDFlag)),
			Name:      viper.GetString(channelNameFlag),
			IsPrivate: viper.GetBool(channelPrivateFlag),
		}
		if channel.ID <= 0 {
			jww.FATAL.Panicf("[CHAT] A channel ID must be set with --%s",
				channelIDFlag)
		}
		if channel.Name == "" {
			channel.Name = channel.ID.String()
		}

		if err = m.SwitchChannel(ctx, channel); err != nil {
			jww.FATAL.Panicf("[CHAT] Failed to join channel %d: %+v",
				channel.ID, err)
		}

		runSession(ctx, newSession(m, channel.ID, out), live.Done())

		leaveCtx, cancel := context.WithTimeout(
			context.Background(), socketParams.AckTimeout)
		defer cancel()
		if err = m.LeaveChannel(leaveCtx); err != nil {
			jww.WARN.Printf("[CHAT] Failed to leave channel: %+v", err)
		}
	},
}

// runSession feeds stdin to the session until the user quits, stdin ends,
// the context is cancelled or the live connection is lost.
func runSession(ctx context.Context, s *session, connLost <-chan struct{}) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	s.printf("*** type /help for commands")
	for {
		select {
		case <-ctx.Done():
			return
		case <-connLost:
			s.printf("!!! connection lost")
			return
		case line, ok := <-lines:
			if !ok || s.handle(ctx, line) {
				return
			}
		}
	}
}

// loadIdentity returns the identity from the session token when a signing
// key is configured, or the one set by flags otherwise.
func loadIdentity() (identity.Static, error) {
	if key := viper.GetString(jwtKeyFlag); key != "" {
		return identity.FromToken(viper.GetString(tokenFlag), []byte(key))
	}

	user := identity.Static{
		ID:   channels.UserID(viper.GetString(userIDFlag)),
		Name: viper.GetString(userNameFlag),
	}
	if user.ID == "" {
		return identity.Static{}, errors.Errorf(
			"set --%s or --%s to identify the user", userIDFlag, jwtKeyFlag)
	}
	if user.Name == "" {
		user.Name = string(user.ID)
	}
	return user, nil
}

// wsURL derives the live connection URL from the REST base URL.
func wsURL(server, path string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", errors.Wrapf(err, "invalid server URL %q", server)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", errors.Errorf("unsupported scheme in server URL %q", server)
	}
	u.Path = path
	return u.String(), nil
}

// serveMetrics exposes the registry on addr until the process exits.
func serveMetrics(addr string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	jww.INFO.Printf("[CHAT] Serving metrics on %s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil {
		jww.ERROR.Printf("[CHAT] Metrics server stopped: %+v", err)
	}
}

func init() {
	chatCmd.Flags().String(serverFlag, "http://localhost:3000",
		"Base URL of the chat server")
	bindFlagHelper(serverFlag, chatCmd)

	chatCmd.Flags().String(wsPathFlag, "/ws",
		"Path of the live connection endpoint on the server")
	bindFlagHelper(wsPathFlag, chatCmd)

	chatCmd.Flags().String(teamFlag, "default", "Team of the channel")
	bindFlagHelper(teamFlag, chatCmd)

	chatCmd.Flags().String(tokenFlag, "", "Session token sent to the server")
	bindFlagHelper(tokenFlag, chatCmd)

	chatCmd.Flags().String(jwtKeyFlag, "",
		"HS256 key to read the user from the session token")
	bindFlagHelper(jwtKeyFlag, chatCmd)

	chatCmd.Flags().String(userIDFlag, "",
		"User ID, when not read from the session token")
	bindFlagHelper(userIDFlag, chatCmd)

	chatCmd.Flags().String(userNameFlag, "",
		"Display name, when not read from the session token")
	bindFlagHelper(userNameFlag, chatCmd)

	chatCmd.Flags().Int64(channelIDFlag, 0, "ID of the channel to join")
	bindFlagHelper(channelIDFlag, chatCmd)

	chatCmd.Flags().String(channelNameFlag, "", "Name of the channel")
	bindFlagHelper(channelNameFlag, chatCmd)

	chatCmd.Flags().Bool(channelPrivateFlag, false,
		"Marks the channel as private")
	bindFlagHelper(channelPrivateFlag, chatCmd)

	chatCmd.Flags().String(dbPathFlag, "chatcore.db",
		"Path of the local SQLite mirror (empty for a temporary one)")
	bindFlagHelper(dbPathFlag, chatCmd)

	chatCmd.Flags().String(metricsAddrFlag, "",
		"Address to serve Prometheus metrics on (disabled when empty)")
	bindFlagHelper(metricsAddrFlag, chatCmd)

	chatCmd.Flags().String(channelParamsFlag, "",
		"JSON overrides of the channel parameters")
	bindFlagHelper(channelParamsFlag, chatCmd)

	chatCmd.Flags().String(socketParamsFlag, "",
		"JSON overrides of the live connection parameters")
	bindFlagHelper(socketParamsFlag, chatCmd)

	rootCmd.AddCommand(chatCmd)
}
