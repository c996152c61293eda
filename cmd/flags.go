////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package cmd

import (
	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/spf13/viper"
)

// This is a comprehensive list of CLI flag name constants. Organized by
// subcommand, with root level CLI flags at the top of the list. Pulling flags
// using Viper should use the constants defined here. Every flag can also be
// set in the config file or through a CHATCORE_ environment variable with
// dashes replaced by underscores.
const (
	//////////////// Root flags ///////////////////////////////////////////////

	configFlag     = "config"
	logLevelFlag   = "logLevel"
	logFlag        = "log"
	profileCpuFlag = "profile-cpu"

	///////////////// Chat subcommand flags ///////////////////////////////////

	// Server
	serverFlag = "server"
	wsPathFlag = "ws-path"
	teamFlag   = "team"
	tokenFlag  = "token"

	// Identity
	jwtKeyFlag   = "jwt-key"
	userIDFlag   = "user-id"
	userNameFlag = "user-name"

	// Channel
	channelIDFlag      = "channel"
	channelNameFlag    = "channel-name"
	channelPrivateFlag = "private"

	// Storage and metrics
	dbPathFlag      = "db"
	metricsAddrFlag = "metrics-addr"

	// Parameters (JSON overrides of the defaults)
	channelParamsFlag = "channel-params"
	socketParamsFlag  = "socket-params"
)

// bindFlagHelper binds the key to a pflag.Flag used by Cobra and prints an
// error if one occurs.
func bindFlagHelper(key string, command *cobra.Command) {
	err := viper.BindPFlag(key, command.Flags().Lookup(key))
	if err != nil {
		jww.ERROR.Printf("viper.BindPFlag failed for %q: %+v", key, err)
	}
}

// bindPersistentFlagHelper binds the key to a persistent pflag.Flag used by
// Cobra and prints an error if one occurs.
func bindPersistentFlagHelper(key string, command *cobra.Command) {
	err := viper.BindPFlag(key, command.PersistentFlags().Lookup(key))
	if err != nil {
		jww.ERROR.Printf("viper.BindPFlag failed for %q: %+v", key, err)
	}
}
