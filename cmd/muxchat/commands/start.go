// Copyright © 2018 Niko Carpenter <nikoacarpenter@gmail.com>
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

package commands

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/n0ot/muxchat/pkg/server"
)

// startCmd represents the start command
var startCmd = &cobra.Command{
	Use:   "start [port]",
	Short: "Starts the muxchat server",
	Long: `start listens for muxchat clients and relays every line one client sends to all the others.

The server stops if more clients connect than its capacity allows.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runServer,
}

func init() {
	RootCmd.AddCommand(startCmd)

	startCmd.Flags().StringP("bind", "b", "", "Bind the server to this host. Leave empty to bind to all interfaces.")
	viper.BindPFlag("server.bind", startCmd.Flags().Lookup("bind"))
	startCmd.Flags().IntP("capacity", "c", server.DefaultCapacity, "Maximum number of simultaneous clients")
	viper.BindPFlag("server.capacity", startCmd.Flags().Lookup("capacity"))
	startCmd.Flags().IntP("keep-alive", "k", 0, "TCP keep-alive period in seconds (0 leaves the system default)")
	viper.BindPFlag("server.keepAlive", startCmd.Flags().Lookup("keep-alive"))
	startCmd.Flags().BoolP("resolve-hostnames", "r", false, "Log the reverse DNS name of connecting clients")
	viper.BindPFlag("server.resolveHostnames", startCmd.Flags().Lookup("resolve-hostnames"))

	viper.SetDefault("server.port", server.DefaultPort)
}

func runServer(cmd *cobra.Command, args []string) {
	log, err := newLogger()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var portStr string
	if len(args) > 0 {
		portStr = args[0]
	}
	port, err := portArg(portStr, "server.port")
	if err != nil {
		log.Fatal(err)
	}

	srv := &server.Server{
		Capacity:         viper.GetInt("server.capacity"),
		KeepAlivePeriod:  viper.GetDuration("server.keepAlive") * time.Second,
		ResolveHostnames: viper.GetBool("server.resolveHostnames"),
		Log:              log,
	}

	bindAddr := net.JoinHostPort(viper.GetString("server.bind"), strconv.Itoa(port))
	log.Info("Starting muxchat")
	log.Fatal(srv.ListenAndServe(bindAddr))
}
