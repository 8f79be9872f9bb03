// Copyright © 2023 Niko Carpenter <niko@nikocarpenter.com>
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

package commands

import (
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/n0ot/muxchat/pkg/client"
	"github.com/n0ot/muxchat/pkg/server"
)

// connectCmd represents the connect command
var connectCmd = &cobra.Command{
	Use:   "connect host [port]",
	Short: "Chat with everyone on a muxchat server",
	Long: `connect sends each line typed to a muxchat server, and prints what other clients send.

Type q on its own line to leave. The chat is recorded in <pid>.txt while connected;
when leaving, you will be asked whether to keep it as <pid>dump.txt.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runClient,
}

func init() {
	RootCmd.AddCommand(connectCmd)

	connectCmd.Flags().StringP("transcript-dir", "t", ".", "directory for the chat log")
	viper.BindPFlag("client.transcriptDir", connectCmd.Flags().Lookup("transcript-dir"))

	viper.SetDefault("client.port", server.DefaultPort)
}

func runClient(cmd *cobra.Command, args []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}

	host := args[0]
	var portStr string
	if len(args) > 1 {
		portStr = args[1]
	}
	port, err := portArg(portStr, "client.port")
	if err != nil {
		return err
	}

	conn, err := client.Dial(host, port)
	if err != nil {
		return err
	}
	fmt.Printf("Connected:    Server Name: %s\n\t\tIP Address: %s\n", host, conn.RemoteAddr())

	transcript, err := client.NewTranscript(afero.NewOsFs(), viper.GetString("client.transcriptDir"), os.Getpid())
	if err != nil {
		conn.Close()
		return err
	}

	session := &client.Session{
		Conn:        conn,
		Input:       os.Stdin,
		Output:      os.Stdout,
		Transcript:  transcript,
		Interactive: term.IsTerminal(int(os.Stdin.Fd())),
		Log:         log,
	}
	return session.Run()
}
