// Copyright © 2018 Niko Carpenter <nikoacarpenter@gmail.com>
//
// This source code is governed by the MIT license, which can be found in the LICENSE file.

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/n0ot/muxchat/pkg/frame"
)

// Version is the version of muxchat.
var Version = "unset"

// Copyright is the copyright including authors of muxchat.
var Copyright = "Copyright © 2018 Niko Carpenter <nikoacarpenter@gmail.com>"

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of muxchat",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("muxchat version %s (frame size %d)\n%s\n", Version, frame.Size, Copyright)
	},
}

func init() {
	RootCmd.AddCommand(versionCmd)
}
