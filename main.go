// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"

	"github.com/sapcc/go-api-declarations/bininfo"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/osext"
	"github.com/spf13/cobra"

	apicmd "github.com/sapcc/packgate/cmd/api"
	janitorcmd "github.com/sapcc/packgate/cmd/janitor"
)

func main() {
	logg.ShowDebug = osext.GetenvBool("PACKGATE_DEBUG")

	rootCmd := &cobra.Command{
		Use:     "packgate",
		Short:   "Multi-format package registry gateway",
		Long:    "Packgate mirrors upstream Git repositories as Composer and npm packages and serves a Docker registry. This binary contains all server components.",
		Version: bininfo.VersionOr("unknown"),
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			must(cmd.Help())
		},
	}

	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Server commands.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			must(cmd.Help())
		},
	}
	apicmd.AddCommandTo(serverCmd)
	janitorcmd.AddCommandTo(serverCmd)
	rootCmd.AddCommand(serverCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func must(err error) {
	if err != nil {
		logg.Fatal(err.Error())
	}
}
