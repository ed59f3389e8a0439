package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/conductorone/catalog-sync/pkg/config"
)

var version = "dev"

func newRootCommand() (*cobra.Command, error) {
	v, cmd, err := config.DefineConfiguration("catalog-sync", config.Schema)
	if err != nil {
		return nil, err
	}
	cmd.Version = version

	cmd.AddCommand(countCmd(v))
	cmd.AddCommand(productsCmd(v))
	cmd.AddCommand(variationsCmd(v))
	cmd.AddCommand(categoriesCmd(v))
	cmd.AddCommand(statusCmd(v))
	cmd.AddCommand(readinessCmd(v))
	cmd.AddCommand(statsCmd(v))
	cmd.AddCommand(resetCmd(v))
	cmd.AddCommand(exportCmd(v))
	cmd.AddCommand(testConnectionCmd(v))
	cmd.AddCommand(runCmd(v))

	return cmd, nil
}

func main() {
	ctx := context.Background()

	cmd, err := newRootCommand()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	err = cmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
