package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/amankumarsingh77/av1-transcode-queue/pkg/utils"
	"github.com/spf13/cobra"
)

func newTokenCommand(ctx *commandContext) *cobra.Command {
	var (
		client string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the jobs API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := ctx.cfg().Server.JwtSecretKey
			if secret == "" {
				return errors.New("server.jwtSecretKey is not set")
			}
			token, err := utils.GenerateJWTToken(client, secret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&client, "client", "", "Name of the client the token is issued to")
	cmd.Flags().DurationVar(&ttl, "ttl", utils.TokenExpireDuration, "Token lifetime")
	_ = cmd.MarkFlagRequired("client")
	return cmd
}
