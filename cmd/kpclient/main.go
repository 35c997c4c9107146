package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/quiin/skip-key-provider/clients"
	"github.com/urfave/cli/v2"
)

var flagServerAddr *cli.StringFlag = &cli.StringFlag{
	Name:  "server-addr",
	Value: "http://127.0.0.1:8080",
	Usage: "Key provider address to request",
}
var flagRemoteSystemID *cli.StringFlag = &cli.StringFlag{
	Name:     "remote-system-id",
	Required: true,
	Usage:    "Remote system identifier to request the key for",
}
var flagKeySize *cli.IntFlag = &cli.IntFlag{
	Name:  "size",
	Usage: "Key size in bits (provider default when omitted)",
}
var flagMinEntropy *cli.IntFlag = &cli.IntFlag{
	Name:  "minentropy",
	Usage: "Bits of entropy to request (provider default when omitted)",
}

func main() {
	app := &cli.App{
		Name:  "kp-client",
		Usage: "Query a key provider instance",
		Flags: []cli.Flag{
			flagServerAddr,
		},
		Commands: []*cli.Command{
			{
				Name:        "capabilities",
				Description: "Fetch the provider's capability descriptor",
				Action: func(cCtx *cli.Context) error {
					desc, err := newClient(cCtx).Capabilities(cCtx.Context)
					if err != nil {
						return err
					}
					return printJSON(desc)
				},
			},
			{
				Name:        "new-key",
				Description: "Generate a key for a remote system",
				Flags:       []cli.Flag{flagRemoteSystemID, flagKeySize},
				Action: func(cCtx *cli.Context) error {
					key, err := newClient(cCtx).NewKey(cCtx.Context, cCtx.String(flagRemoteSystemID.Name), cCtx.Int(flagKeySize.Name))
					if err != nil {
						return err
					}
					return printJSON(key)
				},
			},
			{
				Name:        "get-key",
				Description: "Retrieve (and consume) a key by its identifier",
				ArgsUsage:   "<keyId>",
				Flags:       []cli.Flag{flagRemoteSystemID},
				Action: func(cCtx *cli.Context) error {
					if cCtx.NArg() != 1 {
						return fmt.Errorf("expected exactly one key ID argument")
					}
					key, err := newClient(cCtx).Key(cCtx.Context, cCtx.Args().First(), cCtx.String(flagRemoteSystemID.Name))
					if err != nil {
						return err
					}
					return printJSON(key)
				},
			},
			{
				Name:        "entropy",
				Description: "Fetch random data from the provider",
				Flags:       []cli.Flag{flagMinEntropy},
				Action: func(cCtx *cli.Context) error {
					result, err := newClient(cCtx).Entropy(cCtx.Context, cCtx.Int(flagMinEntropy.Name))
					if err != nil {
						return err
					}
					return printJSON(result)
				},
			},
			{
				Name:        "status",
				Description: "Fetch the provider's peer synchronization status",
				Action: func(cCtx *cli.Context) error {
					status, err := newClient(cCtx).SyncStatus(cCtx.Context)
					if err != nil {
						return err
					}
					return printJSON(status)
				},
			},
			{
				Name:        "health",
				Description: "Fetch the provider's health summary",
				Action: func(cCtx *cli.Context) error {
					health, err := newClient(cCtx).Health(cCtx.Context)
					if err != nil {
						return err
					}
					return printJSON(health)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newClient(cCtx *cli.Context) *clients.KPClient {
	return clients.NewKPClient(cCtx.String(flagServerAddr.Name))
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
