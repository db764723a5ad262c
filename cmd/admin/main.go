package main

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/awnumar/memguard"
	"github.com/ruteri/secure-element-agent/httpserver"
	"github.com/ruteri/secure-element-agent/kms"
	"github.com/urfave/cli/v2"
)

var flagAdminServer *cli.StringFlag = &cli.StringFlag{
	Name:  "admin-addr",
	Value: "http://127.0.0.1:8080/admin",
	Usage: "Admin API of the agent",
}
var flagAdminPrivkey *cli.StringFlag = &cli.StringFlag{
	Name:  "admin-privkey-file",
	Value: "admin-private.pem",
	Usage: "Path to admin private key",
}
var flagAdminPubkey *cli.StringFlag = &cli.StringFlag{
	Name:  "admin-pubkey-file",
	Value: "admin-public.pem",
	Usage: "Path to admin public key",
}
var flagAdminKeysFile *cli.StringFlag = &cli.StringFlag{
	Name:  "admin-keys-file",
	Value: "admin-keys.json",
	Usage: "Path of the admin keys file referenced by sealing.admin_keys_file",
}
var flagShareFile *cli.StringFlag = &cli.StringFlag{
	Name:  "share-file",
	Value: "share.json",
	Usage: "Path to this admin's share",
}
var flagThreshold *cli.IntFlag = &cli.IntFlag{
	Name:  "threshold",
	Value: 2,
	Usage: "Shares needed to unlock",
}
var flagTotal *cli.IntFlag = &cli.IntFlag{
	Name:  "total-shares",
	Value: 3,
	Usage: "Shares to generate",
}

// shareFile is the JSON form of one admin share.
type shareFile struct {
	ShareIndex int    `json:"share_index"`
	Share      []byte `json:"share"`
}

// adminID is the id an admin is listed under: the hex SHA-256 of its public
// key PEM.
func adminID(pubPEM []byte) string {
	sum := sha256.Sum256(pubPEM)
	return hex.EncodeToString(sum[:])
}

func loadAdmin(cCtx *cli.Context, baseURL string) (*httpserver.AdminClient, error) {
	pubPEM, err := os.ReadFile(cCtx.String(flagAdminPubkey.Name))
	if err != nil {
		return nil, err
	}
	privPEM, err := os.ReadFile(cCtx.String(flagAdminPrivkey.Name))
	if err != nil {
		return nil, err
	}
	key, err := httpserver.ParsePrivateKey(privPEM)
	if err != nil {
		return nil, err
	}
	return httpserver.NewAdminClient(baseURL, adminID(pubPEM), key), nil
}

func main() {
	app := &cli.App{
		Name:           "sea-admin",
		Usage:          "Manage the sealing key shares of secure element agents",
		DefaultCommand: "status",
		Commands: []*cli.Command{
			{
				Name:  "status",
				Usage: "show whether the agent is unlocked",
				Flags: []cli.Flag{flagAdminServer},
				Action: func(cCtx *cli.Context) error {
					status, err := httpserver.NewAdminClient(cCtx.String(flagAdminServer.Name), "", nil).Status(cCtx.Context)
					if err != nil {
						return err
					}
					fmt.Printf("state: %s\nthreshold: %d\nreceived shares: %v\n", status.State, status.Threshold, status.ReceivedShares)
					return nil
				},
			},
			{
				Name:  "generate-admin",
				Usage: "generate an admin key pair",
				Flags: []cli.Flag{flagAdminPrivkey, flagAdminPubkey},
				Action: func(cCtx *cli.Context) error {
					privPEM, pubPEM, err := httpserver.GenerateAdminKeyPair()
					if err != nil {
						return err
					}
					if err := os.WriteFile(cCtx.String(flagAdminPrivkey.Name), privPEM, 0600); err != nil {
						return err
					}
					return os.WriteFile(cCtx.String(flagAdminPubkey.Name), pubPEM, 0600)
				},
			},
			{
				Name:  "generate-admin-keys-file",
				Usage: "list admin public keys in the file the agent loads",
				Flags: []cli.Flag{
					flagAdminKeysFile,
					&cli.StringSliceFlag{Name: "admin-pubkey-files", Required: true},
				},
				Action: func(cCtx *cli.Context) error {
					type admin struct {
						ID     string `json:"id"`
						PubKey string `json:"pubkey"`
					}
					var file struct {
						Admins []admin `json:"admins"`
					}
					for _, path := range cCtx.StringSlice("admin-pubkey-files") {
						pubPEM, err := os.ReadFile(path)
						if err != nil {
							return err
						}
						file.Admins = append(file.Admins, admin{ID: adminID(pubPEM), PubKey: string(pubPEM)})
					}
					data, err := json.MarshalIndent(file, "", "  ")
					if err != nil {
						return err
					}
					return os.WriteFile(cCtx.String(flagAdminKeysFile.Name), data, 0600)
				},
			},
			{
				Name:  "split-master-key",
				Usage: "generate a sealing master key and write one share file per admin",
				Flags: []cli.Flag{
					flagThreshold,
					flagTotal,
					&cli.StringFlag{Name: "out-dir", Value: ".", Usage: "Directory for share-<index>.json files"},
				},
				Action: func(cCtx *cli.Context) error {
					masterKey := make([]byte, kms.MasterKeySize)
					defer memguard.WipeBytes(masterKey)
					if _, err := rand.Read(masterKey); err != nil {
						return err
					}
					shares, err := kms.SplitMasterKey(masterKey, cCtx.Int(flagThreshold.Name), cCtx.Int(flagTotal.Name))
					if err != nil {
						return err
					}
					for i, share := range shares {
						data, err := json.Marshal(shareFile{ShareIndex: i, Share: share})
						memguard.WipeBytes(share)
						if err != nil {
							return err
						}
						path := filepath.Join(cCtx.String("out-dir"), fmt.Sprintf("share-%d.json", i))
						if err := os.WriteFile(path, data, 0600); err != nil {
							return err
						}
						fmt.Println(path)
					}
					return nil
				},
			},
			{
				Name:  "submit-share",
				Usage: "submit this admin's share to a locked agent",
				Flags: []cli.Flag{flagAdminServer, flagAdminPrivkey, flagAdminPubkey, flagShareFile},
				Action: func(cCtx *cli.Context) error {
					adminClient, err := loadAdmin(cCtx, cCtx.String(flagAdminServer.Name))
					if err != nil {
						return err
					}
					data, err := os.ReadFile(cCtx.String(flagShareFile.Name))
					if err != nil {
						return err
					}
					var share shareFile
					if err := json.Unmarshal(data, &share); err != nil {
						return fmt.Errorf("invalid share file: %w", err)
					}
					defer memguard.WipeBytes(share.Share)

					unlocked, err := adminClient.SubmitShare(cCtx.Context, share.ShareIndex, share.Share)
					if err != nil {
						return err
					}
					if unlocked {
						fmt.Println("agent unlocked")
					} else {
						fmt.Println("share accepted, waiting for more shares")
					}
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
